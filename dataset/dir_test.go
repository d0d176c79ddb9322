package dataset

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfluke/vton/nn"
	"github.com/openfluke/vton/vton"
)

func writePNG(t *testing.T, path string, c color.Color, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writeSampleDir(t *testing.T, root, name string, w, h int) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(dir, "image.png"), color.RGBA{R: 255, A: 255}, w, h)
	writePNG(t, filepath.Join(dir, "cloth.png"), color.RGBA{G: 255, A: 255}, w, h)
	writePNG(t, filepath.Join(dir, "cloth_mask.png"), color.White, w, h)
	writePNG(t, filepath.Join(dir, "agnostic.png"), color.RGBA{B: 255, A: 255}, w, h)
}

var dirFields = []vton.Field{vton.FieldImage, vton.FieldCloth, vton.FieldClothMask, vton.FieldAgnostic}

// TestDirSourceBatches verifies samples are loaded, scaled to the fine size
// and grouped into batches, with a partial batch at the tail.
func TestDirSourceBatches(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"000001", "000002", "000003"} {
		writeSampleDir(t, root, name, 8, 6) // stored smaller than the fine size
	}

	src, err := NewDirSource(root, dirFields, 16, 16, 2)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("Len = %d, want 3", src.Len())
	}

	b, err := src.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	im := b.Tensors[vton.FieldImage]
	if im.N != 2 || im.C != 3 || im.H != 16 || im.W != 16 {
		t.Errorf("Image tensor shape %s, want [2 3 16 16]", im.ShapeString())
	}
	cm := b.Tensors[vton.FieldClothMask]
	if cm.C != 1 {
		t.Errorf("Cloth mask channels = %d, want 1", cm.C)
	}
	if len(b.ImageNames) != 2 || b.ImageNames[0] != "000001.png" {
		t.Errorf("ImageNames = %v, want [000001.png 000002.png]", b.ImageNames)
	}

	// a red image maps to R=+1, G=B=-1
	if v := im.At(0, 0, 8, 8); v < 0.99 {
		t.Errorf("Red channel = %v, want ~1", v)
	}
	if v := im.At(0, 1, 8, 8); v > -0.99 {
		t.Errorf("Green channel = %v, want ~-1", v)
	}
	// the white mask maps to ~1 in [0,1]
	if v := cm.At(0, 0, 8, 8); v < 0.99 {
		t.Errorf("Mask value = %v, want ~1", v)
	}

	tail, err := src.Next()
	if err != nil {
		t.Fatalf("Next failed on the tail batch: %v", err)
	}
	if tail.Tensors[vton.FieldImage].N != 1 {
		t.Errorf("Tail batch size = %d, want 1", tail.Tensors[vton.FieldImage].N)
	}

	if _, err := src.Next(); err != io.EOF {
		t.Errorf("Next after exhaustion = %v, want io.EOF", err)
	}

	src.Reset()
	if _, err := src.Next(); err != nil {
		t.Errorf("Next after Reset failed: %v", err)
	}
}

// TestDirSourceHeatmaps verifies multi-channel fields load from safetensors
// files and reject mismatched shapes.
func TestDirSourceHeatmaps(t *testing.T) {
	root := t.TempDir()
	writeSampleDir(t, root, "000001", 4, 4)

	data := make([]float32, 18*4*4)
	data[0] = 0.5
	path := filepath.Join(root, "000001", "cocopose.safetensors")
	if err := nn.SaveSafetensors(path,
		map[string][]float32{"cocopose": data},
		map[string][]int{"cocopose": {18, 4, 4}},
	); err != nil {
		t.Fatalf("SaveSafetensors failed: %v", err)
	}

	src, err := NewDirSource(root, []vton.Field{vton.FieldCocopose}, 4, 4, 1)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	b, err := src.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	hm := b.Tensors[vton.FieldCocopose]
	if hm.C != 18 || hm.H != 4 || hm.W != 4 {
		t.Errorf("Heatmap shape %s, want [1 18 4 4]", hm.ShapeString())
	}
	if hm.Data[0] != 0.5 {
		t.Errorf("Heatmap value = %v, want 0.5", hm.Data[0])
	}

	// heatmaps are not resampled; a size mismatch must fail loudly
	bad, err := NewDirSource(root, []vton.Field{vton.FieldCocopose}, 8, 8, 1)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	if _, err := bad.Next(); err == nil {
		t.Error("Expected error loading heatmaps at the wrong size")
	}
}

// TestDirSourceTruncatedHeatmaps verifies a payload shorter than the declared
// shape surfaces as an error instead of crashing the loader.
func TestDirSourceTruncatedHeatmaps(t *testing.T) {
	root := t.TempDir()
	writeSampleDir(t, root, "000001", 4, 4)

	path := filepath.Join(root, "000001", "cocopose.safetensors")
	if err := nn.SaveSafetensors(path,
		map[string][]float32{"cocopose": make([]float32, 10)},
		map[string][]int{"cocopose": {18, 4, 4}},
	); err != nil {
		t.Fatalf("SaveSafetensors failed: %v", err)
	}

	src, err := NewDirSource(root, []vton.Field{vton.FieldCocopose}, 4, 4, 1)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	if _, err := src.Next(); err == nil {
		t.Error("Expected error for a truncated heatmap payload")
	}
}

// TestDirSourceMissingField verifies a missing file surfaces as an error.
func TestDirSourceMissingField(t *testing.T) {
	root := t.TempDir()
	writeSampleDir(t, root, "000001", 4, 4)

	src, err := NewDirSource(root, []vton.Field{vton.FieldDensepose}, 4, 4, 1)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	if _, err := src.Next(); err == nil {
		t.Error("Expected error for a sample missing densepose.png")
	}
}

// TestDirSourceRejectsFlow verifies flow fields cannot come from PNG trees.
func TestDirSourceRejectsFlow(t *testing.T) {
	root := t.TempDir()
	writeSampleDir(t, root, "000001", 4, 4)

	src, err := NewDirSource(root, []vton.Field{vton.FieldFlow}, 4, 4, 1)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	if _, err := src.Next(); err == nil {
		t.Error("Expected error requesting a flow field from a PNG source")
	}
}

// TestDirSourceEmptyRoot verifies construction fails without samples.
func TestDirSourceEmptyRoot(t *testing.T) {
	if _, err := NewDirSource(t.TempDir(), dirFields, 4, 4, 1); err == nil {
		t.Error("Expected error for a root without sample directories")
	}
}
