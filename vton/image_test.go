package vton

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

// TestImageTensorRoundTrip verifies pixel values survive the image to tensor
// to image round trip within quantization error.
func TestImageTensorRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 100), B: 200, A: 255})
		}
	}

	tensor := ImageToTensor(src)
	if tensor.C != 3 || tensor.H != 2 || tensor.W != 4 {
		t.Fatalf("Tensor shape %s, want [1 3 2 4]", tensor.ShapeString())
	}

	back, err := TensorToImage(tensor, 0)
	if err != nil {
		t.Fatalf("TensorToImage failed: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			want := src.RGBAAt(x, y)
			got := back.RGBAAt(x, y)
			if delta(got.R, want.R) > 1 || delta(got.G, want.G) > 1 || delta(got.B, want.B) > 1 {
				t.Fatalf("Pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func delta(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// TestGrayToTensorRange verifies masks land in [0, 1].
func TestGrayToTensorRange(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(1, 0, color.Gray{Y: 255})

	tensor := GrayToTensor(img)
	if tensor.At(0, 0, 0, 0) != 0 {
		t.Errorf("Black maps to %v, want 0", tensor.At(0, 0, 0, 0))
	}
	if tensor.At(0, 0, 0, 1) != 1 {
		t.Errorf("White maps to %v, want 1", tensor.At(0, 0, 0, 1))
	}
}

// TestTensorToImageSampleBounds verifies the batch index check.
func TestTensorToImageSampleBounds(t *testing.T) {
	im := testBatch(4, 4).Tensors[FieldImage]
	if _, err := TensorToImage(im, 1); err == nil {
		t.Error("Expected error for a sample index past the batch size")
	}
	if _, err := TensorToImage(im, -1); err == nil {
		t.Error("Expected error for a negative sample index")
	}
}

// TestSaveImageCreatesDirectories verifies nested output paths are created.
func TestSaveImageCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "out.png")
	im := testBatch(4, 4).Tensors[FieldImage]
	if err := SaveImage(im, 0, path); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected file at %s: %v", path, err)
	}
}
