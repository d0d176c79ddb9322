package dataset

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	"github.com/openfluke/vton/nn"
	"github.com/openfluke/vton/vton"
)

// maskFields are stored as single-channel PNGs.
var maskFields = map[vton.Field]bool{
	vton.FieldClothMask:  true,
	vton.FieldSilhouette: true,
}

// DirSource reads samples from a directory tree. Each immediate subdirectory
// of the root is one sample holding a PNG per field, named after the field
// tag ("image.png", "cloth.png", "cloth_mask.png", ...). Images are scaled to
// the configured fine size on load. Next is safe for concurrent use.
type DirSource struct {
	root    string
	fields  []vton.Field
	width   int
	height  int
	batch   int
	samples []string
	next    int64
}

// NewDirSource scans root and prepares a source for the given fields. The
// sample list is sorted, so iteration order is stable for a single worker.
func NewDirSource(root string, fields []vton.Field, width, height, batchSize int) (*DirSource, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("dataset: read root: %w", err)
	}
	var samples []string
	for _, e := range entries {
		if e.IsDir() {
			samples = append(samples, e.Name())
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("dataset: no sample directories under %s", root)
	}
	sort.Strings(samples)
	if batchSize < 1 {
		batchSize = 1
	}
	return &DirSource{
		root:    root,
		fields:  fields,
		width:   width,
		height:  height,
		batch:   batchSize,
		samples: samples,
	}, nil
}

// Len reports the number of samples found at construction.
func (d *DirSource) Len() int { return len(d.samples) }

// Reset rewinds the source to the first sample.
func (d *DirSource) Reset() { atomic.StoreInt64(&d.next, 0) }

// Next assembles the next batch. Partial batches at the end of the sample
// list are returned as-is; after that Next returns io.EOF.
func (d *DirSource) Next() (*vton.Batch, error) {
	var names []string
	for len(names) < d.batch {
		i := atomic.AddInt64(&d.next, 1) - 1
		if int(i) >= len(d.samples) {
			break
		}
		names = append(names, d.samples[i])
	}
	if len(names) == 0 {
		return nil, io.EOF
	}

	b := &vton.Batch{Tensors: make(map[vton.Field]*nn.Tensor)}
	datasetName := filepath.Base(d.root)
	for _, name := range names {
		b.DatasetNames = append(b.DatasetNames, datasetName)
		b.ImageNames = append(b.ImageNames, name+".png")
	}

	for _, f := range d.fields {
		parts := make([]*nn.Tensor, 0, len(names))
		for _, name := range names {
			t, err := d.loadField(name, f)
			if err != nil {
				return nil, err
			}
			parts = append(parts, t)
		}
		t, err := stackSamples(parts)
		if err != nil {
			return nil, fmt.Errorf("dataset: field %q: %w", f, err)
		}
		b.Tensors[f] = t
	}
	return b, nil
}

func (d *DirSource) loadField(sample string, f vton.Field) (*nn.Tensor, error) {
	if f == vton.FieldFlow {
		return nil, fmt.Errorf("dataset: flow fields are 2-channel and need a custom source, not PNGs")
	}
	if f == vton.FieldCocopose {
		return d.loadHeatmaps(sample, f)
	}
	path := filepath.Join(d.root, sample, f.String()+".png")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer file.Close()
	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("dataset: decode %s: %w", path, err)
	}
	img = d.scale(img)
	if maskFields[f] {
		return vton.GrayToTensor(img), nil
	}
	return vton.ImageToTensor(img), nil
}

// loadHeatmaps reads a multi-channel field from a safetensors file. Heatmap
// stacks do not resample cleanly, so the stored shape must already match the
// configured fine size.
func (d *DirSource) loadHeatmaps(sample string, f vton.Field) (*nn.Tensor, error) {
	path := filepath.Join(d.root, sample, f.String()+".safetensors")
	tensors, shapes, err := nn.LoadSafetensors(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	data, ok := tensors[f.String()]
	if !ok {
		return nil, fmt.Errorf("dataset: %s has no tensor %q", path, f.String())
	}
	shape := shapes[f.String()]
	if len(shape) != 3 || shape[1] != d.height || shape[2] != d.width {
		return nil, fmt.Errorf("dataset: %s tensor %q has shape %v, want [C %d %d]",
			path, f.String(), shape, d.height, d.width)
	}
	if want := shape[0] * d.height * d.width; len(data) != want {
		return nil, fmt.Errorf("dataset: %s tensor %q has %d values, want %d",
			path, f.String(), len(data), want)
	}
	return nn.NewTensorFromSlice(data, 1, shape[0], d.height, d.width), nil
}

func (d *DirSource) scale(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == d.width && bounds.Dy() == d.height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}

// stackSamples joins size-1 batches along the batch axis.
func stackSamples(parts []*nn.Tensor) (*nn.Tensor, error) {
	first := parts[0]
	out := nn.NewTensor(len(parts), first.C, first.H, first.W)
	per := first.C * first.H * first.W
	for i, p := range parts {
		if p.C != first.C || p.H != first.H || p.W != first.W {
			return nil, fmt.Errorf("sample %d shape %s does not match %s", i, p.ShapeString(), first.ShapeString())
		}
		copy(out.Data[i*per:(i+1)*per], p.Data)
	}
	return out, nil
}
