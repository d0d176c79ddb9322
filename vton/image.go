package vton

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/openfluke/vton/nn"
)

// clampByte maps a value in [-1, 1] to [0, 255].
func clampByte(v float32) uint8 {
	scaled := (v + 1) * 127.5
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}

// TensorToImage renders sample n of a tensor as an RGBA image, mapping values
// from [-1, 1] to [0, 255]. Three-channel tensors are read as RGB; a single
// channel is replicated to gray. Only the first three channels are used
// otherwise.
func TensorToImage(t *nn.Tensor, n int) (*image.RGBA, error) {
	if n < 0 || n >= t.N {
		return nil, fmt.Errorf("vton: sample index %d out of range for batch of %d", n, t.N)
	}
	if t.C < 1 {
		return nil, fmt.Errorf("vton: tensor has no channels to render")
	}
	img := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			var r, g, b uint8
			if t.C >= 3 {
				r = clampByte(t.At(n, 0, y, x))
				g = clampByte(t.At(n, 1, y, x))
				b = clampByte(t.At(n, 2, y, x))
			} else {
				v := clampByte(t.At(n, 0, y, x))
				r, g, b = v, v, v
			}
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img, nil
}

// ImageToTensor converts an image to a [1, 3, H, W] tensor with values mapped
// from [0, 255] to [-1, 1].
func ImageToTensor(img image.Image) *nn.Tensor {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	t := nn.NewTensor(1, 3, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			t.Set(0, 0, y, x, float32(r>>8)/127.5-1)
			t.Set(0, 1, y, x, float32(g>>8)/127.5-1)
			t.Set(0, 2, y, x, float32(b>>8)/127.5-1)
		}
	}
	return t
}

// GrayToTensor converts an image to a single-channel [1, 1, H, W] tensor with
// luminance mapped from [0, 255] to [0, 1]. Masks stay in [0, 1] so they are
// directly comparable with sigmoid outputs.
func GrayToTensor(img image.Image) *nn.Tensor {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	t := nn.NewTensor(1, 1, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			t.Set(0, 0, y, x, float32(gray.Y)/255)
		}
	}
	return t
}

// SaveImage writes sample n of a tensor as a PNG file, creating parent
// directories as needed.
func SaveImage(t *nn.Tensor, n int, path string) error {
	img, err := TensorToImage(t, n)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("vton: failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vton: failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("vton: failed to encode %s: %w", path, err)
	}
	return nil
}
