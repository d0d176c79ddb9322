package vton

import (
	"fmt"
	"image"
	"log"

	"golang.org/x/image/draw"

	"github.com/openfluke/vton/nn"
)

const (
	rgbChannels  = 3
	maskChannels = 1
)

// personVisuals gathers the configured person-input tensors that can be
// rendered. Tensors with unexpected channel counts are logged and skipped,
// but finding none at all means the input selectors are misconfigured and is
// an error.
func (s *Stepper) personVisuals(b *Batch) ([]*nn.Tensor, error) {
	var visuals []*nn.Tensor
	for _, f := range s.Opts.PersonInputs {
		t, err := b.Get(f)
		if err != nil {
			return nil, err
		}
		channels := t.C
		if s.Opts.NumFrames > 1 {
			// show only the latest frame of a multi-frame stack
			channels = t.C / 2
			if t, err = t.SliceChannels(t.C-channels, t.C); err != nil {
				return nil, err
			}
		}
		if channels != rgbChannels && channels != maskChannels {
			log.Printf("vton: cannot visualize %q with %d channels, skipping it", f, channels)
			continue
		}
		visuals = append(visuals, t)
	}
	if len(visuals) == 0 {
		return nil, fmt.Errorf("vton: found no person-input tensors to visualize; check the configured input fields")
	}
	return visuals, nil
}

// scaleShift returns t*mul + add, used to bring [0,1] masks into the [-1,1]
// display range.
func scaleShift(t *nn.Tensor, mul, add float32) *nn.Tensor {
	out := nn.NewTensor(t.N, t.C, t.H, t.W)
	for i, v := range t.Data {
		out.Data[i] = v*mul + add
	}
	return out
}

// renderRow draws the first sample of each tensor side by side, scaled to a
// common cell size.
func renderRow(tensors []*nn.Tensor, cellH, cellW int) (image.Image, error) {
	row := image.NewRGBA(image.Rect(0, 0, cellW*len(tensors), cellH))
	for i, t := range tensors {
		img, err := TensorToImage(t, 0)
		if err != nil {
			return nil, err
		}
		cell := image.Rect(i*cellW, 0, (i+1)*cellW, cellH)
		draw.ApproxBiLinear.Scale(row, cell, img, img.Bounds(), draw.Src, nil)
	}
	return row, nil
}

// visualize assembles the visualization bundle and sends one grid row per
// image tag to the board.
func (s *Stepper) visualize(b *Batch, res *ForwardResult, tag string) error {
	person, err := s.personVisuals(b)
	if err != nil {
		return err
	}

	cloth, err := b.Get(FieldCloth)
	if err != nil {
		return err
	}
	clothMask, err := b.Get(FieldClothMask)
	if err != nil {
		return err
	}
	im, err := b.Get(FieldImage)
	if err != nil {
		return err
	}

	rows := [][]*nn.Tensor{
		person,
		{cloth, scaleShift(clothMask, 2, -1), scaleShift(res.Masks, 2, -1)},
		{res.Rendered, res.TryOn, im},
	}
	if prev, ok := b.Tensors[FieldPrevImage]; ok && prev != nil {
		rows[2] = append(rows[2], prev)
	}

	for i, row := range rows {
		img, err := renderRow(row, s.Opts.FineHeight, s.Opts.FineWidth)
		if err != nil {
			return err
		}
		s.Board.AddImage(fmt.Sprintf("%s/%03d", tag, i), img, s.globalStep)
	}
	return nil
}
