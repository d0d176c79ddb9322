// Package warp provides stateless flow-field resampling for temporal
// consistency: given a source frame and a dense 2D motion field, it produces
// the motion-compensated prediction of the next frame.
package warp

import (
	"fmt"
	"math"

	"github.com/openfluke/vton/nn"
)

// Resample warps src by the dense flow field: each output pixel (x, y) is
// sampled bilinearly from src at (x + u, y + v), where u and v are the two
// flow channels. Samples outside the source are treated as zero. The flow
// tensor must have exactly two channels and match src's batch and spatial
// dimensions.
//
// The operation is differentiable and has no learned parameters.
func Resample(src, flow *nn.Tensor) (*nn.Tensor, error) {
	if flow.C != 2 {
		return nil, fmt.Errorf("warp: flow must have 2 channels, got %d", flow.C)
	}
	if src.N != flow.N || src.H != flow.H || src.W != flow.W {
		return nil, fmt.Errorf("warp: flow shape %s does not match source %s", flow.ShapeString(), src.ShapeString())
	}

	out := nn.NewTensor(src.N, src.C, src.H, src.W)
	for n := 0; n < src.N; n++ {
		for y := 0; y < src.H; y++ {
			for x := 0; x < src.W; x++ {
				sx := float64(x) + float64(flow.At(n, 0, y, x))
				sy := float64(y) + float64(flow.At(n, 1, y, x))

				x0 := int(math.Floor(sx))
				y0 := int(math.Floor(sy))
				fx := float32(sx - float64(x0))
				fy := float32(sy - float64(y0))

				for c := 0; c < src.C; c++ {
					v := sample(src, n, c, y0, x0)*(1-fx)*(1-fy) +
						sample(src, n, c, y0, x0+1)*fx*(1-fy) +
						sample(src, n, c, y0+1, x0)*(1-fx)*fy +
						sample(src, n, c, y0+1, x0+1)*fx*fy
					out.Set(n, c, y, x, v)
				}
			}
		}
	}
	return out, nil
}

// sample reads src at (y, x) with zero padding outside the bounds.
func sample(src *nn.Tensor, n, c, y, x int) float32 {
	if y < 0 || y >= src.H || x < 0 || x >= src.W {
		return 0
	}
	return src.At(n, c, y, x)
}
