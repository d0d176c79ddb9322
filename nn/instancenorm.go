package nn

import (
	"fmt"
	"math"
)

// InstanceNorm normalizes each channel of each sample over its spatial extent,
// then applies a learned per-channel gain and shift. Unlike batch
// normalization it uses no cross-sample statistics, so inference behaves
// identically at any batch size.
type InstanceNorm struct {
	Channels int
	Eps      float32

	Gain  *Param
	Shift *Param

	// cached from the most recent forward pass
	lastNorm   *Tensor   // normalized values before gain/shift
	lastInvStd []float32 // per (n, c)
}

// NewInstanceNorm creates an instance normalization layer. Gains start at one
// so the layer is initially a no-op; InitNormal re-draws them around one.
func NewInstanceNorm(name string, channels int) *InstanceNorm {
	in := &InstanceNorm{
		Channels: channels,
		Eps:      1e-5,
		Gain:     NewParam(name+".gain", channels),
		Shift:    NewParam(name+".shift", channels),
	}
	for i := range in.Gain.Data {
		in.Gain.Data[i] = 1
	}
	return in
}

// Params returns the layer's learnable parameters.
func (in *InstanceNorm) Params() []*Param {
	return []*Param{in.Gain, in.Shift}
}

// Forward normalizes x per sample and channel.
func (in *InstanceNorm) Forward(x *Tensor) (*Tensor, error) {
	if x.C != in.Channels {
		return nil, fmt.Errorf("nn: instance norm %s expects %d channels, got %d", in.Gain.Name, in.Channels, x.C)
	}
	plane := x.H * x.W
	out := NewTensor(x.N, x.C, x.H, x.W)
	norm := NewTensor(x.N, x.C, x.H, x.W)
	invStd := make([]float32, x.N*x.C)

	for n := 0; n < x.N; n++ {
		for c := 0; c < x.C; c++ {
			base := (n*x.C + c) * plane

			var mean float64
			for i := 0; i < plane; i++ {
				mean += float64(x.Data[base+i])
			}
			mean /= float64(plane)

			var variance float64
			for i := 0; i < plane; i++ {
				d := float64(x.Data[base+i]) - mean
				variance += d * d
			}
			variance /= float64(plane)

			is := float32(1.0 / math.Sqrt(variance+float64(in.Eps)))
			invStd[n*x.C+c] = is

			g := in.Gain.Data[c]
			s := in.Shift.Data[c]
			for i := 0; i < plane; i++ {
				nv := (x.Data[base+i] - float32(mean)) * is
				norm.Data[base+i] = nv
				out.Data[base+i] = g*nv + s
			}
		}
	}

	in.lastNorm = norm
	in.lastInvStd = invStd
	return out, nil
}

// Backward propagates gradOut through the normalization, accumulating gain and
// shift gradients, and returns the gradient with respect to the input.
func (in *InstanceNorm) Backward(gradOut *Tensor) (*Tensor, error) {
	if in.lastNorm == nil {
		return nil, fmt.Errorf("nn: instance norm %s backward without forward", in.Gain.Name)
	}
	norm := in.lastNorm
	if !gradOut.SameShape(norm) {
		return nil, fmt.Errorf("nn: instance norm %s gradient shape %s does not match %s",
			in.Gain.Name, gradOut.ShapeString(), norm.ShapeString())
	}

	plane := norm.H * norm.W
	gradIn := NewTensor(norm.N, norm.C, norm.H, norm.W)

	for n := 0; n < norm.N; n++ {
		for c := 0; c < norm.C; c++ {
			base := (n*norm.C + c) * plane
			g := in.Gain.Data[c]
			is := in.lastInvStd[n*norm.C+c]

			// accumulate parameter gradients and the two reduction terms of
			// the normalization gradient
			var sumDy, sumDyXhat float64
			for i := 0; i < plane; i++ {
				dy := float64(gradOut.Data[base+i])
				xh := float64(norm.Data[base+i])
				in.Shift.Grad[c] += float32(dy)
				in.Gain.Grad[c] += float32(dy * xh)
				sumDy += dy * float64(g)
				sumDyXhat += dy * float64(g) * xh
			}
			meanDy := sumDy / float64(plane)
			meanDyXhat := sumDyXhat / float64(plane)

			for i := 0; i < plane; i++ {
				dxhat := float64(gradOut.Data[base+i]) * float64(g)
				xh := float64(norm.Data[base+i])
				gradIn.Data[base+i] = float32(float64(is) * (dxhat - meanDy - xh*meanDyXhat))
			}
		}
	}
	return gradIn, nil
}
