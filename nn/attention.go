package nn

import (
	"fmt"
	"math"
)

// SelfAttn2D is a self-attention stage over spatial positions. Query and key
// projections reduce to channels/8, the value projection keeps the channel
// width, and the attended output is added back through a learned scalar gate
// that starts at zero, so the stage is initially an identity.
type SelfAttn2D struct {
	Channels int

	query *Conv2D
	key   *Conv2D
	value *Conv2D
	Gamma *Param

	// cached from the most recent forward pass
	lastInput *Tensor
	lastQ     *Tensor
	lastK     *Tensor
	lastV     *Tensor
	lastO     *Tensor
	lastBeta  [][]float32 // per sample, HW*HW attention weights
}

// NewSelfAttn2D creates a self-attention stage for the given channel width.
func NewSelfAttn2D(name string, channels int) (*SelfAttn2D, error) {
	if channels < 8 {
		return nil, fmt.Errorf("nn: self-attention needs at least 8 channels, got %d", channels)
	}
	inner := channels / 8
	return &SelfAttn2D{
		Channels: channels,
		query:    NewConv2D(name+".query", channels, inner, 1, 1, 0, ActivationNone),
		key:      NewConv2D(name+".key", channels, inner, 1, 1, 0, ActivationNone),
		value:    NewConv2D(name+".value", channels, channels, 1, 1, 0, ActivationNone),
		Gamma:    NewParam(name+".gamma", 1),
	}, nil
}

// Params returns the stage's learnable parameters.
func (a *SelfAttn2D) Params() []*Param {
	var out []*Param
	out = append(out, a.query.Params()...)
	out = append(out, a.key.Params()...)
	out = append(out, a.value.Params()...)
	out = append(out, a.Gamma)
	return out
}

// Forward computes x + gamma * attend(x).
func (a *SelfAttn2D) Forward(x *Tensor) (*Tensor, error) {
	if x.C != a.Channels {
		return nil, fmt.Errorf("nn: self-attention expects %d channels, got %d", a.Channels, x.C)
	}
	q, err := a.query.Forward(x)
	if err != nil {
		return nil, err
	}
	k, err := a.key.Forward(x)
	if err != nil {
		return nil, err
	}
	v, err := a.value.Forward(x)
	if err != nil {
		return nil, err
	}

	hw := x.H * x.W
	inner := q.C
	o := NewTensor(x.N, x.C, x.H, x.W)
	beta := make([][]float32, x.N)

	for n := 0; n < x.N; n++ {
		b := make([]float32, hw*hw)
		// affinity scores between all position pairs
		for i := 0; i < hw; i++ {
			rowMax := float32(math.Inf(-1))
			for j := 0; j < hw; j++ {
				var s float32
				for c := 0; c < inner; c++ {
					s += q.Data[(n*inner+c)*hw+i] * k.Data[(n*inner+c)*hw+j]
				}
				b[i*hw+j] = s
				if s > rowMax {
					rowMax = s
				}
			}
			// softmax over j
			var sum float32
			for j := 0; j < hw; j++ {
				e := float32(math.Exp(float64(b[i*hw+j] - rowMax)))
				b[i*hw+j] = e
				sum += e
			}
			for j := 0; j < hw; j++ {
				b[i*hw+j] /= sum
			}
		}
		beta[n] = b

		for c := 0; c < x.C; c++ {
			vRow := (n*x.C + c) * hw
			for i := 0; i < hw; i++ {
				var s float32
				for j := 0; j < hw; j++ {
					s += v.Data[vRow+j] * b[i*hw+j]
				}
				o.Data[vRow+i] = s
			}
		}
	}

	a.lastInput = x
	a.lastQ = q
	a.lastK = k
	a.lastV = v
	a.lastO = o
	a.lastBeta = beta

	gamma := a.Gamma.Data[0]
	out := NewTensor(x.N, x.C, x.H, x.W)
	for i := range out.Data {
		out.Data[i] = x.Data[i] + gamma*o.Data[i]
	}
	return out, nil
}

// Backward propagates gradOut through the attention stage and returns the
// gradient with respect to the input.
func (a *SelfAttn2D) Backward(gradOut *Tensor) (*Tensor, error) {
	if a.lastInput == nil {
		return nil, fmt.Errorf("nn: self-attention backward without forward")
	}
	x := a.lastInput
	hw := x.H * x.W
	inner := a.lastQ.C
	gamma := a.Gamma.Data[0]

	// gate gradient
	var gGamma float64
	for i := range gradOut.Data {
		gGamma += float64(gradOut.Data[i]) * float64(a.lastO.Data[i])
	}
	a.Gamma.Grad[0] += float32(gGamma)

	dQ := NewTensor(x.N, inner, x.H, x.W)
	dK := NewTensor(x.N, inner, x.H, x.W)
	dV := NewTensor(x.N, x.C, x.H, x.W)

	for n := 0; n < x.N; n++ {
		b := a.lastBeta[n]

		// dBeta[i][j] = sum_c gamma * dOut[c][i] * v[c][j]
		dBeta := make([]float32, hw*hw)
		for c := 0; c < x.C; c++ {
			row := (n*x.C + c) * hw
			for i := 0; i < hw; i++ {
				do := gamma * gradOut.Data[row+i]
				if do == 0 {
					continue
				}
				for j := 0; j < hw; j++ {
					dBeta[i*hw+j] += do * a.lastV.Data[row+j]
					dV.Data[row+j] += do * b[i*hw+j]
				}
			}
		}

		// softmax backward per row i
		dS := make([]float32, hw*hw)
		for i := 0; i < hw; i++ {
			var dot float32
			for j := 0; j < hw; j++ {
				dot += dBeta[i*hw+j] * b[i*hw+j]
			}
			for j := 0; j < hw; j++ {
				dS[i*hw+j] = b[i*hw+j] * (dBeta[i*hw+j] - dot)
			}
		}

		for c := 0; c < inner; c++ {
			qRow := (n*inner + c) * hw
			for i := 0; i < hw; i++ {
				for j := 0; j < hw; j++ {
					ds := dS[i*hw+j]
					dQ.Data[qRow+i] += ds * a.lastK.Data[qRow+j]
					dK.Data[qRow+j] += ds * a.lastQ.Data[qRow+i]
				}
			}
		}
	}

	gradIn := gradOut.Clone()
	for _, pair := range []struct {
		conv *Conv2D
		grad *Tensor
	}{{a.query, dQ}, {a.key, dK}, {a.value, dV}} {
		g, err := pair.conv.Backward(pair.grad)
		if err != nil {
			return nil, err
		}
		for i := range gradIn.Data {
			gradIn.Data[i] += g.Data[i]
		}
	}
	return gradIn, nil
}
