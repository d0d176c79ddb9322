package nn

import "math"

// ActivationType selects the nonlinearity applied after a layer's linear part.
type ActivationType int

const (
	ActivationNone      ActivationType = 0 // identity
	ActivationReLU      ActivationType = 1 // max(0, v)
	ActivationLeakyReLU ActivationType = 2 // v if v >= 0, else v * 0.2
	ActivationTanh      ActivationType = 3 // tanh(v)
	ActivationSigmoid   ActivationType = 4 // 1 / (1 + exp(-v))
)

const leakySlope = 0.2

// activate applies the activation function to a single value.
func activate(v float32, a ActivationType) float32 {
	switch a {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActivationLeakyReLU:
		if v < 0 {
			return v * leakySlope
		}
		return v
	case ActivationTanh:
		return float32(math.Tanh(float64(v)))
	case ActivationSigmoid:
		return 1.0 / (1.0 + float32(math.Exp(float64(-v))))
	default:
		return v
	}
}

// activateDerivative computes the derivative with respect to the
// pre-activation value.
func activateDerivative(pre float32, a ActivationType) float32 {
	switch a {
	case ActivationReLU:
		if pre > 0 {
			return 1
		}
		return 0
	case ActivationLeakyReLU:
		if pre >= 0 {
			return 1
		}
		return leakySlope
	case ActivationTanh:
		t := float32(math.Tanh(float64(pre)))
		return 1 - t*t
	case ActivationSigmoid:
		s := 1.0 / (1.0 + float32(math.Exp(float64(-pre))))
		return s * (1 - s)
	default:
		return 1
	}
}

// Tanh returns a new tensor with tanh applied element-wise. Output values lie
// in [-1, 1] for any finite input.
func Tanh(t *Tensor) *Tensor {
	out := NewTensor(t.N, t.C, t.H, t.W)
	for i, v := range t.Data {
		out.Data[i] = float32(math.Tanh(float64(v)))
	}
	return out
}

// Sigmoid returns a new tensor with the logistic function applied
// element-wise. Output values lie in [0, 1] for any finite input.
func Sigmoid(t *Tensor) *Tensor {
	out := NewTensor(t.N, t.C, t.H, t.W)
	for i, v := range t.Data {
		out.Data[i] = 1.0 / (1.0 + float32(math.Exp(float64(-v))))
	}
	return out
}
