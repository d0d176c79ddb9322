package nn

import "fmt"

// Conv2D is a 2D convolution layer with square kernels and symmetric padding.
// Weight layout is [outC][inC][kH][kW] flattened; bias is [outC].
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
	Activation  ActivationType

	Weight *Param
	Bias   *Param

	// gpu, when set, accelerates the forward pass. Backward stays on CPU.
	gpu *GPUContext

	// cached from the most recent forward pass
	lastInput *Tensor
	lastPre   *Tensor
}

// NewConv2D creates a convolution layer with zeroed weights. Call InitNormal
// on the model's parameter set before training.
func NewConv2D(name string, inC, outC, kernel, stride, padding int, act ActivationType) *Conv2D {
	return &Conv2D{
		InChannels:  inC,
		OutChannels: outC,
		KernelSize:  kernel,
		Stride:      stride,
		Padding:     padding,
		Activation:  act,
		Weight:      NewParam(name+".weight", outC*inC*kernel*kernel),
		Bias:        NewParam(name+".bias", outC),
	}
}

// OutSize computes the spatial output dimensions for an input of h by w.
func (c *Conv2D) OutSize(h, w int) (int, int) {
	outH := (h+2*c.Padding-c.KernelSize)/c.Stride + 1
	outW := (w+2*c.Padding-c.KernelSize)/c.Stride + 1
	return outH, outW
}

// Params returns the layer's learnable parameters.
func (c *Conv2D) Params() []*Param {
	return []*Param{c.Weight, c.Bias}
}

// AttachGPU routes the forward pass through the given GPU context.
func (c *Conv2D) AttachGPU(g *GPUContext) {
	c.gpu = g
}

// Forward convolves the input and applies the layer activation. The input and
// the pre-activation output are cached for Backward.
func (c *Conv2D) Forward(x *Tensor) (*Tensor, error) {
	if x.C != c.InChannels {
		return nil, fmt.Errorf("nn: conv %s expects %d input channels, got %d", c.Weight.Name, c.InChannels, x.C)
	}

	var pre *Tensor
	if c.gpu != nil {
		gpuPre, err := convForwardGPU(c.gpu, x, c)
		if err != nil {
			return nil, fmt.Errorf("nn: gpu conv forward: %w", err)
		}
		pre = gpuPre
	} else {
		pre = c.forwardCPU(x)
	}

	c.lastInput = x
	c.lastPre = pre

	out := NewTensor(pre.N, pre.C, pre.H, pre.W)
	for i, v := range pre.Data {
		out.Data[i] = activate(v, c.Activation)
	}
	return out, nil
}

func (c *Conv2D) forwardCPU(x *Tensor) *Tensor {
	outH, outW := c.OutSize(x.H, x.W)
	pre := NewTensor(x.N, c.OutChannels, outH, outW)

	k := c.KernelSize
	for n := 0; n < x.N; n++ {
		for f := 0; f < c.OutChannels; f++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					sum := c.Bias.Data[f]
					for ic := 0; ic < x.C; ic++ {
						for ky := 0; ky < k; ky++ {
							iy := oy*c.Stride + ky - c.Padding
							if iy < 0 || iy >= x.H {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ix := ox*c.Stride + kx - c.Padding
								if ix < 0 || ix >= x.W {
									continue
								}
								inIdx := ((n*x.C+ic)*x.H+iy)*x.W + ix
								wIdx := ((f*x.C+ic)*k+ky)*k + kx
								sum += x.Data[inIdx] * c.Weight.Data[wIdx]
							}
						}
					}
					pre.Data[((n*c.OutChannels+f)*outH+oy)*outW+ox] = sum
				}
			}
		}
	}
	return pre
}

// Backward propagates gradOut through the activation and the convolution,
// accumulating weight and bias gradients, and returns the gradient with
// respect to the layer input. Must follow a Forward call.
func (c *Conv2D) Backward(gradOut *Tensor) (*Tensor, error) {
	if c.lastInput == nil || c.lastPre == nil {
		return nil, fmt.Errorf("nn: conv %s backward without forward", c.Weight.Name)
	}
	x := c.lastInput
	pre := c.lastPre
	if !gradOut.SameShape(pre) {
		return nil, fmt.Errorf("nn: conv %s gradient shape %s does not match output %s",
			c.Weight.Name, gradOut.ShapeString(), pre.ShapeString())
	}

	gradIn := NewTensor(x.N, x.C, x.H, x.W)
	k := c.KernelSize
	outH, outW := pre.H, pre.W

	for n := 0; n < x.N; n++ {
		for f := 0; f < c.OutChannels; f++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					outIdx := ((n*c.OutChannels+f)*outH+oy)*outW + ox
					g := gradOut.Data[outIdx] * activateDerivative(pre.Data[outIdx], c.Activation)
					if g == 0 {
						continue
					}
					c.Bias.Grad[f] += g
					for ic := 0; ic < x.C; ic++ {
						for ky := 0; ky < k; ky++ {
							iy := oy*c.Stride + ky - c.Padding
							if iy < 0 || iy >= x.H {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ix := ox*c.Stride + kx - c.Padding
								if ix < 0 || ix >= x.W {
									continue
								}
								inIdx := ((n*x.C+ic)*x.H+iy)*x.W + ix
								wIdx := ((f*x.C+ic)*k+ky)*k + kx
								gradIn.Data[inIdx] += g * c.Weight.Data[wIdx]
								c.Weight.Grad[wIdx] += g * x.Data[inIdx]
							}
						}
					}
				}
			}
		}
	}
	return gradIn, nil
}
