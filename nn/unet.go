package nn

import "fmt"

// UNetConfig describes the encoder-decoder generator.
type UNetConfig struct {
	InChannels  int
	OutChannels int
	NumDowns    int  // downsampling depth; input H and W must be divisible by 2^NumDowns
	BaseWidth   int  // feature width of the outermost level
	SelfAttn    bool // add a self-attention stage at the innermost resolution
}

// activationLayer applies a pointwise nonlinearity with its own backward pass,
// used where a layer sequence separates convolution and activation by a
// normalization stage.
type activationLayer struct {
	typ     ActivationType
	lastPre *Tensor
}

func (l *activationLayer) forward(x *Tensor) *Tensor {
	l.lastPre = x
	out := NewTensor(x.N, x.C, x.H, x.W)
	for i, v := range x.Data {
		out.Data[i] = activate(v, l.typ)
	}
	return out
}

func (l *activationLayer) backward(gradOut *Tensor) *Tensor {
	gradIn := NewTensor(gradOut.N, gradOut.C, gradOut.H, gradOut.W)
	for i, g := range gradOut.Data {
		gradIn.Data[i] = g * activateDerivative(l.lastPre.Data[i], l.typ)
	}
	return gradIn
}

type unetEncBlock struct {
	conv *Conv2D
	norm *InstanceNorm // nil on the outermost block
	act  *activationLayer
}

type unetDecBlock struct {
	conv    *Conv2D
	norm    *InstanceNorm
	act     *activationLayer
	inWidth int // channel width entering the block, before skip concatenation
}

// UNet is an encoder-decoder generator with skip connections. Encoder blocks
// downsample by stride-2 convolution with LeakyReLU; decoder blocks upsample
// by nearest-neighbor doubling, concatenate the matching encoder features and
// convolve with ReLU. The final convolution maps to OutChannels without a
// nonlinearity; callers apply their own output mapping.
type UNet struct {
	Config UNetConfig

	enc   []*unetEncBlock
	dec   []*unetDecBlock
	attn  *SelfAttn2D
	final *Conv2D

	// encoder outputs of the most recent forward pass, for skip connections
	skips []*Tensor
}

// NewUNet builds the generator. Channel widths double per level and cap at
// eight times the base width.
func NewUNet(cfg UNetConfig) (*UNet, error) {
	if cfg.InChannels <= 0 || cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("nn: unet channel counts must be positive, got in=%d out=%d", cfg.InChannels, cfg.OutChannels)
	}
	if cfg.NumDowns < 2 {
		return nil, fmt.Errorf("nn: unet needs at least 2 downsampling levels, got %d", cfg.NumDowns)
	}
	if cfg.BaseWidth <= 0 {
		return nil, fmt.Errorf("nn: unet base width must be positive, got %d", cfg.BaseWidth)
	}

	widths := make([]int, cfg.NumDowns)
	for i := range widths {
		mult := 1 << i
		if mult > 8 {
			mult = 8
		}
		widths[i] = cfg.BaseWidth * mult
	}

	u := &UNet{Config: cfg}

	inC := cfg.InChannels
	for i := 0; i < cfg.NumDowns; i++ {
		name := fmt.Sprintf("unet.enc%d", i)
		blk := &unetEncBlock{
			conv: NewConv2D(name, inC, widths[i], 4, 2, 1, ActivationNone),
			act:  &activationLayer{typ: ActivationLeakyReLU},
		}
		if i > 0 {
			blk.norm = NewInstanceNorm(name, widths[i])
		}
		u.enc = append(u.enc, blk)
		inC = widths[i]
	}

	if cfg.SelfAttn {
		attn, err := NewSelfAttn2D("unet.attn", widths[cfg.NumDowns-1])
		if err != nil {
			return nil, err
		}
		u.attn = attn
	}

	// decoder blocks run from the innermost level outward
	for i := cfg.NumDowns - 1; i >= 1; i-- {
		name := fmt.Sprintf("unet.dec%d", i)
		cur := widths[i]
		u.dec = append(u.dec, &unetDecBlock{
			conv:    NewConv2D(name, cur+widths[i-1], widths[i-1], 3, 1, 1, ActivationNone),
			norm:    NewInstanceNorm(name, widths[i-1]),
			act:     &activationLayer{typ: ActivationReLU},
			inWidth: cur,
		})
	}
	u.final = NewConv2D("unet.out", widths[0], cfg.OutChannels, 3, 1, 1, ActivationNone)
	return u, nil
}

// Params returns every learnable parameter in a stable order.
func (u *UNet) Params() []*Param {
	var out []*Param
	for _, b := range u.enc {
		out = append(out, b.conv.Params()...)
		if b.norm != nil {
			out = append(out, b.norm.Params()...)
		}
	}
	if u.attn != nil {
		out = append(out, u.attn.Params()...)
	}
	for _, b := range u.dec {
		out = append(out, b.conv.Params()...)
		out = append(out, b.norm.Params()...)
	}
	out = append(out, u.final.Params()...)
	return out
}

// AttachGPU routes every convolution's forward pass through the GPU context.
func (u *UNet) AttachGPU(g *GPUContext) {
	for _, b := range u.enc {
		b.conv.AttachGPU(g)
	}
	for _, b := range u.dec {
		b.conv.AttachGPU(g)
	}
	u.final.AttachGPU(g)
}

// Forward runs the generator. The input must have exactly the configured
// channel count and spatial dimensions divisible by 2^NumDowns.
func (u *UNet) Forward(x *Tensor) (*Tensor, error) {
	if x.C != u.Config.InChannels {
		return nil, fmt.Errorf("nn: unet expects %d input channels, got %d", u.Config.InChannels, x.C)
	}
	step := 1 << u.Config.NumDowns
	if x.H%step != 0 || x.W%step != 0 {
		return nil, fmt.Errorf("nn: unet input %dx%d not divisible by %d", x.H, x.W, step)
	}

	u.skips = u.skips[:0]
	cur := x
	for _, b := range u.enc {
		out, err := b.conv.Forward(cur)
		if err != nil {
			return nil, err
		}
		if b.norm != nil {
			out, err = b.norm.Forward(out)
			if err != nil {
				return nil, err
			}
		}
		cur = b.act.forward(out)
		u.skips = append(u.skips, cur)
	}

	if u.attn != nil {
		out, err := u.attn.Forward(cur)
		if err != nil {
			return nil, err
		}
		cur = out
	}

	for di, b := range u.dec {
		up := upsampleNearest2x(cur)
		skip := u.skips[len(u.skips)-2-di]
		cat, err := ConcatChannels(up, skip)
		if err != nil {
			return nil, err
		}
		out, err := b.conv.Forward(cat)
		if err != nil {
			return nil, err
		}
		out, err = b.norm.Forward(out)
		if err != nil {
			return nil, err
		}
		cur = b.act.forward(out)
	}

	up := upsampleNearest2x(cur)
	return u.final.Forward(up)
}

// Backward propagates the output gradient through the generator, accumulating
// parameter gradients, and returns the gradient with respect to the input.
// Must follow a Forward call.
func (u *UNet) Backward(gradOut *Tensor) (*Tensor, error) {
	if len(u.skips) != len(u.enc) {
		return nil, fmt.Errorf("nn: unet backward without forward")
	}

	g, err := u.final.Backward(gradOut)
	if err != nil {
		return nil, err
	}
	g = upsampleNearest2xBackward(g)

	// gradients flowing into each encoder output through its skip connection
	skipGrads := make([]*Tensor, len(u.enc))

	for di := len(u.dec) - 1; di >= 0; di-- {
		b := u.dec[di]
		g = b.act.backward(g)
		if g, err = b.norm.Backward(g); err != nil {
			return nil, err
		}
		if g, err = b.conv.Backward(g); err != nil {
			return nil, err
		}
		gUp, err := g.SliceChannels(0, b.inWidth)
		if err != nil {
			return nil, err
		}
		gSkip, err := g.SliceChannels(b.inWidth, g.C)
		if err != nil {
			return nil, err
		}
		skipIdx := len(u.skips) - 2 - di
		if skipGrads[skipIdx] == nil {
			skipGrads[skipIdx] = gSkip
		} else {
			for i := range skipGrads[skipIdx].Data {
				skipGrads[skipIdx].Data[i] += gSkip.Data[i]
			}
		}
		g = upsampleNearest2xBackward(gUp)
	}

	if u.attn != nil {
		if g, err = u.attn.Backward(g); err != nil {
			return nil, err
		}
	}

	for i := len(u.enc) - 1; i >= 0; i-- {
		if skipGrads[i] != nil {
			for j := range g.Data {
				g.Data[j] += skipGrads[i].Data[j]
			}
		}
		b := u.enc[i]
		g = b.act.backward(g)
		if b.norm != nil {
			if g, err = b.norm.Backward(g); err != nil {
				return nil, err
			}
		}
		if g, err = b.conv.Backward(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}
