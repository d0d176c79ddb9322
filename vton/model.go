package vton

import (
	"fmt"

	"github.com/openfluke/vton/nn"
	"github.com/openfluke/vton/warp"
)

// TryOnModel wraps the encoder-decoder generator with the compositing step
// that produces the final try-on image. The generator's weights are the only
// long-lived mutable state; everything else is per-call.
type TryOnModel struct {
	opts Options

	unet       *nn.UNet
	perceptual *nn.PerceptualLoss

	forwardCalls int
}

// ForwardResult carries the compositing outputs plus the intermediate tensors
// the backward pass needs.
type ForwardResult struct {
	Rendered *nn.Tensor // tanh-mapped rendered images, 3 channels per frame
	Masks    *nn.Tensor // sigmoid-mapped composite masks, 1 channel per frame
	TryOn    *nn.Tensor // final composite, 3 channels per frame

	renderedChunks []*nn.Tensor // per frame, 3 channels
	composedChunks []*nn.Tensor // rendered or flow-blended, per frame
	clothChunks    []*nn.Tensor
	maskChunks     []*nn.Tensor
	weights        *nn.Tensor   // sigmoid-mapped flow-blend weights, nil without flow warp
	warped         []*nn.Tensor // motion-compensated previous frame, nil without warp
}

// NewTryOnModel validates the configuration and builds the generator and the
// perceptual feature pyramid. Weights are initialized with the reproducible
// normal scheme.
func NewTryOnModel(opts Options) (*TryOnModel, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	unet, err := nn.NewUNet(nn.UNetConfig{
		InChannels:  opts.GeneratorInChannels(),
		OutChannels: opts.GeneratorOutChannels(),
		NumDowns:    opts.NumDowns,
		BaseWidth:   opts.GeneratorBaseWidth(),
		SelfAttn:    opts.SelfAttn,
	})
	if err != nil {
		return nil, err
	}
	m := &TryOnModel{
		opts:       opts,
		unet:       unet,
		perceptual: nn.NewPerceptualLoss(3*opts.NumFrames, opts.Seed+1),
	}
	nn.InitNormal(unet.Params(), opts.Seed)
	return m, nil
}

// Params exposes the learnable parameter set for the optimizer and for
// checkpointing. The perceptual pyramid is frozen and not included.
func (m *TryOnModel) Params() []*nn.Param {
	return m.unet.Params()
}

// AttachGPU accelerates generator convolutions with the given device.
func (m *TryOnModel) AttachGPU(g *nn.GPUContext) {
	m.unet.AttachGPU(g)
}

// LoadPerceptualWeights replaces the frozen feature pyramid with pretrained
// weights from a safetensors file.
func (m *TryOnModel) LoadPerceptualWeights(path string) error {
	return m.perceptual.LoadWeights(path)
}

// Forward runs the generator on the channel-concatenated person and cloth
// representations and composites the result:
//
//	rendered = tanh(generator rendered channels)
//	mask     = sigmoid(generator mask channels)
//	tryon    = cloth*mask + rendered*(1-mask)
//
// In flow-warp mode, when a flow field and previous frame are supplied, the
// rendered image is first blended with the motion-compensated previous frame
// using the sigmoid-mapped weight channels. A mask value of one keeps the
// warped cloth pixel unchanged; zero uses the generator's pixel.
func (m *TryOnModel) Forward(person, cloth, flow, prevIm *nn.Tensor) (*ForwardResult, error) {
	frames := m.opts.NumFrames
	if flow != nil && frames > 1 {
		return nil, fmt.Errorf("vton: flow warp supports a single frame only, got %d frames", frames)
	}
	wantPerson := m.opts.PersonChannels * frames
	wantCloth := m.opts.ClothChannels * frames
	if person.C != wantPerson {
		return nil, fmt.Errorf("vton: person representation has %d channels, expected %d", person.C, wantPerson)
	}
	if cloth.C != wantCloth {
		return nil, fmt.Errorf("vton: cloth representation has %d channels, expected %d", cloth.C, wantCloth)
	}
	if flow != nil {
		if flow.C != 2 {
			return nil, fmt.Errorf("vton: flow field has %d channels, expected 2", flow.C)
		}
		if flow.N != person.N || flow.H != person.H || flow.W != person.W {
			return nil, fmt.Errorf("vton: flow shape %s does not match input %s", flow.ShapeString(), person.ShapeString())
		}
	}
	if prevIm != nil {
		if prevIm.N != person.N || prevIm.C != 3*frames || prevIm.H != person.H || prevIm.W != person.W {
			return nil, fmt.Errorf("vton: previous frame shape %s does not match input [%d %d %d %d]",
				prevIm.ShapeString(), person.N, 3*frames, person.H, person.W)
		}
	}

	input, err := nn.ConcatChannels(person, cloth)
	if err != nil {
		return nil, err
	}

	m.forwardCalls++
	out, err := m.unet.Forward(input)
	if err != nil {
		return nil, err
	}

	// split the generator output into its channel groups
	boundary := 3 * frames
	weightBoundary := 4 * frames
	rawRendered, err := out.SliceChannels(0, boundary)
	if err != nil {
		return nil, err
	}
	rawMasks, err := out.SliceChannels(boundary, weightBoundary)
	if err != nil {
		return nil, err
	}

	res := &ForwardResult{
		Rendered: nn.Tanh(rawRendered),
		Masks:    nn.Sigmoid(rawMasks),
	}
	if m.opts.FlowWarp {
		rawWeights, err := out.SliceChannels(weightBoundary, out.C)
		if err != nil {
			return nil, err
		}
		res.weights = nn.Sigmoid(rawWeights)
	}

	if res.renderedChunks, err = res.Rendered.Chunk(frames); err != nil {
		return nil, err
	}
	if res.maskChunks, err = res.Masks.Chunk(frames); err != nil {
		return nil, err
	}
	if res.clothChunks, err = cloth.Chunk(frames); err != nil {
		return nil, err
	}

	res.composedChunks = res.renderedChunks
	if m.opts.FlowWarp && flow != nil && prevIm != nil {
		warped, err := warp.Resample(prevIm, flow)
		if err != nil {
			return nil, err
		}
		res.warped = []*nn.Tensor{warped}
		res.composedChunks = make([]*nn.Tensor, frames)
		for f := range res.composedChunks {
			res.composedChunks[f] = blendWarped(res.warped[f], res.renderedChunks[f], res.weights)
		}
	}

	tryons := make([]*nn.Tensor, frames)
	for f := 0; f < frames; f++ {
		tryons[f] = compositeFrame(res.clothChunks[f], res.composedChunks[f], res.maskChunks[f])
	}
	if res.TryOn, err = nn.ConcatChannels(tryons...); err != nil {
		return nil, err
	}
	return res, nil
}

// blendWarped computes (1-weight)*warped + weight*rendered with the
// single-channel weight broadcast across the image channels.
func blendWarped(warped, rendered, weight *nn.Tensor) *nn.Tensor {
	out := nn.NewTensor(rendered.N, rendered.C, rendered.H, rendered.W)
	plane := rendered.H * rendered.W
	for n := 0; n < rendered.N; n++ {
		wBase := n * plane
		for c := 0; c < rendered.C; c++ {
			base := (n*rendered.C + c) * plane
			for i := 0; i < plane; i++ {
				w := weight.Data[wBase+i]
				out.Data[base+i] = (1-w)*warped.Data[base+i] + w*rendered.Data[base+i]
			}
		}
	}
	return out
}

// compositeFrame computes cloth*mask + person*(1-mask) with the
// single-channel mask broadcast across the image channels.
func compositeFrame(cloth, person, mask *nn.Tensor) *nn.Tensor {
	out := nn.NewTensor(person.N, person.C, person.H, person.W)
	plane := person.H * person.W
	for n := 0; n < person.N; n++ {
		mBase := n * plane
		for c := 0; c < person.C; c++ {
			base := (n*person.C + c) * plane
			for i := 0; i < plane; i++ {
				mv := mask.Data[mBase+i]
				out.Data[base+i] = cloth.Data[base+i]*mv + person.Data[base+i]*(1-mv)
			}
		}
	}
	return out
}

// Backward propagates the try-on and mask gradients through the compositing
// step and the generator, accumulating parameter gradients. gradTryOn has 3
// channels per frame; gradMask has 1 channel per frame and may be nil when no
// mask loss is attached.
func (m *TryOnModel) Backward(res *ForwardResult, gradTryOn, gradMask *nn.Tensor) error {
	frames := m.opts.NumFrames
	tryonGrads, err := gradTryOn.Chunk(frames)
	if err != nil {
		return err
	}
	var maskGrads []*nn.Tensor
	if gradMask != nil {
		if maskGrads, err = gradMask.Chunk(frames); err != nil {
			return err
		}
	}

	renderGrads := make([]*nn.Tensor, frames)
	maskRawGrads := make([]*nn.Tensor, frames)
	var weightRawGrad *nn.Tensor

	plane := res.TryOn.H * res.TryOn.W
	batch := res.TryOn.N

	for f := 0; f < frames; f++ {
		cloth := res.clothChunks[f]
		composed := res.composedChunks[f]
		rendered := res.renderedChunks[f]
		mask := res.maskChunks[f]
		gT := tryonGrads[f]

		dMask := nn.NewTensor(batch, 1, mask.H, mask.W)
		dComposed := nn.NewTensor(batch, composed.C, composed.H, composed.W)

		for n := 0; n < batch; n++ {
			mBase := n * plane
			for c := 0; c < composed.C; c++ {
				base := (n*composed.C + c) * plane
				for i := 0; i < plane; i++ {
					g := gT.Data[base+i]
					dMask.Data[mBase+i] += g * (cloth.Data[base+i] - composed.Data[base+i])
					dComposed.Data[base+i] = g * (1 - mask.Data[mBase+i])
				}
			}
			if maskGrads != nil {
				gm := maskGrads[f]
				for i := 0; i < plane; i++ {
					dMask.Data[mBase+i] += gm.Data[mBase+i]
				}
			}
		}

		dRendered := dComposed
		if res.warped != nil {
			// composed = (1-w)*warped + w*rendered
			warped := res.warped[f]
			dWeight := nn.NewTensor(batch, 1, mask.H, mask.W)
			dRendered = nn.NewTensor(batch, rendered.C, rendered.H, rendered.W)
			for n := 0; n < batch; n++ {
				wBase := n * plane
				for c := 0; c < rendered.C; c++ {
					base := (n*rendered.C + c) * plane
					for i := 0; i < plane; i++ {
						g := dComposed.Data[base+i]
						w := res.weights.Data[wBase+i]
						dWeight.Data[wBase+i] += g * (rendered.Data[base+i] - warped.Data[base+i])
						dRendered.Data[base+i] = g * w
					}
				}
			}
			// through the weight sigmoid
			for i := range dWeight.Data {
				w := res.weights.Data[i]
				dWeight.Data[i] *= w * (1 - w)
			}
			weightRawGrad = dWeight
		}

		// through the rendered tanh and the mask sigmoid
		for i := range dRendered.Data {
			p := rendered.Data[i]
			dRendered.Data[i] *= 1 - p*p
		}
		for i := range dMask.Data {
			mv := mask.Data[i]
			dMask.Data[i] *= mv * (1 - mv)
		}
		renderGrads[f] = dRendered
		maskRawGrads[f] = dMask
	}

	parts := make([]*nn.Tensor, 0, 3)
	renderGrad, err := nn.ConcatChannels(renderGrads...)
	if err != nil {
		return err
	}
	maskGrad, err := nn.ConcatChannels(maskRawGrads...)
	if err != nil {
		return err
	}
	parts = append(parts, renderGrad, maskGrad)
	if m.opts.FlowWarp {
		if weightRawGrad == nil {
			// flow path unused this step; the weight channels get no signal
			weightRawGrad = nn.NewTensor(batch, m.opts.NumFrames, res.TryOn.H, res.TryOn.W)
		}
		parts = append(parts, weightRawGrad)
	}

	outGrad, err := nn.ConcatChannels(parts...)
	if err != nil {
		return err
	}
	_, err = m.unet.Backward(outGrad)
	return err
}

// PerceptualLoss measures feature-space distance between the try-on image and
// the ground truth.
func (m *TryOnModel) PerceptualLoss(pred, target *nn.Tensor) (float32, *nn.Tensor, error) {
	return m.perceptual.Loss(pred, target)
}

// ForwardCalls reports how many generator forward passes have run, which lets
// callers verify that cached inference steps performed none.
func (m *TryOnModel) ForwardCalls() int {
	return m.forwardCalls
}
