package nn

import (
	"fmt"
	"math"
)

// L1Loss returns the mean absolute difference between pred and target and the
// gradient with respect to pred. The result is non-negative and finite for
// finite inputs.
func L1Loss(pred, target *Tensor) (float32, *Tensor, error) {
	if !pred.SameShape(target) {
		return 0, nil, fmt.Errorf("nn: l1 loss shape mismatch: %s vs %s", pred.ShapeString(), target.ShapeString())
	}
	n := float32(pred.Size())
	grad := NewTensor(pred.N, pred.C, pred.H, pred.W)
	var sum float64
	for i := range pred.Data {
		d := pred.Data[i] - target.Data[i]
		if d > 0 {
			sum += float64(d)
			grad.Data[i] = 1 / n
		} else if d < 0 {
			sum -= float64(d)
			grad.Data[i] = -1 / n
		}
	}
	return float32(sum) / n, grad, nil
}

// perceptualStage is one frozen conv+ReLU stage of the feature pyramid,
// followed by 2x average pooling before the next stage.
type perceptualStage struct {
	conv *Conv2D
}

// PerceptualLoss measures distance in the feature space of a frozen
// convolutional pyramid, a stand-in for a pretrained perceptual network.
// Stage weights can be loaded from a safetensors file; otherwise they are
// drawn from a fixed seed so runs remain comparable. Deeper stages weigh more,
// mirroring the usual perceptual weighting.
type PerceptualLoss struct {
	stages  []*perceptualStage
	weights []float32
}

var perceptualWidths = []int{16, 32, 64, 128, 128}

// NewPerceptualLoss builds the frozen feature pyramid for inputs with the
// given channel count.
func NewPerceptualLoss(inChannels int, seed uint64) *PerceptualLoss {
	p := &PerceptualLoss{
		weights: []float32{1.0 / 32, 1.0 / 16, 1.0 / 8, 1.0 / 4, 1.0},
	}
	inC := inChannels
	var params []*Param
	for i, w := range perceptualWidths {
		conv := NewConv2D(fmt.Sprintf("perceptual.stage%d", i), inC, w, 3, 1, 1, ActivationReLU)
		p.stages = append(p.stages, &perceptualStage{conv: conv})
		params = append(params, conv.Params()...)
		inC = w
	}
	InitNormal(params, seed)
	return p
}

// LoadWeights replaces the pyramid weights with tensors from a safetensors
// file, keyed by parameter name. Missing entries keep their seeded values.
func (p *PerceptualLoss) LoadWeights(path string) error {
	tensors, _, err := LoadSafetensors(path)
	if err != nil {
		return err
	}
	for _, s := range p.stages {
		for _, prm := range s.conv.Params() {
			data, ok := tensors[prm.Name]
			if !ok {
				continue
			}
			if len(data) != len(prm.Data) {
				return fmt.Errorf("nn: perceptual weight %s has %d values, expected %d", prm.Name, len(data), len(prm.Data))
			}
			copy(prm.Data, data)
		}
	}
	return nil
}

// Loss returns the weighted feature-space L1 distance between pred and target
// and the gradient with respect to pred. The pyramid itself is frozen: its
// parameters receive no updates.
func (p *PerceptualLoss) Loss(pred, target *Tensor) (float32, *Tensor, error) {
	if !pred.SameShape(target) {
		return 0, nil, fmt.Errorf("nn: perceptual loss shape mismatch: %s vs %s", pred.ShapeString(), target.ShapeString())
	}

	// target features first; the conv caches are then rewritten by the pred
	// pass so Backward differentiates the pred branch
	targetFeats := make([]*Tensor, len(p.stages))
	cur := target
	for i, s := range p.stages {
		f, err := s.conv.Forward(cur)
		if err != nil {
			return 0, nil, err
		}
		targetFeats[i] = f
		cur = avgPool2x(f)
	}

	predFeats := make([]*Tensor, len(p.stages))
	poolIn := make([]*Tensor, len(p.stages)) // feature map entering each pool
	cur = pred
	for i, s := range p.stages {
		f, err := s.conv.Forward(cur)
		if err != nil {
			return 0, nil, err
		}
		predFeats[i] = f
		poolIn[i] = f
		cur = avgPool2x(f)
	}

	var total float64
	featGrads := make([]*Tensor, len(p.stages))
	for i := range p.stages {
		l, g, err := L1Loss(predFeats[i], targetFeats[i])
		if err != nil {
			return 0, nil, err
		}
		total += float64(p.weights[i]) * float64(l)
		for j := range g.Data {
			g.Data[j] *= p.weights[i]
		}
		featGrads[i] = g
	}

	// walk the pyramid backward, folding in the pooled path from deeper stages
	var gradDeep *Tensor
	for i := len(p.stages) - 1; i >= 0; i-- {
		g := featGrads[i]
		if gradDeep != nil {
			pooled := avgPool2xBackward(gradDeep, poolIn[i].H, poolIn[i].W)
			for j := range g.Data {
				g.Data[j] += pooled.Data[j]
			}
		}
		gi, err := p.stages[i].conv.Backward(g)
		if err != nil {
			return 0, nil, err
		}
		// the pyramid is frozen; drop any accumulated parameter gradients
		p.stages[i].conv.Weight.ZeroGrad()
		p.stages[i].conv.Bias.ZeroGrad()
		gradDeep = gi
	}

	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, nil, fmt.Errorf("nn: perceptual loss is not finite")
	}
	return float32(total), gradDeep, nil
}
