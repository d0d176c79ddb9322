package vton

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfluke/vton/board"
	"github.com/openfluke/vton/nn"
)

// StepResult reports one training step's loss terms and logging state. Each
// term is independently retrievable for logging.
type StepResult struct {
	Loss           float32
	LossImageL1    float32
	LossPerceptual float32
	LossMaskL1     float32
	LR             float32
	GlobalStep     int
	Visualized     bool
}

// InferResult reports one inference step. When every expected output already
// existed, Skipped is true and no forward pass was performed.
type InferResult struct {
	Skipped bool
	Paths   []string
}

// Stepper orchestrates training and inference steps. A process uses it in one
// mode only. Steps run strictly sequentially; weights are mutated only
// between steps, so the stepper needs no internal locking.
type Stepper struct {
	Opts      Options
	Model     *TryOnModel
	Board     board.Board
	Optimizer nn.Optimizer
	Scheduler nn.LRScheduler

	globalStep int
	epoch      int
}

// NewStepper wires the step controller. A nil logging board is replaced with
// a no-op board.
func NewStepper(opts Options, model *TryOnModel, b board.Board, opt nn.Optimizer, sched nn.LRScheduler) *Stepper {
	if b == nil {
		b = board.Nop{}
	}
	return &Stepper{
		Opts:      opts,
		Model:     model,
		Board:     b,
		Optimizer: opt,
		Scheduler: sched,
	}
}

// SetEpoch updates the epoch used for learning-rate scheduling and logging.
func (s *Stepper) SetEpoch(e int) {
	s.epoch = e
}

// GlobalStep returns the number of completed training steps.
func (s *Stepper) GlobalStep() int {
	return s.globalStep
}

// Epoch returns the current scheduling epoch.
func (s *Stepper) Epoch() int {
	return s.epoch
}

// RestoreCounters resumes the step and epoch counters from a checkpoint.
func (s *Stepper) RestoreCounters(c *nn.Checkpoint) {
	s.globalStep = c.GlobalStep
	s.epoch = c.Epoch
}

// TrainStep runs one training step: forward pass, composite loss, backward
// pass and parameter update, with a periodic visualization bundle sent to the
// board. The previous-frame tensor is threaded explicitly: passing nil falls
// back to the batch's prev-image field, and the batch's ground-truth image is
// returned as the next step's previous frame (best effort, not re-validated).
func (s *Stepper) TrainStep(b *Batch, prevFrame *nn.Tensor) (*StepResult, *nn.Tensor, error) {
	im, err := b.Get(FieldImage)
	if err != nil {
		return nil, nil, err
	}
	cm, err := b.Get(FieldClothMask)
	if err != nil {
		return nil, nil, err
	}
	var flow *nn.Tensor
	if s.Opts.FlowWarp {
		if flow, err = b.Get(FieldFlow); err != nil {
			return nil, nil, err
		}
		if prevFrame == nil {
			if prevFrame, err = b.Get(FieldPrevImage); err != nil {
				return nil, nil, err
			}
		}
	}

	person, err := b.CatFields(s.Opts.PersonInputs)
	if err != nil {
		return nil, nil, err
	}
	cloth, err := b.CatFields(s.Opts.ClothInputs)
	if err != nil {
		return nil, nil, err
	}

	res, err := s.Model.Forward(person, cloth, flow, prevFrame)
	if err != nil {
		return nil, nil, err
	}

	lossImage, gradImage, err := nn.L1Loss(res.TryOn, im)
	if err != nil {
		return nil, nil, err
	}
	lossPerc, gradPerc, err := s.Model.PerceptualLoss(res.TryOn, im)
	if err != nil {
		return nil, nil, err
	}
	lossMask, gradMask, err := nn.L1Loss(res.Masks, cm)
	if err != nil {
		return nil, nil, err
	}

	gradTryOn := gradImage
	for i := range gradTryOn.Data {
		gradTryOn.Data[i] += gradPerc.Data[i]
	}

	nn.ZeroGrads(s.Model.Params())
	if err := s.Model.Backward(res, gradTryOn, gradMask); err != nil {
		return nil, nil, err
	}
	lr := s.Scheduler.GetLR(s.epoch)
	s.Optimizer.Step(s.Model.Params(), lr)

	result := &StepResult{
		Loss:           lossImage + lossPerc + lossMask,
		LossImageL1:    lossImage,
		LossPerceptual: lossPerc,
		LossMaskL1:     lossMask,
		LR:             lr,
		GlobalStep:     s.globalStep,
	}

	s.Board.AddScalar("loss", float64(result.Loss), s.globalStep)
	s.Board.AddScalar("loss_image_l1", float64(lossImage), s.globalStep)
	s.Board.AddScalar("loss_image_perceptual", float64(lossPerc), s.globalStep)
	s.Board.AddScalar("loss_mask_l1", float64(lossMask), s.globalStep)
	s.Board.AddScalar("epoch", float64(s.epoch), s.globalStep)
	s.Board.AddScalar("lr", float64(lr), s.globalStep)

	if s.Opts.DisplayCount > 0 && s.globalStep%s.Opts.DisplayCount == 0 {
		if err := s.visualize(b, res, "train"); err != nil {
			return nil, nil, err
		}
		result.Visualized = true
	}

	s.globalStep++
	return result, im, nil
}

// SavePaths returns the deterministic output path of every sample in the
// batch: result_dir/run_name/checkpoint_name/data_mode/dataset_name/try-on/image_name.
func (s *Stepper) SavePaths(b *Batch) []string {
	base := s.Opts.ResultsDir()
	paths := make([]string, len(b.ImageNames))
	for i, imName := range b.ImageNames {
		dataset := ""
		if i < len(b.DatasetNames) {
			dataset = b.DatasetNames[i]
		}
		paths[i] = filepath.Join(base, dataset, "try-on", imName)
	}
	return paths
}

// InferStep runs one inference step. If every expected output file already
// exists the forward pass is skipped entirely, which makes interrupted runs
// resumable. Concurrent processes writing the same directory may duplicate
// work; the existence check is deliberately unguarded.
func (s *Stepper) InferStep(b *Batch) (*InferResult, error) {
	if len(b.ImageNames) == 0 {
		return nil, fmt.Errorf("vton: inference batch has no image names")
	}
	paths := s.SavePaths(b)

	all := true
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			all = false
			break
		}
	}
	if all {
		return &InferResult{Skipped: true, Paths: paths}, nil
	}

	person, err := b.CatFields(s.Opts.PersonInputs)
	if err != nil {
		return nil, err
	}
	cloth, err := b.CatFields(s.Opts.ClothInputs)
	if err != nil {
		return nil, err
	}
	res, err := s.Model.Forward(person, cloth, nil, nil)
	if err != nil {
		return nil, err
	}

	for i, p := range paths {
		if err := SaveImage(res.TryOn, i, p); err != nil {
			return nil, err
		}
	}
	return &InferResult{Paths: paths}, nil
}
