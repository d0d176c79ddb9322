// Package vton implements the try-on synthesis core: a generator that jointly
// predicts a rendered person image, a composite mask and (optionally) a
// flow-blend weight, a differentiable compositing step that combines them with
// the warped cloth input, and the training/inference step controller around
// them.
package vton

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/google/uuid"
)

// Options configures the model and the step controller. Channel counts are
// fixed at configuration time and must match the supplied batch tensors
// exactly.
type Options struct {
	// Name identifies the run; results and checkpoints are grouped under it.
	Name string

	// PersonInputs and ClothInputs select and order the batch fields that are
	// channel-concatenated into the generator input.
	PersonInputs []Field
	ClothInputs  []Field

	PersonChannels int // total channels across PersonInputs
	ClothChannels  int // total channels across ClothInputs

	FineHeight int
	FineWidth  int

	// NumFrames packs several time frames into the channel axis. FlowWarp
	// blends a motion-compensated previous frame into the prediction; it
	// supports single-frame operation only.
	NumFrames int
	FlowWarp  bool

	SelfAttn bool
	NumDowns int

	LR          float32
	KeepEpochs  int
	DecayEpochs int

	DisplayCount int // emit a visualization every this many global steps
	SaveCount    int // write a checkpoint every this many global steps

	BatchSize int
	Workers   int
	Seed      uint64

	// inference bookkeeping
	ResultDir  string
	Checkpoint string
	DataMode   string
}

// DefaultOptions mirrors the conventional training setup: a 22-channel person
// representation (silhouette + head + pose heatmaps) plus RGB warped cloth at
// 192x256.
func DefaultOptions() Options {
	return Options{
		Name:           uuid.New().String(),
		PersonInputs:   []Field{FieldSilhouette, FieldHead, FieldCocopose},
		ClothInputs:    []Field{FieldCloth},
		PersonChannels: 22,
		ClothChannels:  3,
		FineHeight:     256,
		FineWidth:      192,
		NumFrames:      1,
		NumDowns:       6,
		LR:             1e-4,
		KeepEpochs:     5,
		DecayEpochs:    5,
		DisplayCount:   100,
		SaveCount:      1000,
		BatchSize:      4,
		Workers:        4,
		Seed:           42,
		ResultDir:      "results",
		DataMode:       "test",
	}
}

// Validate fails fast on configuration-shape errors so they never surface
// deep inside tensor arithmetic.
func (o *Options) Validate() error {
	if o.NumFrames < 1 {
		return fmt.Errorf("vton: frame count must be at least 1, got %d", o.NumFrames)
	}
	if o.FlowWarp && o.NumFrames > 1 {
		return fmt.Errorf("vton: flow warp supports a single frame only, got %d frames", o.NumFrames)
	}
	if len(o.PersonInputs) == 0 {
		return fmt.Errorf("vton: at least one person input field is required")
	}
	if len(o.ClothInputs) == 0 {
		return fmt.Errorf("vton: at least one cloth input field is required")
	}
	if o.PersonChannels <= 0 || o.ClothChannels <= 0 {
		return fmt.Errorf("vton: channel counts must be positive, got person=%d cloth=%d", o.PersonChannels, o.ClothChannels)
	}
	if o.NumDowns < 2 {
		return fmt.Errorf("vton: generator depth must be at least 2, got %d", o.NumDowns)
	}
	step := 1 << o.NumDowns
	if o.FineHeight%step != 0 || o.FineWidth%step != 0 {
		return fmt.Errorf("vton: fine size %dx%d must be divisible by 2^%d", o.FineHeight, o.FineWidth, o.NumDowns)
	}
	return nil
}

// GeneratorInChannels is the channel width the generator expects.
func (o *Options) GeneratorInChannels() int {
	return (o.PersonChannels + o.ClothChannels) * o.NumFrames
}

// GeneratorOutChannels is 3 rendered + 1 mask channels per frame, plus one
// flow-blend weight channel per frame in flow-warp mode.
func (o *Options) GeneratorOutChannels() int {
	if o.FlowWarp {
		return 5 * o.NumFrames
	}
	return 4 * o.NumFrames
}

// GeneratorBaseWidth scales generator capacity logarithmically with the
// number of jointly processed frames.
func (o *Options) GeneratorBaseWidth() int {
	return int(64 * (math.Log(float64(o.NumFrames)) + 1))
}

// ResultsDir is the root for inference outputs:
// result_dir/run_name/checkpoint_name/data_mode.
func (o *Options) ResultsDir() string {
	return filepath.Join(o.ResultDir, o.Name, filepath.Base(o.Checkpoint), o.DataMode)
}
