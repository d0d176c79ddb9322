package nn

// LRScheduler maps an epoch number to a learning rate.
type LRScheduler interface {
	// GetLR returns the learning rate for the given epoch.
	GetLR(epoch int) float32

	// Name returns the scheduler name.
	Name() string
}

// ============================================================================
// Constant Scheduler - fixed learning rate
// ============================================================================

type ConstantScheduler struct {
	baseLR float32
}

func NewConstantScheduler(baseLR float32) *ConstantScheduler {
	return &ConstantScheduler{baseLR: baseLR}
}

func (s *ConstantScheduler) GetLR(epoch int) float32 {
	return s.baseLR
}

func (s *ConstantScheduler) Name() string {
	return "Constant"
}

// ============================================================================
// KeepDecay Scheduler - constant rate, then linear decay to zero
// ============================================================================

// KeepDecayScheduler holds the base rate for keepEpochs epochs, then decays it
// linearly over decayEpochs+1 further epochs:
//
//	lr(e) = baseLR * (1 - max(0, e - keepEpochs) / (decayEpochs + 1))
//
// clamped at zero once the decay window is exhausted.
type KeepDecayScheduler struct {
	baseLR      float32
	keepEpochs  int
	decayEpochs int
}

func NewKeepDecayScheduler(baseLR float32, keepEpochs, decayEpochs int) *KeepDecayScheduler {
	return &KeepDecayScheduler{
		baseLR:      baseLR,
		keepEpochs:  keepEpochs,
		decayEpochs: decayEpochs,
	}
}

func (s *KeepDecayScheduler) GetLR(epoch int) float32 {
	over := epoch - s.keepEpochs
	if over <= 0 {
		return s.baseLR
	}
	factor := 1.0 - float32(over)/float32(s.decayEpochs+1)
	if factor < 0 {
		factor = 0
	}
	return s.baseLR * factor
}

func (s *KeepDecayScheduler) Name() string {
	return "KeepDecay"
}
