package nn

import (
	"math"
	"testing"
)

// TestKeepDecaySchedule checks the hold period, the linear ramp and the clamp
// at zero.
func TestKeepDecaySchedule(t *testing.T) {
	s := NewKeepDecayScheduler(1e-4, 5, 5)

	for e := 0; e <= 5; e++ {
		if lr := s.GetLR(e); lr != 1e-4 {
			t.Errorf("Epoch %d LR = %v, want 1e-4", e, lr)
		}
	}

	// after the hold, the rate drops by baseLR/6 per epoch
	want := float32(1e-4) * (1 - 1.0/6.0)
	if lr := s.GetLR(6); math.Abs(float64(lr-want)) > 1e-12 {
		t.Errorf("Epoch 6 LR = %v, want %v", lr, want)
	}
	want = float32(1e-4) * (1 - 5.0/6.0)
	if lr := s.GetLR(10); math.Abs(float64(lr-want)) > 1e-12 {
		t.Errorf("Epoch 10 LR = %v, want %v", lr, want)
	}

	if lr := s.GetLR(11); lr != 0 {
		t.Errorf("Epoch 11 LR = %v, want 0", lr)
	}
	if lr := s.GetLR(100); lr != 0 {
		t.Errorf("Epoch 100 LR = %v, want 0 (clamped)", lr)
	}
}

// TestConstantSchedule verifies the constant scheduler ignores the epoch.
func TestConstantSchedule(t *testing.T) {
	s := NewConstantScheduler(0.01)
	if s.GetLR(0) != 0.01 || s.GetLR(1000) != 0.01 {
		t.Error("Constant scheduler changed the learning rate")
	}
}
