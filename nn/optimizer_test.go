package nn

import (
	"math"
	"testing"
)

// TestSGDStep verifies a plain gradient step without momentum.
func TestSGDStep(t *testing.T) {
	p := NewParam("w", 2)
	p.Data[0], p.Data[1] = 1, -1
	p.Grad[0], p.Grad[1] = 0.5, -0.5

	opt := NewSGDOptimizer(0)
	opt.Step([]*Param{p}, 0.1)

	if math.Abs(float64(p.Data[0]-0.95)) > 1e-6 || math.Abs(float64(p.Data[1]-(-0.95))) > 1e-6 {
		t.Errorf("SGD step produced %v, want [0.95 -0.95]", p.Data)
	}
}

// TestAdamStepDirection verifies Adam moves every weight against its gradient
// and that the first bias-corrected step has magnitude close to the learning
// rate.
func TestAdamStepDirection(t *testing.T) {
	p := NewParam("w", 3)
	p.Grad[0], p.Grad[1], p.Grad[2] = 1, -2, 0.001

	opt := NewAdamOptimizerDefault()
	opt.Step([]*Param{p}, 0.01)

	if p.Data[0] >= 0 {
		t.Errorf("Weight 0 moved to %v, expected negative", p.Data[0])
	}
	if p.Data[1] <= 0 {
		t.Errorf("Weight 1 moved to %v, expected positive", p.Data[1])
	}
	// first step: mHat/sqrt(vHat) ~= sign(grad)
	if math.Abs(float64(p.Data[0])+0.01) > 1e-3 {
		t.Errorf("First Adam step = %v, want ~-0.01", p.Data[0])
	}
}

// TestAdamStateRoundTrip verifies optimizer state survives GetState/LoadState
// through a JSON-typed map.
func TestAdamStateRoundTrip(t *testing.T) {
	opt := NewAdamOptimizer(0.8, 0.95, 1e-6)
	p := NewParam("w", 1)
	p.Grad[0] = 1
	opt.Step([]*Param{p}, 0.01)
	opt.Step([]*Param{p}, 0.01)

	state := opt.GetState()
	// checkpoints round-trip through JSON, which widens numbers to float64
	loaded := map[string]interface{}{
		"type":    state["type"],
		"beta1":   float64(state["beta1"].(float32)),
		"beta2":   float64(state["beta2"].(float32)),
		"epsilon": float64(state["epsilon"].(float32)),
		"step":    float64(state["step"].(int)),
	}

	restored := NewAdamOptimizerDefault()
	if err := restored.LoadState(loaded); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restored.step != 2 {
		t.Errorf("Restored step = %d, want 2", restored.step)
	}
	if math.Abs(float64(restored.beta1-0.8)) > 1e-6 {
		t.Errorf("Restored beta1 = %v, want 0.8", restored.beta1)
	}
}

// TestAdamLoadStateRejectsWrongType verifies type tagging on optimizer state.
func TestAdamLoadStateRejectsWrongType(t *testing.T) {
	opt := NewAdamOptimizerDefault()
	if err := opt.LoadState(map[string]interface{}{"type": "sgd"}); err == nil {
		t.Error("Expected error loading sgd state into adam")
	}
}
