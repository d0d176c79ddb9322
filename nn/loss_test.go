package nn

import (
	"math"
	"testing"
)

// TestL1LossKnownValues checks the mean absolute error and its gradient signs
// on a hand-computed case.
func TestL1LossKnownValues(t *testing.T) {
	pred := NewTensorFromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	target := NewTensorFromSlice([]float32{2, 2, 1, 4}, 1, 1, 2, 2)

	loss, grad, err := L1Loss(pred, target)
	if err != nil {
		t.Fatalf("L1Loss failed: %v", err)
	}
	// |1-2| + |2-2| + |3-1| + |4-4| = 3, mean 0.75
	if math.Abs(float64(loss)-0.75) > 1e-6 {
		t.Errorf("Loss = %v, want 0.75", loss)
	}

	want := []float32{-0.25, 0, 0.25, 0}
	for i := range want {
		if math.Abs(float64(grad.Data[i]-want[i])) > 1e-6 {
			t.Errorf("Grad[%d] = %v, want %v", i, grad.Data[i], want[i])
		}
	}
}

// TestL1LossIdentical verifies zero loss and zero gradient for equal inputs.
func TestL1LossIdentical(t *testing.T) {
	a := NewTensor(2, 3, 4, 4)
	rndFill(a.Data, 5)
	loss, grad, err := L1Loss(a, a.Clone())
	if err != nil {
		t.Fatalf("L1Loss failed: %v", err)
	}
	if loss != 0 {
		t.Errorf("Loss = %v, want 0", loss)
	}
	for i, g := range grad.Data {
		if g != 0 {
			t.Fatalf("Grad[%d] = %v, want 0", i, g)
		}
	}
}

// TestL1LossShapeMismatch verifies shape validation.
func TestL1LossShapeMismatch(t *testing.T) {
	if _, _, err := L1Loss(NewTensor(1, 1, 2, 2), NewTensor(1, 1, 4, 4)); err == nil {
		t.Error("Expected error for mismatched shapes")
	}
}

// TestPerceptualLossProperties verifies the frozen pyramid returns a finite
// non-negative loss, zero for identical inputs, and a gradient of the input
// shape with frozen parameters left untouched.
func TestPerceptualLossProperties(t *testing.T) {
	p := NewPerceptualLoss(3, 42)

	pred := NewTensor(1, 3, 32, 32)
	target := NewTensor(1, 3, 32, 32)
	rndFill(pred.Data, 1)
	rndFill(target.Data, 2)

	loss, grad, err := p.Loss(pred, target)
	if err != nil {
		t.Fatalf("Loss failed: %v", err)
	}
	if loss < 0 || math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) {
		t.Errorf("Loss = %v, want finite non-negative", loss)
	}
	if !grad.SameShape(pred) {
		t.Errorf("Gradient shape %s, want %s", grad.ShapeString(), pred.ShapeString())
	}
	if !IsFinite(grad.Data) {
		t.Error("Gradient contains non-finite values")
	}

	for _, s := range p.stages {
		for _, g := range s.conv.Weight.Grad {
			if g != 0 {
				t.Fatal("Frozen pyramid accumulated weight gradients")
			}
		}
	}

	same, _, err := p.Loss(pred, pred.Clone())
	if err != nil {
		t.Fatalf("Loss failed: %v", err)
	}
	if same != 0 {
		t.Errorf("Loss for identical inputs = %v, want 0", same)
	}
}

// TestPerceptualLossDeterministicSeed verifies two pyramids built from the
// same seed agree.
func TestPerceptualLossDeterministicSeed(t *testing.T) {
	a := NewPerceptualLoss(3, 7)
	b := NewPerceptualLoss(3, 7)

	pred := NewTensor(1, 3, 16, 16)
	target := NewTensor(1, 3, 16, 16)
	rndFill(pred.Data, 1)
	rndFill(target.Data, 2)

	la, _, err := a.Loss(pred, target)
	if err != nil {
		t.Fatalf("Loss failed: %v", err)
	}
	lb, _, err := b.Loss(pred, target)
	if err != nil {
		t.Fatalf("Loss failed: %v", err)
	}
	if la != lb {
		t.Errorf("Same-seed pyramids disagree: %v vs %v", la, lb)
	}
}
