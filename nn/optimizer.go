package nn

import (
	"fmt"
	"math"
)

// Optimizer applies accumulated gradients to a parameter set.
type Optimizer interface {
	// Step updates every parameter from its gradient at the given rate.
	Step(params []*Param, learningRate float32)

	// Reset clears optimizer state (moments, step counters).
	Reset()

	// GetState returns optimizer state for serialization.
	GetState() map[string]interface{}

	// LoadState restores optimizer state from serialization.
	LoadState(state map[string]interface{}) error

	// Name returns the optimizer name.
	Name() string
}

// ============================================================================
// SGD Optimizer (with optional momentum)
// ============================================================================

type SGDOptimizer struct {
	momentum   float32
	velocities map[string][]float32
}

func NewSGDOptimizer(momentum float32) *SGDOptimizer {
	return &SGDOptimizer{
		momentum:   momentum,
		velocities: make(map[string][]float32),
	}
}

func (opt *SGDOptimizer) Step(params []*Param, learningRate float32) {
	for _, p := range params {
		if opt.momentum == 0 {
			for i := range p.Data {
				p.Data[i] -= learningRate * p.Grad[i]
			}
			continue
		}
		v := opt.velocities[p.Name]
		if v == nil {
			v = make([]float32, len(p.Data))
			opt.velocities[p.Name] = v
		}
		for i := range p.Data {
			v[i] = opt.momentum*v[i] + p.Grad[i]
			p.Data[i] -= learningRate * v[i]
		}
	}
}

func (opt *SGDOptimizer) Reset() {
	opt.velocities = make(map[string][]float32)
}

func (opt *SGDOptimizer) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":     "sgd",
		"momentum": opt.momentum,
	}
}

func (opt *SGDOptimizer) LoadState(state map[string]interface{}) error {
	if t, ok := state["type"].(string); !ok || t != "sgd" {
		return fmt.Errorf("invalid optimizer type: expected sgd, got %v", state["type"])
	}
	if m, ok := state["momentum"].(float64); ok {
		opt.momentum = float32(m)
	}
	return nil
}

func (opt *SGDOptimizer) Name() string {
	if opt.momentum > 0 {
		return "SGD (momentum)"
	}
	return "SGD"
}

// ============================================================================
// Adam Optimizer
// ============================================================================

type AdamOptimizer struct {
	beta1   float32
	beta2   float32
	epsilon float32
	step    int

	// first and second moment estimates, keyed by parameter name
	m map[string][]float32
	v map[string][]float32
}

func NewAdamOptimizer(beta1, beta2, epsilon float32) *AdamOptimizer {
	return &AdamOptimizer{
		beta1:   beta1,
		beta2:   beta2,
		epsilon: epsilon,
		m:       make(map[string][]float32),
		v:       make(map[string][]float32),
	}
}

func NewAdamOptimizerDefault() *AdamOptimizer {
	return NewAdamOptimizer(0.9, 0.999, 1e-8)
}

func (opt *AdamOptimizer) Step(params []*Param, learningRate float32) {
	opt.step++

	biasCorrection1 := 1.0 - float32(math.Pow(float64(opt.beta1), float64(opt.step)))
	biasCorrection2 := 1.0 - float32(math.Pow(float64(opt.beta2), float64(opt.step)))

	for _, p := range params {
		m := opt.m[p.Name]
		v := opt.v[p.Name]
		if m == nil {
			m = make([]float32, len(p.Data))
			v = make([]float32, len(p.Data))
			opt.m[p.Name] = m
			opt.v[p.Name] = v
		}

		for i := range p.Data {
			grad := p.Grad[i]

			m[i] = opt.beta1*m[i] + (1-opt.beta1)*grad
			v[i] = opt.beta2*v[i] + (1-opt.beta2)*grad*grad

			mHat := m[i] / biasCorrection1
			vHat := v[i] / biasCorrection2

			p.Data[i] -= learningRate * mHat / (float32(math.Sqrt(float64(vHat))) + opt.epsilon)
		}
	}
}

func (opt *AdamOptimizer) Reset() {
	opt.step = 0
	opt.m = make(map[string][]float32)
	opt.v = make(map[string][]float32)
}

func (opt *AdamOptimizer) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":    "adam",
		"beta1":   opt.beta1,
		"beta2":   opt.beta2,
		"epsilon": opt.epsilon,
		"step":    opt.step,
	}
}

func (opt *AdamOptimizer) LoadState(state map[string]interface{}) error {
	if t, ok := state["type"].(string); !ok || t != "adam" {
		return fmt.Errorf("invalid optimizer type: expected adam, got %v", state["type"])
	}
	if b1, ok := state["beta1"].(float64); ok {
		opt.beta1 = float32(b1)
	}
	if b2, ok := state["beta2"].(float64); ok {
		opt.beta2 = float32(b2)
	}
	if eps, ok := state["epsilon"].(float64); ok {
		opt.epsilon = float32(eps)
	}
	if s, ok := state["step"].(float64); ok {
		opt.step = int(s)
	}
	return nil
}

func (opt *AdamOptimizer) Name() string {
	return "Adam"
}
