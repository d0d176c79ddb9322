package nn

// Param is a learnable parameter buffer together with its gradient
// accumulator. Names are unique within a model and key optimizer state and
// checkpoint entries.
type Param struct {
	Name string
	Data []float32
	Grad []float32
}

// NewParam allocates a zeroed parameter of the given size.
func NewParam(name string, size int) *Param {
	return &Param{
		Name: name,
		Data: make([]float32, size),
		Grad: make([]float32, size),
	}
}

// ZeroGrad clears the gradient accumulator.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads clears the gradients of every parameter in the slice.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
