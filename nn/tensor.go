package nn

import "fmt"

// Tensor is a dense float32 tensor in NCHW layout (batch, channels, height,
// width), flattened row-major into a single slice.
type Tensor struct {
	Data []float32
	N    int
	C    int
	H    int
	W    int
}

// NewTensor allocates a zero-filled tensor of the given shape.
func NewTensor(n, c, h, w int) *Tensor {
	return &Tensor{
		Data: make([]float32, n*c*h*w),
		N:    n,
		C:    c,
		H:    h,
		W:    w,
	}
}

// NewTensorFromSlice wraps an existing slice in a tensor. The slice is not
// copied. Panics if the length does not match the shape, since that is always
// a programming error rather than a runtime condition.
func NewTensorFromSlice(data []float32, n, c, h, w int) *Tensor {
	if len(data) != n*c*h*w {
		panic(fmt.Sprintf("nn: slice length %d does not match shape [%d %d %d %d]", len(data), n, c, h, w))
	}
	return &Tensor{Data: data, N: n, C: c, H: h, W: w}
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return t.N * t.C * t.H * t.W
}

// At returns the element at (n, c, y, x).
func (t *Tensor) At(n, c, y, x int) float32 {
	return t.Data[((n*t.C+c)*t.H+y)*t.W+x]
}

// Set stores v at (n, c, y, x).
func (t *Tensor) Set(n, c, y, x int, v float32) {
	t.Data[((n*t.C+c)*t.H+y)*t.W+x] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.N, t.C, t.H, t.W)
	copy(out.Data, t.Data)
	return out
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.N == o.N && t.C == o.C && t.H == o.H && t.W == o.W
}

// ShapeString formats the shape for error messages.
func (t *Tensor) ShapeString() string {
	return fmt.Sprintf("[%d %d %d %d]", t.N, t.C, t.H, t.W)
}

// Chunk splits the tensor into k equal contiguous channel groups, matching by
// position. Each chunk is a copy; mutating a chunk does not affect t.
func (t *Tensor) Chunk(k int) ([]*Tensor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("nn: chunk count must be positive, got %d", k)
	}
	if t.C%k != 0 {
		return nil, fmt.Errorf("nn: cannot chunk %d channels into %d equal groups", t.C, k)
	}
	cPer := t.C / k
	plane := t.H * t.W
	out := make([]*Tensor, k)
	for i := 0; i < k; i++ {
		chunk := NewTensor(t.N, cPer, t.H, t.W)
		for n := 0; n < t.N; n++ {
			src := ((n*t.C)+i*cPer)*plane
			dst := n * cPer * plane
			copy(chunk.Data[dst:dst+cPer*plane], t.Data[src:src+cPer*plane])
		}
		out[i] = chunk
	}
	return out, nil
}

// ConcatChannels joins tensors along the channel axis in argument order. All
// parts must share batch and spatial dimensions.
func ConcatChannels(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nn: concat of zero tensors")
	}
	first := parts[0]
	totalC := 0
	for _, p := range parts {
		if p.N != first.N || p.H != first.H || p.W != first.W {
			return nil, fmt.Errorf("nn: concat shape mismatch: %s vs %s", p.ShapeString(), first.ShapeString())
		}
		totalC += p.C
	}
	out := NewTensor(first.N, totalC, first.H, first.W)
	plane := first.H * first.W
	for n := 0; n < first.N; n++ {
		offset := n * totalC * plane
		for _, p := range parts {
			src := n * p.C * plane
			copy(out.Data[offset:offset+p.C*plane], p.Data[src:src+p.C*plane])
			offset += p.C * plane
		}
	}
	return out, nil
}

// SliceChannels returns a copy of channels [from, to) as a new tensor.
func (t *Tensor) SliceChannels(from, to int) (*Tensor, error) {
	if from < 0 || to > t.C || from >= to {
		return nil, fmt.Errorf("nn: channel slice [%d:%d) out of range for %d channels", from, to, t.C)
	}
	cPer := to - from
	plane := t.H * t.W
	out := NewTensor(t.N, cPer, t.H, t.W)
	for n := 0; n < t.N; n++ {
		src := ((n * t.C) + from) * plane
		dst := n * cPer * plane
		copy(out.Data[dst:dst+cPer*plane], t.Data[src:src+cPer*plane])
	}
	return out, nil
}
