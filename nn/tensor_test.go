package nn

import (
	"testing"
)

// TestTensorIndexing verifies NCHW flat indexing through At and Set.
func TestTensorIndexing(t *testing.T) {
	tensor := NewTensor(2, 3, 4, 5)
	if tensor.Size() != 120 {
		t.Errorf("Expected size 120, got %d", tensor.Size())
	}

	tensor.Set(1, 2, 3, 4, 7.5)
	if got := tensor.At(1, 2, 3, 4); got != 7.5 {
		t.Errorf("Expected 7.5 at (1,2,3,4), got %v", got)
	}
	// last element of the flat slice
	if tensor.Data[119] != 7.5 {
		t.Errorf("Set did not write the expected flat index")
	}
}

// TestTensorClone verifies clones do not share storage.
func TestTensorClone(t *testing.T) {
	original := NewTensorFromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	clone := original.Clone()

	original.Data[0] = 100
	if clone.Data[0] != 1 {
		t.Errorf("Clone was modified when original changed")
	}
}

// TestChunkConcatRoundTrip verifies that chunking a tensor and concatenating
// the pieces reproduces the original, including across batch entries.
func TestChunkConcatRoundTrip(t *testing.T) {
	tensor := NewTensor(2, 6, 3, 3)
	for i := range tensor.Data {
		tensor.Data[i] = float32(i)
	}

	chunks, err := tensor.Chunk(3)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.C != 2 {
			t.Errorf("Chunk %d has %d channels, expected 2", i, c.C)
		}
	}

	joined, err := ConcatChannels(chunks[0], chunks[1], chunks[2])
	if err != nil {
		t.Fatalf("ConcatChannels failed: %v", err)
	}
	if MaxAbsDiff(joined.Data, tensor.Data) != 0 {
		t.Errorf("Chunk + concat did not reproduce the original tensor")
	}

	// chunks are copies
	chunks[0].Data[0] = -1
	if tensor.Data[0] == -1 {
		t.Errorf("Mutating a chunk changed the source tensor")
	}
}

// TestChunkErrors verifies chunk rejects invalid group counts.
func TestChunkErrors(t *testing.T) {
	tensor := NewTensor(1, 5, 2, 2)
	if _, err := tensor.Chunk(2); err == nil {
		t.Error("Expected error chunking 5 channels into 2 groups")
	}
	if _, err := tensor.Chunk(0); err == nil {
		t.Error("Expected error for zero chunk count")
	}
}

// TestSliceChannels verifies channel slicing matches At on the source.
func TestSliceChannels(t *testing.T) {
	tensor := NewTensor(2, 4, 2, 2)
	for i := range tensor.Data {
		tensor.Data[i] = float32(i)
	}
	s, err := tensor.SliceChannels(1, 3)
	if err != nil {
		t.Fatalf("SliceChannels failed: %v", err)
	}
	if s.C != 2 || s.N != 2 {
		t.Fatalf("Expected shape [2 2 2 2], got %s", s.ShapeString())
	}
	for n := 0; n < 2; n++ {
		for c := 0; c < 2; c++ {
			for y := 0; y < 2; y++ {
				for x := 0; x < 2; x++ {
					if s.At(n, c, y, x) != tensor.At(n, c+1, y, x) {
						t.Fatalf("Slice mismatch at (%d,%d,%d,%d)", n, c, y, x)
					}
				}
			}
		}
	}

	if _, err := tensor.SliceChannels(3, 3); err == nil {
		t.Error("Expected error for empty channel range")
	}
	if _, err := tensor.SliceChannels(0, 5); err == nil {
		t.Error("Expected error for out-of-range slice")
	}
}

// TestConcatChannelsShapeMismatch verifies concat rejects mismatched spatial
// dimensions.
func TestConcatChannelsShapeMismatch(t *testing.T) {
	a := NewTensor(1, 2, 4, 4)
	b := NewTensor(1, 2, 2, 2)
	if _, err := ConcatChannels(a, b); err == nil {
		t.Error("Expected error for mismatched spatial shapes")
	}
}
