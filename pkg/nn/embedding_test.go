package nn

import (
	"testing"

	"goseq2seq/pkg/tensor"
)

// TestEmbeddingLookup tests that lookup gathers the right table rows.
func TestEmbeddingLookup(t *testing.T) {
	embed, err := NewEmbedding(5, 4, nil)
	if err != nil {
		t.Fatalf("NewEmbedding failed: %v", err)
	}

	indices, _ := tensor.FromSlice([]float64{0, 3, 3, 1}, []int{2, 2})
	out, err := embed.Lookup(indices)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	expectedShape := []int{2, 2, 4}
	for i, dim := range expectedShape {
		if out.Shape[i] != dim {
			t.Fatalf("output shape %v, expected %v", out.Shape, expectedShape)
		}
	}

	// Row for symbol 3 appears at (0, 1) and (1, 0) and must match the
	// weight table exactly.
	for d := 0; d < 4; d++ {
		want := embed.Weight.Get([]int{3, d})
		if got := out.Get([]int{0, 1, d}); got != want {
			t.Errorf("out[0,1,%d] = %g, expected %g", d, got, want)
		}
		if got := out.Get([]int{1, 0, d}); got != want {
			t.Errorf("out[1,0,%d] = %g, expected %g", d, got, want)
		}
	}
}

// TestEmbeddingPaddingRow tests that the padding symbol maps to a zero
// vector.
func TestEmbeddingPaddingRow(t *testing.T) {
	padIdx := 2
	embed, err := NewEmbedding(5, 4, &padIdx)
	if err != nil {
		t.Fatalf("NewEmbedding failed: %v", err)
	}

	indices, _ := tensor.FromSlice([]float64{2}, []int{1, 1})
	out, err := embed.Lookup(indices)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	for d := 0; d < 4; d++ {
		if v := out.Get([]int{0, 0, d}); v != 0 {
			t.Errorf("padding embedding value %g at dim %d, expected 0", v, d)
		}
	}
}

// TestEmbeddingOutOfRange tests symbol id validation.
func TestEmbeddingOutOfRange(t *testing.T) {
	embed, _ := NewEmbedding(5, 4, nil)

	indices, _ := tensor.FromSlice([]float64{5}, []int{1, 1})
	if _, err := embed.Lookup(indices); err == nil {
		t.Error("expected error for out-of-vocabulary symbol, got nil")
	}

	indices, _ = tensor.FromSlice([]float64{-1}, []int{1, 1})
	if _, err := embed.Lookup(indices); err == nil {
		t.Error("expected error for negative symbol, got nil")
	}
}

// TestEmbeddingValidation tests constructor argument checks.
func TestEmbeddingValidation(t *testing.T) {
	if _, err := NewEmbedding(0, 4, nil); err == nil {
		t.Error("expected error for zero vocabulary, got nil")
	}
	if _, err := NewEmbedding(5, 0, nil); err == nil {
		t.Error("expected error for zero embedding width, got nil")
	}

	bad := 7
	if _, err := NewEmbedding(5, 4, &bad); err == nil {
		t.Error("expected error for padding index outside vocabulary, got nil")
	}
}
