package nn

import (
	"math"
	"testing"

	"goseq2seq/pkg/tensor"
)

// TestSinusoidalTable tests the sin/cos table against direct
// evaluation of the formula.
func TestSinusoidalTable(t *testing.T) {
	pos, err := NewSinusoidalPositional(16, 8)
	if err != nil {
		t.Fatalf("NewSinusoidalPositional failed: %v", err)
	}

	for p := 0; p < 16; p++ {
		for i := 0; i < 8; i += 2 {
			angle := float64(p) / math.Pow(10000, float64(i)/8.0)
			if got := pos.Table.Get([]int{p, i}); math.Abs(got-math.Sin(angle)) > 1e-12 {
				t.Fatalf("table[%d,%d] = %g, expected sin %g", p, i, got, math.Sin(angle))
			}
			if got := pos.Table.Get([]int{p, i + 1}); math.Abs(got-math.Cos(angle)) > 1e-12 {
				t.Fatalf("table[%d,%d] = %g, expected cos %g", p, i+1, got, math.Cos(angle))
			}
		}
	}
}

// TestPositionalOffset tests that startPos continues positions instead
// of restarting: applying at offset k must use the same table rows as
// positions [k, k+seq) of a full pass.
func TestPositionalOffset(t *testing.T) {
	pos, _ := NewSinusoidalPositional(16, 4)

	zeros := tensor.NewTensor([]int{1, 6, 4})
	full, err := pos.Apply(zeros, 0)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	step := tensor.NewTensor([]int{1, 1, 4})
	for k := 0; k < 6; k++ {
		out, err := pos.Apply(step, k)
		if err != nil {
			t.Fatalf("Apply at offset %d failed: %v", k, err)
		}
		for d := 0; d < 4; d++ {
			if got, want := out.Get([]int{0, 0, d}), full.Get([]int{0, k, d}); math.Abs(got-want) > 1e-12 {
				t.Errorf("offset %d dim %d: got %g, expected %g", k, d, got, want)
			}
		}
	}
}

// TestPositionalBounds tests table length and dimension validation.
func TestPositionalBounds(t *testing.T) {
	pos, _ := NewSinusoidalPositional(8, 4)

	x := tensor.NewTensor([]int{1, 4, 4})
	if _, err := pos.Apply(x, 5); err == nil {
		t.Error("expected error for positions past the table, got nil")
	}
	if _, err := pos.Apply(x, -1); err == nil {
		t.Error("expected error for negative start position, got nil")
	}

	wrong := tensor.NewTensor([]int{1, 4, 6})
	if _, err := pos.Apply(wrong, 0); err == nil {
		t.Error("expected error for mismatched width, got nil")
	}
}

// TestLearnedPositional tests the learned table variant.
func TestLearnedPositional(t *testing.T) {
	pos, err := NewLearnedPositional(8, 4)
	if err != nil {
		t.Fatalf("NewLearnedPositional failed: %v", err)
	}
	if pos.Dim() != 4 {
		t.Errorf("Dim() = %d, expected 4", pos.Dim())
	}

	zeros := tensor.NewTensor([]int{2, 3, 4})
	out, err := pos.Apply(zeros, 2)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Applying to zeros reproduces table rows [2, 5) in every batch
	// element.
	for b := 0; b < 2; b++ {
		for s := 0; s < 3; s++ {
			for d := 0; d < 4; d++ {
				want := pos.Table.Get([]int{2 + s, d})
				if got := out.Get([]int{b, s, d}); got != want {
					t.Fatalf("out[%d,%d,%d] = %g, expected %g", b, s, d, got, want)
				}
			}
		}
	}
}
