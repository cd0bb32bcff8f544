package nn

import (
	"math"
	"testing"

	"goseq2seq/pkg/tensor"
)

// TestLinearForward tests y = xW + b against hand-set weights.
func TestLinearForward(t *testing.T) {
	lin, err := NewLinear(2, 3)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	copy(lin.Weight.Data, []float64{
		1, 2, 3,
		4, 5, 6,
	})
	copy(lin.Bias.Data, []float64{0.5, -0.5, 1})

	x, _ := tensor.FromSlice([]float64{1, 1, 2, 0}, []int{2, 2})
	out, err := lin.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// [1 1] W + b = [5.5, 6.5, 10]
	// [2 0] W + b = [2.5, 3.5, 7]
	expected := []float64{5.5, 6.5, 10, 2.5, 3.5, 7}
	for i, want := range expected {
		if math.Abs(out.Data[i]-want) > 1e-12 {
			t.Errorf("out.Data[%d] = %g, expected %g", i, out.Data[i], want)
		}
	}
}

// TestLinearBatched tests the transform over a 3D input.
func TestLinearBatched(t *testing.T) {
	lin, _ := NewLinear(4, 2)

	x := tensor.NewTensor([]int{3, 5, 4})
	for i := range x.Data {
		x.Data[i] = float64(i%11) * 0.1
	}

	out, err := lin.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	expectedShape := []int{3, 5, 2}
	for i, dim := range expectedShape {
		if out.Shape[i] != dim {
			t.Fatalf("output shape %v, expected %v", out.Shape, expectedShape)
		}
	}
}

// TestLinearInit tests Xavier bounds and the zero bias.
func TestLinearInit(t *testing.T) {
	lin, _ := NewLinear(16, 16)

	limit := math.Sqrt(6.0 / 32.0)
	for i, v := range lin.Weight.Data {
		if v < -limit || v > limit {
			t.Fatalf("Weight[%d] = %g outside Xavier bound %g", i, v, limit)
		}
	}
	for i, v := range lin.Bias.Data {
		if v != 0 {
			t.Fatalf("Bias[%d] = %g, expected 0", i, v)
		}
	}
}

// TestLinearDimMismatch tests input validation.
func TestLinearDimMismatch(t *testing.T) {
	lin, _ := NewLinear(4, 2)

	x := tensor.NewTensor([]int{3, 5})
	if _, err := lin.Forward(x); err == nil {
		t.Error("expected error for mismatched input width, got nil")
	}

	if _, err := NewLinear(0, 2); err == nil {
		t.Error("expected error for zero input dimension, got nil")
	}
}
