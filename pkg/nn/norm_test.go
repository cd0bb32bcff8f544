package nn

import (
	"math"
	"testing"

	"goseq2seq/pkg/tensor"
)

// TestLayerNormStatistics tests that each normalized row has zero mean
// and unit variance.
func TestLayerNormStatistics(t *testing.T) {
	ln := NewLayerNorm(8, 1e-5)

	x := tensor.NewTensor([]int{2, 3, 8})
	for i := range x.Data {
		x.Data[i] = float64(i%13)*0.7 - 2
	}

	out, err := ln.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	for row := 0; row < 6; row++ {
		offset := row * 8
		mean, variance := 0.0, 0.0
		for _, v := range out.Data[offset : offset+8] {
			mean += v
		}
		mean /= 8
		for _, v := range out.Data[offset : offset+8] {
			variance += (v - mean) * (v - mean)
		}
		variance /= 8

		if math.Abs(mean) > 1e-9 {
			t.Errorf("row %d mean = %g, expected 0", row, mean)
		}
		if math.Abs(variance-1) > 1e-3 {
			t.Errorf("row %d variance = %g, expected 1", row, variance)
		}
	}
}

// TestLayerNormScaleShift tests the learned affine transform.
func TestLayerNormScaleShift(t *testing.T) {
	ln := NewLayerNorm(4, 1e-5)
	for i := range ln.Scale.Data {
		ln.Scale.Data[i] = 2
		ln.Shift.Data[i] = 3
	}

	x, _ := tensor.FromSlice([]float64{1, 2, 3, 4}, []int{1, 4})
	out, err := ln.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	base := NewLayerNorm(4, 1e-5)
	ref, _ := base.Forward(x)
	for i := range out.Data {
		want := ref.Data[i]*2 + 3
		if math.Abs(out.Data[i]-want) > 1e-12 {
			t.Errorf("out.Data[%d] = %g, expected %g", i, out.Data[i], want)
		}
	}
}

// TestLayerNormDimMismatch tests input validation.
func TestLayerNormDimMismatch(t *testing.T) {
	ln := NewLayerNorm(4, 1e-5)

	x := tensor.NewTensor([]int{2, 6})
	if _, err := ln.Forward(x); err == nil {
		t.Error("expected error for mismatched trailing dimension, got nil")
	}
}
