package tensor

import (
	"math"
	"testing"
)

// TestGELU tests known values of the tanh-approximated GELU.
func TestGELU(t *testing.T) {
	a, _ := FromSlice([]float64{0, 1, -1, 3, -3}, []int{5})

	result := a.GELU()

	// GELU(0) = 0; large positive inputs pass through, large negative
	// inputs vanish.
	if result.Data[0] != 0 {
		t.Errorf("GELU(0) = %g, expected 0", result.Data[0])
	}
	if math.Abs(result.Data[1]-0.841192) > 1e-5 {
		t.Errorf("GELU(1) = %g, expected about 0.841192", result.Data[1])
	}
	if math.Abs(result.Data[2]-(-0.158808)) > 1e-5 {
		t.Errorf("GELU(-1) = %g, expected about -0.158808", result.Data[2])
	}
	if math.Abs(result.Data[3]-3) > 1e-2 {
		t.Errorf("GELU(3) = %g, expected close to 3", result.Data[3])
	}
	if math.Abs(result.Data[4]) > 1e-2 {
		t.Errorf("GELU(-3) = %g, expected close to 0", result.Data[4])
	}
}
