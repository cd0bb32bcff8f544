package tensor

import (
	"math"
	"testing"
)

// TestDropoutInference tests that dropout is a no-op outside training.
func TestDropoutInference(t *testing.T) {
	a, _ := FromSlice([]float64{1, 2, 3, 4}, []int{2, 2})

	result := a.Dropout(0.5, false)
	if !result.Equals(a, 0) {
		t.Error("inference dropout must return the input unchanged")
	}
}

// TestDropoutZeroProbability tests that p=0 keeps every element.
func TestDropoutZeroProbability(t *testing.T) {
	a, _ := FromSlice([]float64{1, 2, 3, 4}, []int{2, 2})

	result := a.Dropout(0, true)
	if !result.Equals(a, 0) {
		t.Error("p=0 dropout must return the input unchanged")
	}
}

// TestDropoutTraining tests that surviving elements are rescaled and
// roughly the expected fraction is dropped.
func TestDropoutTraining(t *testing.T) {
	SetDropoutSeed(42)

	n := 10000
	data := make([]float64, n)
	for i := range data {
		data[i] = 1
	}
	a, _ := FromSlice(data, []int{n})

	result := a.Dropout(0.5, true)

	dropped := 0
	for _, v := range result.Data {
		switch v {
		case 0:
			dropped++
		case 2: // 1 / (1 - 0.5)
		default:
			t.Fatalf("unexpected value %g, expected 0 or 2", v)
		}
	}

	fraction := float64(dropped) / float64(n)
	if math.Abs(fraction-0.5) > 0.05 {
		t.Errorf("dropped fraction %g, expected about 0.5", fraction)
	}
}

// TestDropoutDeterministic tests seeded reproducibility.
func TestDropoutDeterministic(t *testing.T) {
	a, _ := FromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8}, []int{8})

	SetDropoutSeed(7)
	first := a.Dropout(0.3, true)
	SetDropoutSeed(7)
	second := a.Dropout(0.3, true)

	if !first.Equals(second, 0) {
		t.Error("same seed must produce the same dropout pattern")
	}
}

// TestDropoutInvalidProbability tests the probability bounds.
func TestDropoutInvalidProbability(t *testing.T) {
	a, _ := FromSlice([]float64{1}, []int{1})

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for p=1, got none")
		}
	}()
	a.Dropout(1.0, true)
}
