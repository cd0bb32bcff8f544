package decoder

import (
	"math"
	"testing"

	"goseq2seq/pkg/tensor"
)

// TestIncrementalStateSteps tests the step counter lifecycle.
func TestIncrementalStateSteps(t *testing.T) {
	state := NewIncrementalState(16)

	if state.Step() != 0 {
		t.Errorf("Step() = %d, expected 0", state.Step())
	}
	if state.MaxLen() != 16 {
		t.Errorf("MaxLen() = %d, expected 16", state.MaxLen())
	}

	state.Advance(1)
	state.Advance(3)
	if state.Step() != 4 {
		t.Errorf("Step() = %d after advancing 4, expected 4", state.Step())
	}

	state.Reset()
	if state.Step() != 0 {
		t.Errorf("Step() = %d after Reset, expected 0", state.Step())
	}
}

// TestStateCachePerOwner tests that each owner gets its own stable
// cache.
func TestStateCachePerOwner(t *testing.T) {
	state := NewIncrementalState(8)

	ownerA := &struct{ int }{}
	ownerB := &struct{ int }{}

	cacheA := state.Cache(ownerA)
	if cacheA == nil {
		t.Fatal("Cache returned nil")
	}
	if state.Cache(ownerA) != cacheA {
		t.Error("repeated Cache calls must return the same instance")
	}
	if state.Cache(ownerB) == cacheA {
		t.Error("different owners must get different caches")
	}
	if cacheA.MaxLength != 8 {
		t.Errorf("cache MaxLength = %d, expected 8", cacheA.MaxLength)
	}

	state.Reset()
	if state.Cache(ownerA) == cacheA {
		t.Error("Reset must discard existing caches")
	}
}

// TestKVCacheUpdate tests appending and prefix retrieval.
func TestKVCacheUpdate(t *testing.T) {
	cache := &KVCache{MaxLength: 4}

	k1 := tensor.NewTensor([]int{1, 2, 2, 3})
	v1 := tensor.NewTensor([]int{1, 2, 2, 3})
	for i := range k1.Data {
		k1.Data[i] = float64(i)
		v1.Data[i] = float64(i) * 10
	}

	k, v, pads, err := cache.Update(k1, v1, nil)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, expected 2", cache.Len())
	}
	if !k.Equals(k1, 0) || !v.Equals(v1, 0) {
		t.Error("first prefix must equal the first update")
	}
	for i, p := range pads.Data {
		if p != 0 {
			t.Errorf("pads.Data[%d] = %g, expected 0 for nil mask", i, p)
		}
	}

	k2 := tensor.NewTensor([]int{1, 2, 1, 3})
	v2 := tensor.NewTensor([]int{1, 2, 1, 3})
	for i := range k2.Data {
		k2.Data[i] = 100 + float64(i)
	}

	k, _, _, err = cache.Update(k2, v2, nil)
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}
	if cache.Len() != 3 {
		t.Errorf("Len() = %d, expected 3", cache.Len())
	}

	expectedShape := []int{1, 2, 3, 3}
	for i, dim := range expectedShape {
		if k.Shape[i] != dim {
			t.Fatalf("prefix shape %v, expected %v", k.Shape, expectedShape)
		}
	}

	// Old positions keep their values, the new position follows.
	for h := 0; h < 2; h++ {
		for d := 0; d < 3; d++ {
			if got, want := k.Get([]int{0, h, 0, d}), k1.Get([]int{0, h, 0, d}); got != want {
				t.Fatalf("prefix k[0,%d,0,%d] = %g, expected %g", h, d, got, want)
			}
			if got, want := k.Get([]int{0, h, 2, d}), k2.Get([]int{0, h, 0, d}); got != want {
				t.Fatalf("prefix k[0,%d,2,%d] = %g, expected %g", h, d, got, want)
			}
		}
	}
}

// TestKVCachePads tests that padding mask columns accumulate across
// updates.
func TestKVCachePads(t *testing.T) {
	cache := &KVCache{MaxLength: 4}
	negInf := math.Inf(-1)

	k1 := tensor.NewTensor([]int{1, 1, 2, 2})
	v1 := tensor.NewTensor([]int{1, 1, 2, 2})
	pad1, _ := tensor.FromSlice([]float64{0, negInf}, []int{1, 2})

	if _, _, _, err := cache.Update(k1, v1, pad1); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	k2 := tensor.NewTensor([]int{1, 1, 1, 2})
	v2 := tensor.NewTensor([]int{1, 1, 1, 2})

	_, _, pads, err := cache.Update(k2, v2, nil)
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}

	expected := []float64{0, negInf, 0}
	for i, want := range expected {
		if pads.Data[i] != want {
			t.Errorf("pads.Data[%d] = %g, expected %g", i, pads.Data[i], want)
		}
	}
}

// TestKVCacheOverflow tests the capacity check.
func TestKVCacheOverflow(t *testing.T) {
	cache := &KVCache{MaxLength: 2}

	k := tensor.NewTensor([]int{1, 1, 2, 2})
	v := tensor.NewTensor([]int{1, 1, 2, 2})
	if _, _, _, err := cache.Update(k, v, nil); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, _, _, err := cache.Update(k, v, nil); err == nil {
		t.Error("expected overflow error, got nil")
	}
}

// TestKVCacheShapeMismatch tests rejection of inconsistent updates.
func TestKVCacheShapeMismatch(t *testing.T) {
	cache := &KVCache{MaxLength: 8}

	k := tensor.NewTensor([]int{1, 2, 1, 4})
	v := tensor.NewTensor([]int{1, 2, 1, 4})
	if _, _, _, err := cache.Update(k, v, nil); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	badHeads := tensor.NewTensor([]int{1, 4, 1, 4})
	if _, _, _, err := cache.Update(badHeads, badHeads, nil); err == nil {
		t.Error("expected error for changed head count, got nil")
	}

	badBatch := tensor.NewTensor([]int{2, 2, 1, 4})
	if _, _, _, err := cache.Update(badBatch, badBatch, nil); err == nil {
		t.Error("expected error for changed batch size, got nil")
	}

	mismatched := tensor.NewTensor([]int{1, 2, 2, 4})
	if _, _, _, err := cache.Update(k, mismatched, nil); err == nil {
		t.Error("expected error for K/V shape mismatch, got nil")
	}
}
