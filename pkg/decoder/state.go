// Package decoder implements the forward pass of an autoregressive
// transformer decoder stack: symbol embedding and scaling, positional
// encoding, causal self-attention masking, per-layer dispatch with
// incremental decoding support, and the optional dimension adapters
// reconciling embedding and model widths.
package decoder

import (
	"fmt"

	"goseq2seq/pkg/tensor"
)

// IncrementalState carries the per-layer key/value caches and the
// decoding step counter across incremental forward calls.
//
// The state is a shared mutable resource: exactly one forward
// invocation may mutate a given instance at a time. No locking is
// performed internally; exclusivity is the caller's responsibility.
// The decoder core only checks presence and reads the step counter;
// cache contents are owned by the layers.
//
// The step counter is advanced by the caller (via Advance) after each
// successful forward call, not by the decoder itself.
type IncrementalState struct {
	step   int
	maxLen int
	caches map[any]*KVCache
}

// NewIncrementalState creates a state for decoding up to maxLen
// positions.
func NewIncrementalState(maxLen int) *IncrementalState {
	return &IncrementalState{
		maxLen: maxLen,
		caches: make(map[any]*KVCache),
	}
}

// Step returns the current decoding step, i.e. the absolute position
// of the next input symbol.
func (s *IncrementalState) Step() int {
	return s.step
}

// Advance moves the step counter forward by n positions.
func (s *IncrementalState) Advance(n int) {
	s.step += n
}

// MaxLen returns the maximum number of positions the state can hold.
func (s *IncrementalState) MaxLen() int {
	return s.maxLen
}

// Cache returns the KV cache owned by the given layer, creating an
// empty one on first use. Layers key by their own identity so stacks
// sharing a state never collide.
func (s *IncrementalState) Cache(owner any) *KVCache {
	cache, ok := s.caches[owner]
	if !ok {
		cache = &KVCache{MaxLength: s.maxLen}
		s.caches[owner] = cache
	}
	return cache
}

// Reset clears all cached keys/values and rewinds the step counter.
func (s *IncrementalState) Reset() {
	s.step = 0
	s.caches = make(map[any]*KVCache)
}

// KVCache stores previously computed key and value tensors for one
// attention module so incremental decoding only computes projections
// for new positions.
//
// Alongside K and V it accumulates the key padding mask columns of
// each call, so attention over the cached prefix sees the same padding
// exclusions as a full-sequence pass would.
//
// Shapes:
//   - K, V: (batch, heads, max_length, head_dim)
//   - Pads: (batch, max_length) additive mask values
type KVCache struct {
	K          *tensor.Tensor
	V          *tensor.Tensor
	Pads       *tensor.Tensor
	CurrentPos int // next position to write (0 = empty)
	MaxLength  int

	batchSize int
	numHeads  int
	headDim   int
}

// Update appends new K and V tensors (and the matching key padding
// mask columns, zeros when padMask is nil) and returns the full cached
// prefix.
//
// Parameters:
//   - newK, newV: (batch, heads, new_tokens, head_dim)
//   - padMask: (batch, new_tokens) additive mask, or nil
//
// Returns:
//   - cached K and V, shape (batch, heads, CurrentPos, head_dim)
//   - cached padding mask, shape (batch, CurrentPos)
func (c *KVCache) Update(newK, newV, padMask *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	if len(newK.Shape) != 4 || len(newV.Shape) != 4 {
		return nil, nil, nil, fmt.Errorf("expected 4D tensors, got K=%dD, V=%dD",
			len(newK.Shape), len(newV.Shape))
	}

	batchSize := newK.Shape[0]
	numHeads := newK.Shape[1]
	newTokens := newK.Shape[2]
	headDim := newK.Shape[3]

	if !newK.ShapeEquals(newV) {
		return nil, nil, nil, fmt.Errorf("newK and newV must have same shape, got K=%v, V=%v",
			newK.Shape, newV.Shape)
	}
	if padMask != nil && (len(padMask.Shape) != 2 || padMask.Shape[0] != batchSize || padMask.Shape[1] != newTokens) {
		return nil, nil, nil, fmt.Errorf("padding mask shape %v doesn't match (batch=%d, new_tokens=%d)",
			padMask.Shape, batchSize, newTokens)
	}

	if c.K == nil {
		// Allocate on first use, sized by the first update.
		c.K = tensor.NewTensor([]int{batchSize, numHeads, c.MaxLength, headDim})
		c.V = tensor.NewTensor([]int{batchSize, numHeads, c.MaxLength, headDim})
		c.Pads = tensor.NewTensor([]int{batchSize, c.MaxLength})
		c.batchSize = batchSize
		c.numHeads = numHeads
		c.headDim = headDim
	}

	if batchSize != c.batchSize {
		return nil, nil, nil, fmt.Errorf("batch size mismatch: expected %d, got %d", c.batchSize, batchSize)
	}
	if numHeads != c.numHeads {
		return nil, nil, nil, fmt.Errorf("heads mismatch: expected %d, got %d", c.numHeads, numHeads)
	}
	if headDim != c.headDim {
		return nil, nil, nil, fmt.Errorf("head_dim mismatch: expected %d, got %d", c.headDim, headDim)
	}
	if c.CurrentPos+newTokens > c.MaxLength {
		return nil, nil, nil, fmt.Errorf("cache overflow: cannot add %d tokens at position %d (max %d)",
			newTokens, c.CurrentPos, c.MaxLength)
	}

	// Copy the new tokens in after the cached prefix.
	for b := 0; b < batchSize; b++ {
		for h := 0; h < numHeads; h++ {
			for t := 0; t < newTokens; t++ {
				srcOffset := ((b*numHeads+h)*newTokens + t) * headDim
				dstOffset := ((b*numHeads+h)*c.MaxLength + c.CurrentPos + t) * headDim
				copy(c.K.Data[dstOffset:dstOffset+headDim], newK.Data[srcOffset:srcOffset+headDim])
				copy(c.V.Data[dstOffset:dstOffset+headDim], newV.Data[srcOffset:srcOffset+headDim])
			}
		}
		for t := 0; t < newTokens; t++ {
			if padMask != nil {
				c.Pads.Data[b*c.MaxLength+c.CurrentPos+t] = padMask.Data[b*newTokens+t]
			}
		}
	}

	c.CurrentPos += newTokens

	k, v, pads := c.cachedPrefix()
	return k, v, pads, nil
}

// Len returns the number of cached positions.
func (c *KVCache) Len() int {
	return c.CurrentPos
}

// cachedPrefix compacts the first CurrentPos positions of K, V, and
// Pads into freshly allocated tensors.
func (c *KVCache) cachedPrefix() (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor) {
	k := tensor.NewTensor([]int{c.batchSize, c.numHeads, c.CurrentPos, c.headDim})
	v := tensor.NewTensor([]int{c.batchSize, c.numHeads, c.CurrentPos, c.headDim})
	pads := tensor.NewTensor([]int{c.batchSize, c.CurrentPos})

	for b := 0; b < c.batchSize; b++ {
		for h := 0; h < c.numHeads; h++ {
			srcOffset := (b*c.numHeads + h) * c.MaxLength * c.headDim
			dstOffset := (b*c.numHeads + h) * c.CurrentPos * c.headDim
			n := c.CurrentPos * c.headDim
			copy(k.Data[dstOffset:dstOffset+n], c.K.Data[srcOffset:srcOffset+n])
			copy(v.Data[dstOffset:dstOffset+n], c.V.Data[srcOffset:srcOffset+n])
		}
		copy(pads.Data[b*c.CurrentPos:(b+1)*c.CurrentPos], c.Pads.Data[b*c.MaxLength:b*c.MaxLength+c.CurrentPos])
	}

	return k, v, pads
}
