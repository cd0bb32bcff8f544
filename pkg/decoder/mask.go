package decoder

import (
	"math"

	"goseq2seq/pkg/tensor"
)

// MaskGenerator produces the self-attention mask for a query sequence
// of the given length. Masks are additive: a value of 0 permits
// attention, -Inf forbids it. The generated mask is added to the raw
// attention scores before softmax.
type MaskGenerator interface {
	Generate(seqLen int) *tensor.Tensor
}

// CausalMaskGenerator produces the standard no-look-ahead mask:
// position i may attend to position j only when j <= i.
//
// Masks for previously seen lengths are cached; the generator is a
// pure function of the sequence length, so the cache is an
// optimization only. Not safe for concurrent use, matching the
// single-threaded forward contract.
type CausalMaskGenerator struct {
	cache map[int]*tensor.Tensor
}

// NewCausalMaskGenerator creates a causal mask generator.
func NewCausalMaskGenerator() *CausalMaskGenerator {
	return &CausalMaskGenerator{cache: make(map[int]*tensor.Tensor)}
}

// Generate returns a (seqLen, seqLen) additive mask with -Inf strictly
// above the diagonal.
func (g *CausalMaskGenerator) Generate(seqLen int) *tensor.Tensor {
	if mask, ok := g.cache[seqLen]; ok {
		return mask
	}

	mask := tensor.NewTensor([]int{seqLen, seqLen})
	negInf := math.Inf(-1)
	for i := 0; i < seqLen; i++ {
		for j := i + 1; j < seqLen; j++ {
			mask.Data[i*seqLen+j] = negInf
		}
	}

	g.cache[seqLen] = mask
	return mask
}

// paddingMask derives the additive key padding mask from raw symbol
// indices: -Inf at positions equal to paddingIdx, 0 elsewhere.
//
// Input shape: (batch, seq) of symbol indices
// Output shape: (batch, seq)
//
// The mask is recomputed from the current input on every call and is
// never cached or persisted. No "contains any padding at all" check is
// made first; see DESIGN.md for the rationale.
func paddingMask(seq *tensor.Tensor, paddingIdx int) *tensor.Tensor {
	mask := tensor.NewTensor(seq.Shape)
	negInf := math.Inf(-1)
	for i, v := range seq.Data {
		if int(v) == paddingIdx {
			mask.Data[i] = negInf
		}
	}
	return mask
}
