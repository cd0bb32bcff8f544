// Package nn provides the embedding, normalization, and projection
// modules consumed by the decoder stack.
package nn

import (
	"fmt"

	"goseq2seq/pkg/tensor"
)

// Embedding maps symbol indices to dense vectors via a lookup table.
//
// An optional padding index designates a reserved filler symbol; its
// row is kept at zero and downstream attention excludes those
// positions through the padding mask.
type Embedding struct {
	Weight     *tensor.Tensor // (num_embed, embed_dim)
	NumEmbed   int
	EmbedDim   int
	PaddingIdx *int // nil when no padding symbol is reserved
}

// NewEmbedding creates an embedding table with N(0, 0.02) initialized
// weights. If paddingIdx is non-nil, that row is zeroed.
func NewEmbedding(numEmbed, embedDim int, paddingIdx *int) (*Embedding, error) {
	if numEmbed <= 0 {
		return nil, fmt.Errorf("num_embed must be positive, got %d", numEmbed)
	}
	if embedDim <= 0 {
		return nil, fmt.Errorf("embed_dim must be positive, got %d", embedDim)
	}
	if paddingIdx != nil && (*paddingIdx < 0 || *paddingIdx >= numEmbed) {
		return nil, fmt.Errorf("padding_idx %d out of range [0, %d)", *paddingIdx, numEmbed)
	}

	weight := tensor.NewTensor([]int{numEmbed, embedDim})
	normalFill(weight.Data, 0.02)

	if paddingIdx != nil {
		offset := *paddingIdx * embedDim
		for i := offset; i < offset+embedDim; i++ {
			weight.Data[i] = 0
		}
	}

	return &Embedding{
		Weight:     weight,
		NumEmbed:   numEmbed,
		EmbedDim:   embedDim,
		PaddingIdx: paddingIdx,
	}, nil
}

// Lookup gathers embedding rows for the given symbol indices.
//
// Input shape: (batch, seq) of symbol indices stored as float64
// Output shape: (batch, seq, embed_dim)
func (e *Embedding) Lookup(indices *tensor.Tensor) (*tensor.Tensor, error) {
	if len(indices.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D indices (batch, seq), got %dD with shape %v",
			len(indices.Shape), indices.Shape)
	}

	batchSize, seqLen := indices.Shape[0], indices.Shape[1]
	output := tensor.NewTensor([]int{batchSize, seqLen, e.EmbedDim})

	for b := 0; b < batchSize; b++ {
		for s := 0; s < seqLen; s++ {
			id := int(indices.Get([]int{b, s}))
			if id < 0 || id >= e.NumEmbed {
				return nil, fmt.Errorf("invalid symbol id %d at position (%d, %d), vocabulary size is %d",
					id, b, s, e.NumEmbed)
			}

			srcOffset := id * e.EmbedDim
			dstOffset := (b*seqLen + s) * e.EmbedDim
			copy(output.Data[dstOffset:dstOffset+e.EmbedDim], e.Weight.Data[srcOffset:srcOffset+e.EmbedDim])
		}
	}

	return output, nil
}
