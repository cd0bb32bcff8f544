package nn

import (
	"fmt"
	"math"

	"goseq2seq/pkg/tensor"
)

// PositionalEncoder adds position-dependent offsets to a sequence of
// embeddings. startPos is the absolute position of the first input
// row, so incremental decoding can continue positions monotonically
// across steps instead of restarting at zero.
type PositionalEncoder interface {
	// Apply adds positional information to x.
	//
	// Input shape: (batch, seq, dim)
	// Output shape: same as input
	Apply(x *tensor.Tensor, startPos int) (*tensor.Tensor, error)

	// Dim returns the encoding width, which must equal the embedding
	// width it is combined with.
	Dim() int
}

// SinusoidalPositional is the fixed sin/cos positional encoding.
// The table is precomputed at construction for maxLen positions:
//
//	table[pos, 2i]   = sin(pos / 10000^(2i/dim))
//	table[pos, 2i+1] = cos(pos / 10000^(2i/dim))
type SinusoidalPositional struct {
	Table  *tensor.Tensor // (max_len, dim)
	MaxLen int
	dim    int
}

// NewSinusoidalPositional precomputes a sinusoidal table for maxLen
// positions of width dim.
func NewSinusoidalPositional(maxLen, dim int) (*SinusoidalPositional, error) {
	if maxLen <= 0 || dim <= 0 {
		return nil, fmt.Errorf("positional table dimensions must be positive, got max_len=%d dim=%d", maxLen, dim)
	}

	table := tensor.NewTensor([]int{maxLen, dim})
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dim; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(dim))
			table.Data[pos*dim+i] = math.Sin(angle)
			if i+1 < dim {
				table.Data[pos*dim+i+1] = math.Cos(angle)
			}
		}
	}

	return &SinusoidalPositional{Table: table, MaxLen: maxLen, dim: dim}, nil
}

// Apply adds the table rows [startPos, startPos+seq) to every batch
// element of x.
func (p *SinusoidalPositional) Apply(x *tensor.Tensor, startPos int) (*tensor.Tensor, error) {
	return addPositionalTable(x, p.Table, startPos, p.MaxLen, p.dim)
}

// Dim returns the encoding width.
func (p *SinusoidalPositional) Dim() int {
	return p.dim
}

// LearnedPositional is a trainable positional embedding table, as used
// by GPT-2 style models.
type LearnedPositional struct {
	Table  *tensor.Tensor // (max_len, dim)
	MaxLen int
	dim    int
}

// NewLearnedPositional creates a learned positional table initialized
// from N(0, 0.02).
func NewLearnedPositional(maxLen, dim int) (*LearnedPositional, error) {
	if maxLen <= 0 || dim <= 0 {
		return nil, fmt.Errorf("positional table dimensions must be positive, got max_len=%d dim=%d", maxLen, dim)
	}

	table := tensor.NewTensor([]int{maxLen, dim})
	normalFill(table.Data, 0.02)

	return &LearnedPositional{Table: table, MaxLen: maxLen, dim: dim}, nil
}

// Apply adds the table rows [startPos, startPos+seq) to every batch
// element of x.
func (p *LearnedPositional) Apply(x *tensor.Tensor, startPos int) (*tensor.Tensor, error) {
	return addPositionalTable(x, p.Table, startPos, p.MaxLen, p.dim)
}

// Dim returns the encoding width.
func (p *LearnedPositional) Dim() int {
	return p.dim
}

// addPositionalTable adds table rows to each batch element of x,
// starting at absolute position startPos.
func addPositionalTable(x, table *tensor.Tensor, startPos, maxLen, dim int) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, dim), got %dD with shape %v",
			len(x.Shape), x.Shape)
	}

	batchSize, seqLen, xDim := x.Shape[0], x.Shape[1], x.Shape[2]
	if xDim != dim {
		return nil, fmt.Errorf("input dimension %d doesn't match positional dimension %d", xDim, dim)
	}
	if startPos < 0 || startPos+seqLen > maxLen {
		return nil, fmt.Errorf("positions [%d, %d) exceed positional table length %d",
			startPos, startPos+seqLen, maxLen)
	}

	result := tensor.NewTensor(x.Shape)
	for b := 0; b < batchSize; b++ {
		for s := 0; s < seqLen; s++ {
			srcOffset := (startPos + s) * dim
			dstOffset := (b*seqLen + s) * dim
			for d := 0; d < dim; d++ {
				result.Data[dstOffset+d] = x.Data[dstOffset+d] + table.Data[srcOffset+d]
			}
		}
	}

	return result, nil
}
