package nn

import (
	"fmt"
	"math"

	"goseq2seq/pkg/tensor"
)

// ScoreProjection produces unnormalized per-symbol scores (logits)
// from the output of a decoder.
//
// It is a bias-free linear map from the model width to the vocabulary
// size, initialized from N(0, embed_dim^-1), i.e. a standard deviation
// of embed_dim^-0.5, which keeps initial score magnitudes stable
// regardless of model width. The produced scores should be forwarded
// to a softmax to obtain next-symbol probabilities.
//
// The projection is not invoked inside the decoder; callers apply it
// to the decoder output so output scoring can be tied or trained
// independently of decoder internals.
type ScoreProjection struct {
	Weight   *tensor.Tensor // (embed_dim, num_embed)
	NumEmbed int
	EmbedDim int
}

// NewScoreProjection creates a score projection for a vocabulary of
// numEmbed symbols over embedDim-wide decoder outputs.
func NewScoreProjection(numEmbed, embedDim int) (*ScoreProjection, error) {
	if numEmbed <= 0 {
		return nil, fmt.Errorf("num_embed must be positive, got %d", numEmbed)
	}
	if embedDim <= 0 {
		return nil, fmt.Errorf("embed_dim must be positive, got %d", embedDim)
	}

	weight := tensor.NewTensor([]int{embedDim, numEmbed})
	normalFill(weight.Data, math.Pow(float64(embedDim), -0.5))

	return &ScoreProjection{
		Weight:   weight,
		NumEmbed: numEmbed,
		EmbedDim: embedDim,
	}, nil
}

// Forward computes scores for each position.
//
// Input shape: (batch, seq, embed_dim)
// Output shape: (batch, seq, num_embed)
func (p *ScoreProjection) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	lastDim := x.Shape[len(x.Shape)-1]
	if lastDim != p.EmbedDim {
		return nil, fmt.Errorf("input dimension %d doesn't match projection input dimension %d",
			lastDim, p.EmbedDim)
	}

	scores, err := tensor.Matmul(x, p.Weight)
	if err != nil {
		return nil, fmt.Errorf("failed to compute scores: %w", err)
	}

	return scores, nil
}
