package decoder

import (
	"fmt"

	"goseq2seq/pkg/nn"
	"goseq2seq/pkg/tensor"
)

// Layer is the per-layer contract consumed by the decoder orchestrator.
// A decoder layer consumes the hidden state and returns an updated
// hidden state of identical shape, preserving the trailing model width
// and the leading batch/sequence shape. When an incremental state is
// supplied the layer appends this call's keys/values to its cache.
type Layer interface {
	// Forward runs one layer.
	//
	// Input shapes:
	//   - x: (batch, seq, model_dim)
	//   - selfAttnMask: optional additive (seq, key_len) mask, or nil
	//   - selfAttnPaddingMask: optional additive (batch, seq) mask, or nil
	//   - encOut: optional encoder output (batch, src_seq, enc_dim), or nil
	//   - encPaddingMask: optional additive (batch, src_seq) mask, or nil
	//   - state: optional incremental state, or nil
	//   - training: enables dropout
	Forward(x *tensor.Tensor, selfAttnMask, selfAttnPaddingMask, encOut, encPaddingMask *tensor.Tensor, state *IncrementalState, training bool) (*tensor.Tensor, error)

	// ModelDim returns the layer's hidden width.
	ModelDim() int
}

// FeedForward is the position-wise two-layer transform with GELU
// activation used inside a standard decoder layer.
type FeedForward struct {
	FC1 *nn.Linear // (model_dim, hidden_dim)
	FC2 *nn.Linear // (hidden_dim, model_dim)
}

// NewFeedForward creates a feed-forward block expanding modelDim to
// hiddenDim and back.
func NewFeedForward(modelDim, hiddenDim int) (*FeedForward, error) {
	fc1, err := nn.NewLinear(modelDim, hiddenDim)
	if err != nil {
		return nil, err
	}
	fc2, err := nn.NewLinear(hiddenDim, modelDim)
	if err != nil {
		return nil, err
	}
	return &FeedForward{FC1: fc1, FC2: fc2}, nil
}

// Forward computes FC2(GELU(FC1(x))).
func (ff *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	hidden, err := ff.FC1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to compute FC1 projection: %w", err)
	}
	out, err := ff.FC2.Forward(hidden.GELU())
	if err != nil {
		return nil, fmt.Errorf("failed to compute FC2 projection: %w", err)
	}
	return out, nil
}

// StandardLayerConfig configures a StandardLayer.
type StandardLayerConfig struct {
	// NumHeads is the number of attention heads.
	NumHeads int

	// FFNHiddenDim is the feed-forward expansion width.
	FFNHiddenDim int

	// EncoderDim is the width of the encoder output attended to by
	// cross-attention. Zero disables cross-attention (decoder-only).
	EncoderDim int

	// DropoutP is the dropout probability on each sublayer output.
	DropoutP float64

	// NormOrder places normalization before (pre) or after (post) each
	// sublayer.
	NormOrder NormOrder

	// NormEps is the LayerNorm epsilon.
	NormEps float64
}

// StandardLayer is the standard transformer decoder layer: masked
// self-attention, optional cross-attention over an encoder output, and
// a position-wise feed-forward transform, each wrapped in a residual
// connection with pre- or post-normalization.
type StandardLayer struct {
	SelfAttn      *MultiHeadAttention
	CrossAttn     *MultiHeadAttention // nil when decoder-only
	FF            *FeedForward
	SelfAttnNorm  *nn.LayerNorm
	CrossAttnNorm *nn.LayerNorm // nil when decoder-only
	FFNorm        *nn.LayerNorm
	NormOrder     NormOrder
	DropoutP      float64

	modelDim int
}

// NewStandardLayer creates a decoder layer of the given model width.
func NewStandardLayer(modelDim int, cfg StandardLayerConfig) (*StandardLayer, error) {
	if modelDim <= 0 {
		return nil, fmt.Errorf("model_dim must be positive, got %d", modelDim)
	}
	if cfg.FFNHiddenDim <= 0 {
		return nil, fmt.Errorf("ffn_hidden_dim must be positive, got %d", cfg.FFNHiddenDim)
	}

	selfAttn, err := NewMultiHeadAttention(cfg.NumHeads, modelDim, modelDim)
	if err != nil {
		return nil, fmt.Errorf("failed to create self-attention: %w", err)
	}

	layer := &StandardLayer{
		SelfAttn:     selfAttn,
		SelfAttnNorm: nn.NewLayerNorm(modelDim, cfg.NormEps),
		FFNorm:       nn.NewLayerNorm(modelDim, cfg.NormEps),
		NormOrder:    cfg.NormOrder,
		DropoutP:     cfg.DropoutP,
		modelDim:     modelDim,
	}

	if cfg.EncoderDim > 0 {
		crossAttn, err := NewMultiHeadAttention(cfg.NumHeads, modelDim, cfg.EncoderDim)
		if err != nil {
			return nil, fmt.Errorf("failed to create cross-attention: %w", err)
		}
		layer.CrossAttn = crossAttn
		layer.CrossAttnNorm = nn.NewLayerNorm(modelDim, cfg.NormEps)
	}

	layer.FF, err = NewFeedForward(modelDim, cfg.FFNHiddenDim)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed-forward: %w", err)
	}

	return layer, nil
}

// ModelDim returns the layer's hidden width.
func (l *StandardLayer) ModelDim() int {
	return l.modelDim
}

// Forward runs the layer. See the Layer interface for the shape
// contract.
func (l *StandardLayer) Forward(x *tensor.Tensor, selfAttnMask, selfAttnPaddingMask, encOut, encPaddingMask *tensor.Tensor, state *IncrementalState, training bool) (*tensor.Tensor, error) {
	if encOut != nil && l.CrossAttn == nil {
		return nil, fmt.Errorf("layer has no encoder-decoder attention but encoder output was supplied")
	}

	var cache *KVCache
	if state != nil {
		cache = state.Cache(l)
	}

	// Self-attention block.
	x, err := l.sublayer(x, training, func(h *tensor.Tensor) (*tensor.Tensor, error) {
		return l.SelfAttn.Forward(h, h, selfAttnMask, selfAttnPaddingMask, cache)
	}, l.SelfAttnNorm)
	if err != nil {
		return nil, fmt.Errorf("failed to compute self-attention: %w", err)
	}

	// Cross-attention block, only when an encoder output is present.
	if encOut != nil {
		x, err = l.sublayer(x, training, func(h *tensor.Tensor) (*tensor.Tensor, error) {
			return l.CrossAttn.Forward(h, encOut, nil, encPaddingMask, nil)
		}, l.CrossAttnNorm)
		if err != nil {
			return nil, fmt.Errorf("failed to compute encoder-decoder attention: %w", err)
		}
	}

	// Feed-forward block.
	x, err = l.sublayer(x, training, func(h *tensor.Tensor) (*tensor.Tensor, error) {
		return l.FF.Forward(h)
	}, l.FFNorm)
	if err != nil {
		return nil, fmt.Errorf("failed to compute feed-forward: %w", err)
	}

	return x, nil
}

// sublayer wraps fn in a residual connection with dropout and the
// configured normalization order: pre-norm normalizes the input to fn,
// post-norm normalizes the residual sum.
func (l *StandardLayer) sublayer(x *tensor.Tensor, training bool, fn func(*tensor.Tensor) (*tensor.Tensor, error), norm *nn.LayerNorm) (*tensor.Tensor, error) {
	shortcut := x

	h := x
	var err error
	if l.NormOrder != NormPost {
		h, err = norm.Forward(h)
		if err != nil {
			return nil, err
		}
	}

	h, err = fn(h)
	if err != nil {
		return nil, err
	}

	if l.DropoutP > 0 && training {
		h = h.Dropout(l.DropoutP, training)
	}

	out, err := tensor.Add(h, shortcut)
	if err != nil {
		return nil, fmt.Errorf("failed to add residual: %w", err)
	}

	if l.NormOrder == NormPost {
		out, err = norm.Forward(out)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}
