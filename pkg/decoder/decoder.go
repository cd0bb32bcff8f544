package decoder

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"goseq2seq/pkg/nn"
	"goseq2seq/pkg/tensor"
)

// NormOrder selects where layer normalization sits relative to the
// sublayers of the stack.
type NormOrder int

const (
	// NormPost applies normalization after each sublayer's residual
	// sum (the original transformer ordering). No stack-level final
	// normalizer is used.
	NormPost NormOrder = iota

	// NormPre applies normalization before each sublayer and once more
	// after the full stack.
	NormPre

	// NormPreFinal is pre-normalization where only the stack-level
	// final normalizer differs from NormPre in downstream conventions;
	// the layer-level behavior matches NormPre.
	NormPreFinal
)

// String returns the order's name.
func (o NormOrder) String() string {
	switch o {
	case NormPost:
		return "post"
	case NormPre:
		return "pre"
	case NormPreFinal:
		return "pre-final"
	default:
		return fmt.Sprintf("NormOrder(%d)", int(o))
	}
}

// Config holds the construction-time decoder hyperparameters. The
// configuration is immutable after construction.
type Config struct {
	// NoScaleEmbed disables scaling embeddings by sqrt(embed_dim).
	NoScaleEmbed bool

	// NormEmbed applies layer normalization to the sum of symbol and
	// positional embeddings.
	NormEmbed bool

	// EmbedDropoutP is the dropout probability on embeddings, in [0, 1).
	EmbedDropoutP float64

	// LayerDropP stochastically skips whole layers during training
	// with this probability, in [0, 1]. Forced to zero at inference.
	LayerDropP float64

	// NormOrder places normalization relative to the sublayers.
	NormOrder NormOrder

	// NormEps is the epsilon added to LayerNorm denominators.
	NormEps float64
}

// DefaultConfig returns the standard decoder configuration.
func DefaultConfig() Config {
	return Config{
		EmbedDropoutP: 0.1,
		NormOrder:     NormPost,
		NormEps:       1e-5,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.EmbedDropoutP < 0 || c.EmbedDropoutP >= 1 {
		return fmt.Errorf("embed_dropout_p must be in [0, 1), got %g", c.EmbedDropoutP)
	}
	if c.LayerDropP < 0 || c.LayerDropP > 1 {
		return fmt.Errorf("layer_drop_p must be in [0, 1], got %g", c.LayerDropP)
	}
	if c.NormEps <= 0 {
		return fmt.Errorf("norm_eps must be positive, got %g", c.NormEps)
	}
	switch c.NormOrder {
	case NormPost, NormPre, NormPreFinal:
	default:
		return fmt.Errorf("unknown norm order %d", int(c.NormOrder))
	}
	return nil
}

// Decoder is the abstract decoder contract: it converts a sequence of
// symbol indices into hidden representations of the model width.
// Implementations must not have side effects beyond mutating a
// supplied incremental state.
type Decoder interface {
	// Forward computes the decoder output.
	//
	// Input shapes:
	//   - seq: (batch, seq) or (seq) of symbol indices
	//   - encOut: optional encoder output (batch, src_seq, enc_dim), or nil
	//   - encPaddingMask: optional additive (batch, src_seq) mask
	//     aligned with encOut, or nil
	//   - state: optional incremental state for step-by-step decoding
	//
	// Output shape: (batch, seq, model_dim), or (seq, model_dim) for
	// unbatched input.
	Forward(seq *tensor.Tensor, encOut, encPaddingMask *tensor.Tensor, state *IncrementalState) (*tensor.Tensor, error)

	// ModelDim returns the width of the decoder output.
	ModelDim() int
}

// StandardDecoder is the standard transformer decoder: embedding
// lookup and scaling, positional encoding, optional embedding
// normalization and dropout, optional dimension adapters between the
// embedding and model widths, causal self-attention masking, and the
// ordered layer stack with optional layer drop.
type StandardDecoder struct {
	Embed      *nn.Embedding
	PosEncoder nn.PositionalEncoder // nil when no positional encoding is used
	EmbedScale float64
	EmbedNorm  *nn.LayerNorm // nil unless NormEmbed
	InProj     *nn.Linear    // nil when embed_dim == model_dim
	OutProj    *nn.Linear    // nil when embed_dim == model_dim
	MaskGen    MaskGenerator
	Layers     []Layer
	FinalNorm  *nn.LayerNorm // nil when NormOrder == NormPost
	Training   bool

	cfg      Config
	modelDim int
}

// NewStandardDecoder builds a decoder from an embedding, an optional
// positional encoder, and a non-empty layer stack. maskGen may be nil,
// in which case a causal mask generator is used.
//
// Construction fails when the layer stack is empty, when any layer's
// width differs from the first layer's, or when the positional
// encoder's width differs from the embedding width. The dimension
// adapters are created only when the embedding width differs from the
// model width; otherwise no adapter parameters exist at all.
func NewStandardDecoder(cfg Config, embed *nn.Embedding, posEncoder nn.PositionalEncoder, layers []Layer, maskGen MaskGenerator) (*StandardDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if embed == nil {
		return nil, fmt.Errorf("embedding must not be nil")
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("layers must contain at least one decoder layer")
	}

	modelDim := layers[0].ModelDim()
	for idx, layer := range layers {
		if layer.ModelDim() != modelDim {
			return nil, fmt.Errorf("model_dim of decoder layer %d (%d) does not match model_dim (%d)",
				idx, layer.ModelDim(), modelDim)
		}
	}

	embedDim := embed.EmbedDim

	if posEncoder != nil && posEncoder.Dim() != embedDim {
		return nil, fmt.Errorf("positional encoder dimension (%d) does not match embedding dimension (%d)",
			posEncoder.Dim(), embedDim)
	}

	d := &StandardDecoder{
		Embed:      embed,
		PosEncoder: posEncoder,
		MaskGen:    maskGen,
		Layers:     layers,
		Training:   true,
		cfg:        cfg,
		modelDim:   modelDim,
	}

	if cfg.NoScaleEmbed {
		d.EmbedScale = 1.0
	} else {
		d.EmbedScale = math.Sqrt(float64(embedDim))
	}

	if cfg.NormEmbed {
		d.EmbedNorm = nn.NewLayerNorm(embedDim, cfg.NormEps)
	}

	if embedDim != modelDim {
		inProj, err := nn.NewLinear(embedDim, modelDim)
		if err != nil {
			return nil, fmt.Errorf("failed to create input dimension adapter: %w", err)
		}
		outProj, err := nn.NewLinear(modelDim, embedDim)
		if err != nil {
			return nil, fmt.Errorf("failed to create output dimension adapter: %w", err)
		}
		d.InProj = inProj
		d.OutProj = outProj
	}

	if d.MaskGen == nil {
		d.MaskGen = NewCausalMaskGenerator()
	}

	if cfg.NormOrder != NormPost {
		d.FinalNorm = nn.NewLayerNorm(modelDim, cfg.NormEps)
	}

	return d, nil
}

// ModelDim returns the decoder's internal width.
func (d *StandardDecoder) ModelDim() int {
	return d.modelDim
}

// SetTraining sets the training mode. Training mode enables dropout
// and layer drop and forces full mask construction; inference mode is
// deterministic.
func (d *StandardDecoder) SetTraining(training bool) {
	d.Training = training
}

// IsTraining reports whether the decoder is in training mode.
func (d *StandardDecoder) IsTraining() bool {
	return d.Training
}

// Forward computes the decoder forward pass.
//
// If a layer fails mid-stack, earlier layers may already have appended
// to the incremental state; the partial update is not rolled back.
func (d *StandardDecoder) Forward(seq *tensor.Tensor, encOut, encPaddingMask *tensor.Tensor, state *IncrementalState) (*tensor.Tensor, error) {
	unbatched := len(seq.Shape) == 1
	if unbatched {
		seq = seq.Reshape([]int{1, seq.Shape[0]})
	}
	if len(seq.Shape) != 2 {
		return nil, fmt.Errorf("expected (batch, seq) or (seq) symbol indices, got %dD with shape %v",
			len(seq.Shape), seq.Shape)
	}
	if encPaddingMask != nil && encOut == nil {
		return nil, fmt.Errorf("encoder padding mask supplied without encoder output")
	}
	if encOut != nil && encPaddingMask != nil {
		if len(encOut.Shape) != 3 || len(encPaddingMask.Shape) != 2 ||
			encPaddingMask.Shape[0] != encOut.Shape[0] || encPaddingMask.Shape[1] != encOut.Shape[1] {
			return nil, fmt.Errorf("encoder padding mask shape %v does not align with encoder output shape %v",
				encPaddingMask.Shape, encOut.Shape)
		}
	}

	// Step 1: derive the padding mask from the raw input. Skipped
	// entirely when no padding index is configured.
	var selfAttnPaddingMask *tensor.Tensor
	if d.Embed.PaddingIdx != nil {
		selfAttnPaddingMask = paddingMask(seq, *d.Embed.PaddingIdx)
	}

	// Steps 2-6: the embedding path.
	x, err := d.forwardEmbed(seq, state)
	if err != nil {
		return nil, err
	}

	if d.InProj != nil {
		x, err = d.InProj.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("failed to apply input dimension adapter: %w", err)
		}
	}

	// Step 7: the self-attention mask. During an incremental
	// evaluation only the current step's queries exist and the cache
	// holds nothing but past positions, so causality needs no mask.
	var selfAttnMask *tensor.Tensor
	if d.Training || state == nil {
		selfAttnMask = d.MaskGen.Generate(seq.Shape[1])
	}

	// Step 8: the layer stack, with per-layer stochastic skipping
	// during training. Inference is always deterministic.
	for idx, layer := range d.Layers {
		if d.Training && d.cfg.LayerDropP > 0 && layerDropSample() < d.cfg.LayerDropP {
			continue
		}

		x, err = layer.Forward(x, selfAttnMask, selfAttnPaddingMask, encOut, encPaddingMask, state, d.Training)
		if err != nil {
			return nil, fmt.Errorf("failed in decoder layer %d: %w", idx, err)
		}
	}

	// Step 9: stack-level normalization, pre-norm orderings only.
	if d.FinalNorm != nil {
		x, err = d.FinalNorm.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("failed to apply final layer norm: %w", err)
		}
	}

	// Step 10: project back to the embedding width.
	if d.OutProj != nil {
		x, err = d.OutProj.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("failed to apply output dimension adapter: %w", err)
		}
	}

	if unbatched {
		x = x.Reshape([]int{x.Shape[1], x.Shape[2]})
	}
	return x, nil
}

// forwardEmbed runs the embedding path: lookup, scale, positional
// encoding, optional normalization, dropout.
func (d *StandardDecoder) forwardEmbed(seq *tensor.Tensor, state *IncrementalState) (*tensor.Tensor, error) {
	x, err := d.Embed.Lookup(seq)
	if err != nil {
		return nil, fmt.Errorf("failed to look up embeddings: %w", err)
	}

	if d.EmbedScale != 1.0 {
		x = x.Scale(d.EmbedScale)
	}

	if d.PosEncoder != nil {
		startPos := 0
		if state != nil {
			startPos = state.Step()
		}
		x, err = d.PosEncoder.Apply(x, startPos)
		if err != nil {
			return nil, fmt.Errorf("failed to apply positional encoding: %w", err)
		}
	}

	if d.EmbedNorm != nil {
		x, err = d.EmbedNorm.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize embeddings: %w", err)
		}
	}

	if d.cfg.EmbedDropoutP > 0 {
		x = x.Dropout(d.cfg.EmbedDropoutP, d.Training)
	}

	return x, nil
}

// layerDropRand is a package-level random number generator for layer
// drop sampling.
var layerDropRand *rand.Rand

// layerDropSample draws one uniform sample for a layer-drop decision.
func layerDropSample() float64 {
	if layerDropRand == nil {
		layerDropRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return layerDropRand.Float64()
}

// SetLayerDropSeed sets the random seed for layer drop (useful for
// testing).
func SetLayerDropSeed(seed int64) {
	layerDropRand = rand.New(rand.NewSource(seed))
}
