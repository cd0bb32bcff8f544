package decoder

import (
	"fmt"
	"math"

	"goseq2seq/pkg/nn"
	"goseq2seq/pkg/tensor"
)

// trainingModer is implemented by decoders whose stochastic behavior
// can be toggled; Generate forces inference mode for the duration of
// the loop and restores the previous mode on return.
type trainingModer interface {
	SetTraining(bool)
	IsTraining() bool
}

// Generate produces maxNewTokens symbols by greedy incremental
// decoding: symbols are fed one per forward call, the prompt first and
// then each freshly decoded symbol, reusing cached keys/values through
// the incremental state instead of recomputing the full sequence.
//
// encOut and encPaddingMask are forwarded to every decoder call and
// may be nil for decoder-only models.
//
// Returns the prompt followed by the generated symbols.
func Generate(dec Decoder, proj *nn.ScoreProjection, prompt []int, maxNewTokens int, encOut, encPaddingMask *tensor.Tensor) ([]int, error) {
	if len(prompt) == 0 {
		return nil, fmt.Errorf("prompt must contain at least one symbol")
	}
	if maxNewTokens < 0 {
		return nil, fmt.Errorf("max_new_tokens must be non-negative, got %d", maxNewTokens)
	}

	if tm, ok := dec.(trainingModer); ok {
		wasTraining := tm.IsTraining()
		tm.SetTraining(false)
		defer tm.SetTraining(wasTraining)
	}

	state := NewIncrementalState(len(prompt) + maxNewTokens)

	out := make([]int, len(prompt), len(prompt)+maxNewTokens)
	copy(out, prompt)

	// Symbols are fed one at a time: an incremental inference pass
	// carries no self-attention mask, so every call must hold exactly
	// one new position.
	var hidden *tensor.Tensor
	feed := func(id int) error {
		seq, err := tensor.FromSlice([]float64{float64(id)}, []int{1, 1})
		if err != nil {
			return err
		}
		hidden, err = dec.Forward(seq, encOut, encPaddingMask, state)
		if err != nil {
			return err
		}
		state.Advance(1)
		return nil
	}

	for i, id := range prompt {
		if err := feed(id); err != nil {
			return nil, fmt.Errorf("decoder forward failed at prompt position %d: %w", i, err)
		}
	}

	for step := 0; step < maxNewTokens; step++ {
		scores, err := proj.Forward(hidden)
		if err != nil {
			return nil, fmt.Errorf("score projection failed at step %d: %w", step, err)
		}

		next := argmaxLast(scores)
		out = append(out, next)

		if step == maxNewTokens-1 {
			break
		}
		if err := feed(next); err != nil {
			return nil, fmt.Errorf("decoder forward failed at step %d: %w", step, err)
		}
	}

	return out, nil
}

// argmaxLast returns the index of the maximum score at the final
// sequence position.
//
// Input shape: (1, seq, num_embed)
func argmaxLast(scores *tensor.Tensor) int {
	seqLen := scores.Shape[1]
	vocabSize := scores.Shape[2]
	offset := (seqLen - 1) * vocabSize

	maxIdx := 0
	maxVal := math.Inf(-1)
	for v := 0; v < vocabSize; v++ {
		val := scores.Data[offset+v]
		if val > maxVal {
			maxVal = val
			maxIdx = v
		}
	}
	return maxIdx
}
