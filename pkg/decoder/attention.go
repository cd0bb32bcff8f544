package decoder

import (
	"fmt"
	"math"

	"goseq2seq/pkg/nn"
	"goseq2seq/pkg/tensor"
)

// MultiHeadAttention computes scaled dot-product attention across
// multiple heads. The same module serves self-attention (query and
// key/value from the same sequence, optionally cache-backed) and
// cross-attention over an encoder output.
type MultiHeadAttention struct {
	NumHeads int
	HeadDim  int
	ModelDim int
	KVDim    int // width of the key/value source sequence

	WQuery  *nn.Linear // (model_dim, model_dim)
	WKey    *nn.Linear // (kv_dim, model_dim)
	WValue  *nn.Linear // (kv_dim, model_dim)
	OutProj *nn.Linear // (model_dim, model_dim)
}

// NewMultiHeadAttention creates an attention module with numHeads
// heads over modelDim-wide queries and kvDim-wide keys/values. For
// self-attention kvDim equals modelDim; for cross-attention it is the
// encoder output width.
func NewMultiHeadAttention(numHeads, modelDim, kvDim int) (*MultiHeadAttention, error) {
	if numHeads <= 0 {
		return nil, fmt.Errorf("num_heads must be positive, got %d", numHeads)
	}
	if modelDim%numHeads != 0 {
		return nil, fmt.Errorf("model_dim (%d) must be divisible by num_heads (%d)", modelDim, numHeads)
	}

	wq, err := nn.NewLinear(modelDim, modelDim)
	if err != nil {
		return nil, err
	}
	wk, err := nn.NewLinear(kvDim, modelDim)
	if err != nil {
		return nil, err
	}
	wv, err := nn.NewLinear(kvDim, modelDim)
	if err != nil {
		return nil, err
	}
	wo, err := nn.NewLinear(modelDim, modelDim)
	if err != nil {
		return nil, err
	}

	return &MultiHeadAttention{
		NumHeads: numHeads,
		HeadDim:  modelDim / numHeads,
		ModelDim: modelDim,
		KVDim:    kvDim,
		WQuery:   wq,
		WKey:     wk,
		WValue:   wv,
		OutProj:  wo,
	}, nil
}

// Forward computes attention.
//
// Input shapes:
//   - query: (batch, tgt_seq, model_dim)
//   - keyValue: (batch, src_seq, kv_dim)
//   - attnMask: optional additive mask (tgt_seq, key_len), or nil
//   - keyPaddingMask: optional additive mask (batch, src_seq), or nil
//   - cache: optional KV cache; when present, the projected keys and
//     values of this call are appended and attention runs over the
//     full cached prefix
//
// Output shape: (batch, tgt_seq, model_dim)
func (m *MultiHeadAttention) Forward(query, keyValue *tensor.Tensor, attnMask, keyPaddingMask *tensor.Tensor, cache *KVCache) (*tensor.Tensor, error) {
	if len(query.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D query (batch, seq, dim), got %dD with shape %v",
			len(query.Shape), query.Shape)
	}
	if len(keyValue.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D key/value (batch, seq, dim), got %dD with shape %v",
			len(keyValue.Shape), keyValue.Shape)
	}
	if query.Shape[0] != keyValue.Shape[0] {
		return nil, fmt.Errorf("query batch %d doesn't match key/value batch %d",
			query.Shape[0], keyValue.Shape[0])
	}

	batchSize, tgtLen := query.Shape[0], query.Shape[1]

	// Step 1: project to Q, K, V, all (batch, seq, model_dim).
	q, err := m.WQuery.Forward(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compute Q: %w", err)
	}
	k, err := m.WKey.Forward(keyValue)
	if err != nil {
		return nil, fmt.Errorf("failed to compute K: %w", err)
	}
	v, err := m.WValue.Forward(keyValue)
	if err != nil {
		return nil, fmt.Errorf("failed to compute V: %w", err)
	}

	// Step 2: split heads, (batch, seq, dim) -> (batch, heads, seq, head_dim).
	q, err = splitHeads(q, m.NumHeads, m.HeadDim)
	if err != nil {
		return nil, err
	}
	k, err = splitHeads(k, m.NumHeads, m.HeadDim)
	if err != nil {
		return nil, err
	}
	v, err = splitHeads(v, m.NumHeads, m.HeadDim)
	if err != nil {
		return nil, err
	}

	// Step 3: with a cache, append this call's keys/values and attend
	// over the full prefix. The accumulated padding columns replace
	// the per-call padding mask so cached positions keep their
	// exclusions.
	if cache != nil {
		k, v, keyPaddingMask, err = cache.Update(k, v, keyPaddingMask)
		if err != nil {
			return nil, fmt.Errorf("failed to update KV cache: %w", err)
		}
	}
	keyLen := k.Shape[2]

	if keyPaddingMask != nil {
		if len(keyPaddingMask.Shape) != 2 || keyPaddingMask.Shape[0] != batchSize || keyPaddingMask.Shape[1] != keyLen {
			return nil, fmt.Errorf("key padding mask shape %v doesn't match (batch=%d, key_len=%d)",
				keyPaddingMask.Shape, batchSize, keyLen)
		}
	}
	if attnMask != nil {
		if len(attnMask.Shape) != 2 || attnMask.Shape[0] != tgtLen || attnMask.Shape[1] != keyLen {
			return nil, fmt.Errorf("attention mask shape %v doesn't match (tgt_len=%d, key_len=%d)",
				attnMask.Shape, tgtLen, keyLen)
		}
	}

	// Step 4: scores = Q @ K^T / sqrt(head_dim), (batch, heads, tgt, key).
	kt, err := k.Transpose(2, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to transpose K: %w", err)
	}
	scores, err := tensor.Matmul(q, kt)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention scores: %w", err)
	}
	scores = scores.Scale(1.0 / math.Sqrt(float64(m.HeadDim)))

	// Step 5: add the masks. Both are additive (-Inf forbids).
	if attnMask != nil {
		scores, err = tensor.Add(scores, attnMask)
		if err != nil {
			return nil, fmt.Errorf("failed to apply attention mask: %w", err)
		}
	}
	if keyPaddingMask != nil {
		expanded := keyPaddingMask.Reshape([]int{batchSize, 1, 1, keyLen})
		scores, err = tensor.Add(scores, expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to apply key padding mask: %w", err)
		}
	}

	// Step 6: softmax over key positions, then weight the values.
	weights, err := tensor.Softmax(scores, len(scores.Shape)-1)
	if err != nil {
		return nil, fmt.Errorf("failed to apply softmax: %w", err)
	}
	attnOut, err := tensor.Matmul(weights, v)
	if err != nil {
		return nil, fmt.Errorf("failed to apply attention to V: %w", err)
	}

	// Step 7: merge heads and project out.
	attnOut, err = attnOut.Transpose(1, 2) // (batch, tgt, heads, head_dim)
	if err != nil {
		return nil, fmt.Errorf("failed to merge heads: %w", err)
	}
	attnOut = attnOut.Reshape([]int{batchSize, tgtLen, m.ModelDim})

	output, err := m.OutProj.Forward(attnOut)
	if err != nil {
		return nil, fmt.Errorf("failed to apply output projection: %w", err)
	}

	return output, nil
}

// splitHeads reshapes (batch, seq, dim) into (batch, heads, seq, head_dim).
func splitHeads(x *tensor.Tensor, numHeads, headDim int) (*tensor.Tensor, error) {
	batchSize, seqLen := x.Shape[0], x.Shape[1]
	reshaped := x.Reshape([]int{batchSize, seqLen, numHeads, headDim})
	out, err := reshaped.Transpose(1, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to split heads: %w", err)
	}
	return out, nil
}
