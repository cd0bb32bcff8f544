package nn

import (
	"fmt"
	"math"

	"goseq2seq/pkg/tensor"
)

// LayerNorm implements layer normalization with learnable scale and
// shift parameters.
//
// The input is normalized across the last dimension (feature
// dimension) and transformed by a learned scale (gamma) and shift
// (beta):
//
//	mean = mean(x, dim=-1)
//	var = var(x, dim=-1)
//	output = (x - mean) / sqrt(var + eps) * scale + shift
type LayerNorm struct {
	Scale *tensor.Tensor // (dim,) - gamma parameter
	Shift *tensor.Tensor // (dim,) - beta parameter
	Eps   float64
}

// NewLayerNorm creates a LayerNorm over dim features with scale=1 and
// shift=0. eps is the small constant added to the variance for
// numerical stability (typically 1e-5).
func NewLayerNorm(dim int, eps float64) *LayerNorm {
	scale := tensor.NewTensor([]int{dim})
	for i := range scale.Data {
		scale.Data[i] = 1.0
	}

	return &LayerNorm{
		Scale: scale,
		Shift: tensor.NewTensor([]int{dim}),
		Eps:   eps,
	}
}

// Forward applies layer normalization to each position independently.
//
// Input shape: any shape whose last dimension matches the norm's dim
// Output shape: same as input
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("cannot apply LayerNorm to 0D tensor")
	}

	lastDim := x.Shape[len(x.Shape)-1]
	if lastDim != len(ln.Scale.Data) {
		return nil, fmt.Errorf("input last dimension %d doesn't match LayerNorm dimension %d",
			lastDim, len(ln.Scale.Data))
	}

	numSlices := len(x.Data) / lastDim
	result := tensor.NewTensor(x.Shape)

	for sliceIdx := 0; sliceIdx < numSlices; sliceIdx++ {
		offset := sliceIdx * lastDim
		row := x.Data[offset : offset+lastDim]

		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(lastDim)

		variance := 0.0
		for _, v := range row {
			diff := v - mean
			variance += diff * diff
		}
		variance /= float64(lastDim)

		invStd := 1.0 / math.Sqrt(variance+ln.Eps)

		out := result.Data[offset : offset+lastDim]
		for i, v := range row {
			out[i] = (v-mean)*invStd*ln.Scale.Data[i] + ln.Shift.Data[i]
		}
	}

	return result, nil
}
