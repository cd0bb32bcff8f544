package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"goseq2seq/pkg/tensor"
)

// Linear applies y = xW + b over the trailing dimension.
//
// Weights use Xavier-uniform initialization, the bias starts at zero.
// This is the projection used for the decoder's internal dimension
// adapters when the embedding width differs from the model width.
type Linear struct {
	Weight *tensor.Tensor // (in_dim, out_dim)
	Bias   *tensor.Tensor // (out_dim), nil when bias is disabled
	InDim  int
	OutDim int
}

// NewLinear creates a linear transform with bias.
func NewLinear(inDim, outDim int) (*Linear, error) {
	if inDim <= 0 || outDim <= 0 {
		return nil, fmt.Errorf("linear dimensions must be positive, got in=%d out=%d", inDim, outDim)
	}

	weight := tensor.NewTensor([]int{inDim, outDim})
	xavierUniformFill(weight.Data, inDim, outDim)

	return &Linear{
		Weight: weight,
		Bias:   tensor.NewTensor([]int{outDim}),
		InDim:  inDim,
		OutDim: outDim,
	}, nil
}

// Forward applies the transform.
//
// Input shape: (..., in_dim)
// Output shape: (..., out_dim)
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("expected at least 2D input, got %dD", len(x.Shape))
	}

	lastDim := x.Shape[len(x.Shape)-1]
	if lastDim != l.InDim {
		return nil, fmt.Errorf("input dimension %d doesn't match linear input dimension %d",
			lastDim, l.InDim)
	}

	out, err := tensor.Matmul(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("failed to apply linear weight: %w", err)
	}

	if l.Bias != nil {
		out, err = tensor.Add(out, l.Bias)
		if err != nil {
			return nil, fmt.Errorf("failed to add linear bias: %w", err)
		}
	}

	return out, nil
}

// xavierUniformFill fills data with U[-limit, limit] where
// limit = sqrt(6 / (fan_in + fan_out)).
func xavierUniformFill(data []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	dist := distuv.Uniform{Min: -limit, Max: limit}
	for i := range data {
		data[i] = dist.Rand()
	}
}

// normalFill fills data with values drawn from N(0, std^2).
func normalFill(data []float64, std float64) {
	dist := distuv.Normal{Mu: 0, Sigma: std}
	for i := range data {
		data[i] = dist.Rand()
	}
}
