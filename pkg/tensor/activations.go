package tensor

import "math"

// GELU applies the Gaussian Error Linear Unit activation element-wise,
// using the tanh approximation:
//
//	GELU(x) = 0.5 * x * (1 + tanh(sqrt(2/π) * (x + 0.044715 * x^3)))
//
// Reference: https://arxiv.org/abs/1606.08415
func (t *Tensor) GELU() *Tensor {
	result := NewTensor(t.Shape)

	const (
		sqrt2OverPi = 0.7978845608028654 // sqrt(2/π)
		coeff       = 0.044715
	)

	for i := range t.Data {
		x := t.Data[i]
		inner := x + coeff*x*x*x
		result.Data[i] = 0.5 * x * (1 + math.Tanh(sqrt2OverPi*inner))
	}

	return result
}
