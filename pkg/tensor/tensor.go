// Package tensor provides the numeric array substrate for the decoder
// stack. Tensors are dense float64 arrays stored flat with explicit
// shape and stride information; the two-dimensional matrix kernels are
// delegated to gonum, which lets matmul wrap the backing slices in
// mat.Dense views without copying.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a multi-dimensional array of float64 values.
// Data is stored flat in row-major order.
type Tensor struct {
	Data    []float64 // Flattened data storage
	Shape   []int     // Dimensions (e.g., [batch, heads, seq, dim])
	Strides []int     // Precomputed strides for indexing
}

// NewTensor creates a tensor with the given shape, initialized to zeros.
func NewTensor(shape []int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}

	return &Tensor{
		Data:    make([]float64, size),
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}
}

// FromSlice creates a tensor from existing data with the given shape.
// The data is copied so the tensor owns its memory.
func FromSlice(data []float64, shape []int) (*Tensor, error) {
	expectedSize := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		expectedSize *= dim
	}
	if len(data) != expectedSize {
		return nil, fmt.Errorf("data size %d does not match shape %v (expected %d elements)",
			len(data), shape, expectedSize)
	}

	dataCopy := make([]float64, len(data))
	copy(dataCopy, data)

	return &Tensor{
		Data:    dataCopy,
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}, nil
}

// View returns a tensor with a different shape sharing the same
// underlying data. Returns an error if the total size differs.
func (t *Tensor) View(newShape []int) (*Tensor, error) {
	newSize := 1
	for _, dim := range newShape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, newShape)
		}
		newSize *= dim
	}

	if newSize != len(t.Data) {
		return nil, fmt.Errorf("cannot view tensor of size %d as shape %v (total size %d)",
			len(t.Data), newShape, newSize)
	}

	return &Tensor{
		Data:    t.Data,
		Shape:   copyShape(newShape),
		Strides: computeStrides(newShape),
	}, nil
}

// Reshape returns a view with a different shape (same underlying data).
// Panics if the total size differs; use View to get an error instead.
func (t *Tensor) Reshape(newShape []int) *Tensor {
	result, err := t.View(newShape)
	if err != nil {
		panic(err)
	}
	return result
}

// Transpose exchanges two dimensions of the tensor, copying the data
// into the new layout.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if dim1 < 0 || dim1 >= len(t.Shape) || dim2 < 0 || dim2 >= len(t.Shape) {
		return nil, fmt.Errorf("invalid transpose dimensions %d and %d for tensor with %d dimensions",
			dim1, dim2, len(t.Shape))
	}

	if dim1 == dim2 {
		return t.Clone(), nil
	}

	newShape := copyShape(t.Shape)
	newShape[dim1], newShape[dim2] = newShape[dim2], newShape[dim1]

	result := NewTensor(newShape)

	srcIndices := make([]int, len(t.Shape))
	dstIndices := make([]int, len(t.Shape))
	var walk func(pos int)
	walk = func(pos int) {
		if pos == len(t.Shape) {
			copy(dstIndices, srcIndices)
			dstIndices[dim1], dstIndices[dim2] = dstIndices[dim2], dstIndices[dim1]
			result.Data[result.FlatIndex(dstIndices)] = t.Data[t.FlatIndex(srcIndices)]
			return
		}
		for i := 0; i < t.Shape[pos]; i++ {
			srcIndices[pos] = i
			walk(pos + 1)
		}
	}
	walk(0)

	return result, nil
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// NumDims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) NumDims() int {
	return len(t.Shape)
}

// FlatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) FlatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("indices length %d does not match shape dimensions %d",
			len(indices), len(t.Shape)))
	}

	idx := 0
	for i := 0; i < len(t.Shape); i++ {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d with size %d",
				indices[i], i, t.Shape[i]))
		}
		idx += indices[i] * t.Strides[i]
	}
	return idx
}

// Get retrieves a value at the specified indices.
func (t *Tensor) Get(indices []int) float64 {
	return t.Data[t.FlatIndex(indices)]
}

// Set sets a value at the specified indices.
func (t *Tensor) Set(indices []int, value float64) {
	t.Data[t.FlatIndex(indices)] = value
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	result := NewTensor(t.Shape)
	copy(result.Data, t.Data)
	return result
}

// Equals checks if two tensors have the same shape and approximately
// equal values.
func (t *Tensor) Equals(other *Tensor, tolerance float64) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		if math.Abs(t.Data[i]-other.Data[i]) > tolerance {
			return false
		}
	}
	return true
}

// ShapeEquals checks if two tensors have the same shape.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// SliceN extracts a sub-tensor covering the given ranges in every
// dimension. The result owns its own data.
func (t *Tensor) SliceN(starts, ends []int) (*Tensor, error) {
	if len(starts) != len(t.Shape) || len(ends) != len(t.Shape) {
		return nil, fmt.Errorf("starts and ends must have same length as tensor dimensions (%d), got %d and %d",
			len(t.Shape), len(starts), len(ends))
	}

	newShape := make([]int, len(t.Shape))
	for i := 0; i < len(t.Shape); i++ {
		if starts[i] < 0 || starts[i] > t.Shape[i] {
			return nil, fmt.Errorf("invalid start index %d for dimension %d with size %d", starts[i], i, t.Shape[i])
		}
		if ends[i] < starts[i] || ends[i] > t.Shape[i] {
			return nil, fmt.Errorf("invalid end index %d for dimension %d (start=%d, size=%d)", ends[i], i, starts[i], t.Shape[i])
		}
		newShape[i] = ends[i] - starts[i]
	}

	result := NewTensor(newShape)

	srcIndices := make([]int, len(t.Shape))
	dstIndices := make([]int, len(t.Shape))
	var copyData func(dim int)
	copyData = func(dim int) {
		if dim == len(t.Shape) {
			result.Data[result.FlatIndex(dstIndices)] = t.Data[t.FlatIndex(srcIndices)]
			return
		}
		for i := 0; i < newShape[dim]; i++ {
			srcIndices[dim] = starts[dim] + i
			dstIndices[dim] = i
			copyData(dim + 1)
		}
	}
	copyData(0)

	return result, nil
}

// Matmul performs matrix multiplication on the last two dimensions.
// For tensors of shape (..., m, n) and (..., n, p), returns (..., m, p).
// If one operand is 2D and the other is 3D, the 2D operand is broadcast
// across the batch dimension.
//
// The 2D kernels are gonum's mat.Dense product over views of the
// backing slices, so no per-call copies of the operands are made.
func Matmul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, fmt.Errorf("matmul requires at least 2D tensors, got %dD and %dD",
			len(a.Shape), len(b.Shape))
	}

	n := a.Shape[len(a.Shape)-1]
	if b.Shape[len(b.Shape)-2] != n {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v (inner dimensions %d and %d don't match)",
			a.Shape, b.Shape, n, b.Shape[len(b.Shape)-2])
	}

	if len(a.Shape) == 3 && len(b.Shape) == 2 {
		return matmul3D2D(a, b)
	}
	if len(a.Shape) == 2 && len(b.Shape) == 3 {
		return matmul2D3D(a, b)
	}

	return matmulBatched(a, b)
}

// matmul3D2D handles (batch, m, n) @ (n, p) -> (batch, m, p).
// The batch and row dimensions collapse into a single (batch*m, n)
// matrix, so the whole product is one gonum call.
func matmul3D2D(a, b *Tensor) (*Tensor, error) {
	batch, m, n := a.Shape[0], a.Shape[1], a.Shape[2]
	p := b.Shape[1]

	result := NewTensor([]int{batch, m, p})
	if batch*m == 0 || n == 0 || p == 0 {
		return result, nil
	}

	am := mat.NewDense(batch*m, n, a.Data)
	bm := mat.NewDense(n, p, b.Data)
	rm := mat.NewDense(batch*m, p, result.Data)
	rm.Mul(am, bm)

	return result, nil
}

// matmul2D3D handles (m, n) @ (batch, n, p) -> (batch, m, p).
func matmul2D3D(a, b *Tensor) (*Tensor, error) {
	m, n := a.Shape[0], a.Shape[1]
	batch, p := b.Shape[0], b.Shape[2]

	result := NewTensor([]int{batch, m, p})
	if m == 0 || n == 0 || p == 0 {
		return result, nil
	}

	am := mat.NewDense(m, n, a.Data)
	for bi := 0; bi < batch; bi++ {
		bm := mat.NewDense(n, p, b.Data[bi*n*p:(bi+1)*n*p])
		rm := mat.NewDense(m, p, result.Data[bi*m*p:(bi+1)*m*p])
		rm.Mul(am, bm)
	}

	return result, nil
}

// matmulBatched handles matrix multiplication with matching leading
// batch dimensions, one gonum product per batch element.
func matmulBatched(a, b *Tensor) (*Tensor, error) {
	m := a.Shape[len(a.Shape)-2]
	n := a.Shape[len(a.Shape)-1]
	p := b.Shape[len(b.Shape)-1]

	if len(a.Shape) != len(b.Shape) {
		return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v", a.Shape, b.Shape)
	}
	batchDims := a.Shape[:len(a.Shape)-2]
	for i, dim := range batchDims {
		if b.Shape[i] != dim {
			return nil, fmt.Errorf("incompatible batch dimensions for matmul: %v and %v", a.Shape, b.Shape)
		}
	}

	batchSize := 1
	for _, dim := range batchDims {
		batchSize *= dim
	}

	resultShape := append(copyShape(batchDims), m, p)
	result := NewTensor(resultShape)
	if m == 0 || n == 0 || p == 0 {
		return result, nil
	}

	for batch := 0; batch < batchSize; batch++ {
		am := mat.NewDense(m, n, a.Data[batch*m*n:(batch+1)*m*n])
		bm := mat.NewDense(n, p, b.Data[batch*n*p:(batch+1)*n*p])
		rm := mat.NewDense(m, p, result.Data[batch*m*p:(batch+1)*m*p])
		rm.Mul(am, bm)
	}

	return result, nil
}

// Scale multiplies all elements by a scalar.
func Scale(t *Tensor, scalar float64) *Tensor {
	result := NewTensor(t.Shape)
	for i := range t.Data {
		result.Data[i] = t.Data[i] * scalar
	}
	return result
}

// Scale multiplies all elements by a scalar (method version).
func (t *Tensor) Scale(s float64) *Tensor {
	return Scale(t, s)
}

// Softmax applies softmax along the specified dimension.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}
	if dim != len(t.Shape)-1 {
		// The decoder only ever normalizes attention rows; transposing
		// first keeps the hot path a contiguous scan.
		transposed, err := t.Transpose(dim, len(t.Shape)-1)
		if err != nil {
			return nil, err
		}
		softmaxed, err := Softmax(transposed, len(transposed.Shape)-1)
		if err != nil {
			return nil, err
		}
		return softmaxed.Transpose(dim, len(t.Shape)-1)
	}

	result := NewTensor(t.Shape)

	sliceSize := t.Shape[dim]
	if sliceSize == 0 {
		return result, nil
	}
	numSlices := len(t.Data) / sliceSize

	for sliceIdx := 0; sliceIdx < numSlices; sliceIdx++ {
		offset := sliceIdx * sliceSize
		row := t.Data[offset : offset+sliceSize]

		// Subtract the row max for numerical stability.
		maxVal := math.Inf(-1)
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}

		// A fully masked row (all -Inf) gets zero weights instead of
		// NaN, so masked-out query positions stay inert.
		if math.IsInf(maxVal, -1) {
			continue
		}

		expSum := 0.0
		out := result.Data[offset : offset+sliceSize]
		for i, v := range row {
			out[i] = math.Exp(v - maxVal)
			expSum += out[i]
		}
		for i := range out {
			out[i] /= expSum
		}
	}

	return result, nil
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast shapes %v and %v: %w", a.Shape, b.Shape, err)
	}

	result := NewTensor(outShape)

	indices := make([]int, len(outShape))
	var iterate func(dim int)
	iterate = func(dim int) {
		if dim == len(outShape) {
			aIdx := broadcastIndex(indices, outShape, a.Shape)
			bIdx := broadcastIndex(indices, outShape, b.Shape)
			result.Data[result.FlatIndex(indices)] = a.Data[aIdx] + b.Data[bIdx]
			return
		}
		for i := 0; i < outShape[dim]; i++ {
			indices[dim] = i
			iterate(dim + 1)
		}
	}
	iterate(0)

	return result, nil
}

// broadcastShapes computes the broadcasted shape of two shapes,
// aligning from the trailing dimension.
func broadcastShapes(a, b []int) ([]int, error) {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	result := make([]int, maxLen)

	for i := 0; i < maxLen; i++ {
		dimA := 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		dimB := 1
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}

		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, fmt.Errorf("incompatible dimensions %d and %d", dimA, dimB)
		}

		if dimA > dimB {
			result[maxLen-1-i] = dimA
		} else {
			result[maxLen-1-i] = dimB
		}
	}

	return result, nil
}

// broadcastIndex maps an output position to the flat index of a
// (possibly lower-rank or size-1) input tensor.
func broadcastIndex(outIndices []int, outShape, inShape []int) int {
	if len(inShape) == 0 {
		return 0
	}

	diff := len(outShape) - len(inShape)
	strides := computeStrides(inShape)

	idx := 0
	for i := 0; i < len(inShape); i++ {
		if inShape[i] == 1 {
			continue
		}
		idx += outIndices[i+diff] * strides[i]
	}
	return idx
}

// Concatenate concatenates tensors along a dimension.
func Concatenate(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot concatenate empty list of tensors")
	}

	if dim < 0 || dim >= len(tensors[0].Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(tensors[0].Shape))
	}

	outShape := copyShape(tensors[0].Shape)
	concatSize := tensors[0].Shape[dim]

	for i := 1; i < len(tensors); i++ {
		t := tensors[i]
		if len(t.Shape) != len(outShape) {
			return nil, fmt.Errorf("tensor %d has %d dimensions, expected %d", i, len(t.Shape), len(outShape))
		}
		for j := 0; j < len(outShape); j++ {
			if j == dim {
				concatSize += t.Shape[j]
			} else if t.Shape[j] != outShape[j] {
				return nil, fmt.Errorf("tensor %d has shape %v, incompatible with %v at dimension %d", i, t.Shape, outShape, j)
			}
		}
	}
	outShape[dim] = concatSize

	result := NewTensor(outShape)

	// Interleave the per-tensor blocks: the outer index runs over the
	// dimensions before dim, each tensor contributes its own
	// dim*innerSize block at every outer position.
	outerSize := 1
	for i := 0; i < dim; i++ {
		outerSize *= outShape[i]
	}
	innerSize := 1
	for i := dim + 1; i < len(outShape); i++ {
		innerSize *= outShape[i]
	}

	for outer := 0; outer < outerSize; outer++ {
		dstOffset := outer * concatSize * innerSize
		for _, t := range tensors {
			blockSize := t.Shape[dim] * innerSize
			srcOffset := outer * blockSize
			copy(result.Data[dstOffset:dstOffset+blockSize], t.Data[srcOffset:srcOffset+blockSize])
			dstOffset += blockSize
		}
	}

	return result, nil
}

// computeStrides precomputes row-major strides for a shape.
func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// copyShape creates a copy of a shape slice.
func copyShape(shape []int) []int {
	result := make([]int, len(shape))
	copy(result, shape)
	return result
}
