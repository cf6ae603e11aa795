// Package tensor provides the dense, row-major float32 tensors the
// singing-voice generator computes on. Every operation validates shapes and
// returns an error rather than panicking.
package tensor

import (
	"errors"
	"fmt"
)

// Tensor is a dense, row-major float32 tensor.
type Tensor struct {
	shape []int64
	data  []float32
}

// New creates a tensor from data and shape. Both slices are copied.
func New(data []float32, shape []int64) (*Tensor, error) {
	total, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	if len(data) != total {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, total)
	}

	s := append([]int64(nil), shape...)
	d := append([]float32(nil), data...)

	return &Tensor{shape: s, data: d}, nil
}

// newOwned creates a Tensor taking ownership of the provided data and shape
// slices without copying. The caller must not retain or modify data or shape
// after this call, and must guarantee len(data) equals the shape's element
// count.
func newOwned(data []float32, shape []int64) *Tensor {
	return &Tensor{shape: shape, data: data}
}

// Zeros creates a zero-initialized tensor.
func Zeros(shape []int64) (*Tensor, error) {
	total, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  make([]float32, total),
	}, nil
}

// Full creates a tensor filled with value.
func Full(shape []int64, value float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}

	for i := range t.data {
		t.data[i] = value
	}

	return t, nil
}

func (t *Tensor) Shape() []int64 {
	if t == nil {
		return nil
	}

	return append([]int64(nil), t.shape...)
}

// Dim returns the size of the given (possibly negative) dimension.
func (t *Tensor) Dim(dim int) (int64, error) {
	if t == nil {
		return 0, errors.New("tensor: dim on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return 0, fmt.Errorf("tensor: dim: %w", err)
	}

	return t.shape[dim], nil
}

// Data returns a copy of the underlying tensor data.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}

	return append([]float32(nil), t.data...)
}

// RawData returns the underlying data slice. Callers that only read must
// treat it as read-only; in-place helpers in higher layers may mutate it.
func (t *Tensor) RawData() []float32 {
	if t == nil {
		return nil
	}

	return t.data
}

func (t *Tensor) ElemCount() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}

	return len(t.shape)
}

// At reads a single element by coordinate.
func (t *Tensor) At(coord ...int64) (float32, error) {
	if t == nil {
		return 0, errors.New("tensor: at on nil tensor")
	}

	if len(coord) != len(t.shape) {
		return 0, fmt.Errorf("tensor: at coordinate rank %d does not match tensor rank %d", len(coord), len(t.shape))
	}

	for i, c := range coord {
		if c < 0 || c >= t.shape[i] {
			return 0, fmt.Errorf("tensor: at coordinate %v out of range for shape %v", coord, t.shape)
		}
	}

	return t.data[coordToLinear(coord, computeStrides(t.shape))], nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	dup, _ := New(t.data, t.shape)

	return dup
}
