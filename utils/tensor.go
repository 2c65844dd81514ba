package utils

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// NewTensor wraps backing in a float64 tensor of the given shape. A nil
// backing allocates zeros.
func NewTensor(backing []float64, shape ...int) *tensor.Dense {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if backing == nil {
		backing = make([]float64, size)
	}
	if len(backing) != size {
		panic(fmt.Sprintf("tensor backing has %d values, shape %v needs %d", len(backing), shape, size))
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// Float64s returns the row-major values of a float64 tensor
func Float64s(t *tensor.Dense) []float64 {
	switch d := t.Data().(type) {
	case []float64:
		return d
	case float64:
		return []float64{d}
	default:
		panic(fmt.Sprintf("tensor holds %T, want float64", d))
	}
}

// At reads one float64 element
func At(t *tensor.Dense, coords ...int) float64 {
	v, err := t.At(coords...)
	if err != nil {
		panic(err)
	}
	return v.(float64)
}

// ConcatLast concatenates tensors of equal leading shape along their last axis
func ConcatLast(ts []*tensor.Dense) (*tensor.Dense, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	if len(ts) == 1 {
		return ts[0], nil
	}
	axis := ts[0].Shape().Dims() - 1
	others := make([]tensor.Tensor, len(ts)-1)
	for i, t := range ts[1:] {
		others[i] = t
	}
	out, err := tensor.Concat(axis, ts[0], others...)
	if err != nil {
		return nil, fmt.Errorf("concat along axis %d: %w", axis, err)
	}
	dense, ok := out.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("concat returned %T", out)
	}
	return dense, nil
}
