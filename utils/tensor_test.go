package utils

import (
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcatLast(t *testing.T) {
	a := NewTensor([]float64{1, 2, 3, 4}, 2, 2)
	b := NewTensor([]float64{5, 6}, 2, 1)

	out, err := ConcatLast([]*tensor.Dense{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, []int(out.Shape()))
	assert.Equal(t, []float64{1, 2, 5, 3, 4, 6}, Float64s(out))
	assert.Equal(t, 6.0, At(out, 1, 2))

	single, err := ConcatLast([]*tensor.Dense{a})
	require.NoError(t, err)
	assert.Same(t, a, single)

	_, err = ConcatLast(nil)
	assert.Error(t, err)
}

func TestNewTensorZeros(t *testing.T) {
	z := NewTensor(nil, 2, 3, 4)
	assert.Len(t, Float64s(z), 24)
	assert.Panics(t, func() { NewTensor([]float64{1}, 2) })
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("chatty")
	assert.Error(t, err)

	assert.NotNil(t, OrNop(nil))
}
