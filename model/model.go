// Package model evaluates learned energy-correction models on per-atom
// descriptors and differentiates them with respect to their input.
package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// HartreeToRydberg converts the model's native energy unit to the
// simulation's internal one.
const HartreeToRydberg = 2.0

// Model maps a (nat, des_per_atom) descriptor matrix to a scalar energy
// correction. Implementations are read-only after construction and may be
// shared between evaluations.
type Model interface {
	Forward(x *mat.Dense) (float64, error)
	// Backward returns ∂E/∂x, same shape as x
	Backward(x *mat.Dense) (*mat.Dense, error)
}

// ScaledSum is E = Scale · Σ x
type ScaledSum struct {
	Scale float64
}

func (s ScaledSum) Forward(x *mat.Dense) (float64, error) {
	return s.Scale * mat.Sum(x), nil
}

func (s ScaledSum) Backward(x *mat.Dense) (*mat.Dense, error) {
	r, c := x.Dims()
	g := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			g.Set(i, j, s.Scale)
		}
	}
	return g, nil
}

// Activation is an elementwise nonlinearity with its derivative
type Activation struct {
	Name  string
	F     func(float64) float64
	Deriv func(z float64) float64 // dF/dz evaluated at the pre-activation z
}

var activations = map[string]Activation{
	"identity": {
		Name:  "identity",
		F:     func(z float64) float64 { return z },
		Deriv: func(float64) float64 { return 1 },
	},
	"tanh": {
		Name: "tanh",
		F:    math.Tanh,
		Deriv: func(z float64) float64 {
			t := math.Tanh(z)
			return 1 - t*t
		},
	},
	"relu": {
		Name: "relu",
		F:    func(z float64) float64 { return math.Max(0, z) },
		Deriv: func(z float64) float64 {
			if z > 0 {
				return 1
			}
			return 0
		},
	},
	"softplus": {
		Name: "softplus",
		F: func(z float64) float64 {
			if z > 30 {
				return z
			}
			return math.Log1p(math.Exp(z))
		},
		Deriv: func(z float64) float64 { return 1 / (1 + math.Exp(-z)) },
	},
}

// LookupActivation resolves an activation by name; "" means identity
func LookupActivation(name string) (Activation, error) {
	if name == "" {
		name = "identity"
	}
	a, ok := activations[name]
	if !ok {
		return Activation{}, fmt.Errorf("unknown activation %q", name)
	}
	return a, nil
}
