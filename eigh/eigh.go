// Package eigh provides a symmetric eigen-decomposition together with its
// reverse-mode pullback, the only differentiable primitive the descriptor
// pipeline needs.
package eigh

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoConvergence = errors.New("symmetric eigen-decomposition did not converge")
	ErrNotSquare     = errors.New("matrix is not square")
	ErrEmpty         = errors.New("matrix is empty")
	ErrNotFinite     = errors.New("matrix holds non-finite entries")
)

// Decomposition holds the eigenpairs of one symmetric block.
// Eigenvalues are ascending; column j of the eigenvector matrix pairs with
// value j. For repeated eigenvalues the basis inside the degenerate
// subspace is whatever the solver returns.
type Decomposition struct {
	input   *mat.SymDense // Symmetric view of the decomposed block
	values  []float64     // Ascending eigenvalues [n]
	vectors *mat.Dense    // Orthonormal eigenvectors [n × n]
}

// Decompose factorizes a square matrix, reading only its upper triangle
// (entries with row <= column). Non-finite entries or eigenvalues are
// reported as a numerical failure.
func Decompose(a mat.Matrix) (*Decomposition, error) {
	r, c := a.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotSquare, r, c)
	}
	if r == 0 {
		return nil, ErrEmpty
	}
	sym := upperSym(a)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			if !finite(sym.At(i, j)) {
				return nil, fmt.Errorf("%w: entry (%d,%d) = %v", ErrNotFinite, i, j, sym.At(i, j))
			}
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("%w: %dx%d block", ErrNoConvergence, r, c)
	}
	values := es.Values(nil)
	for _, v := range values {
		if !finite(v) {
			return nil, fmt.Errorf("%w: %dx%d block has eigenvalue %v", ErrNoConvergence, r, c, v)
		}
	}
	var vectors mat.Dense
	es.VectorsTo(&vectors)

	return &Decomposition{
		input:   sym,
		values:  values,
		vectors: &vectors,
	}, nil
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func upperSym(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, a.At(i, j))
		}
	}
	return sym
}

// Size is the side of the decomposed block
func (d *Decomposition) Size() int { return len(d.values) }

// Values returns a copy of the ascending eigenvalues
func (d *Decomposition) Values() []float64 {
	out := make([]float64, len(d.values))
	copy(out, d.values)
	return out
}

// Vectors returns a copy of the eigenvector matrix
func (d *Decomposition) Vectors() *mat.Dense {
	return mat.DenseCopyOf(d.vectors)
}

// Input returns a copy of the decomposed block, symmetrized from its upper triangle
func (d *Decomposition) Input() *mat.Dense {
	return mat.DenseCopyOf(d.input)
}

// VJP pulls an eigenvalue cotangent g back onto the matrix entries:
//
//	dL/dA = V diag(g) Vᵀ
//
// The eigenvalue part of the eigh pullback has no eigengap denominators,
// so it stays finite for degenerate spectra.
func (d *Decomposition) VJP(g []float64) *mat.Dense {
	n := len(d.values)
	if len(g) != n {
		panic(fmt.Sprintf("eigh: cotangent length %d, want %d", len(g), n))
	}
	scaled := mat.DenseCopyOf(d.vectors)
	for j := 0; j < n; j++ {
		col := scaled.ColView(j).(*mat.VecDense)
		col.ScaleVec(g[j], col)
	}
	var out mat.Dense
	out.Mul(scaled, d.vectors.T())
	return &out
}

// Jacobian returns dλ_v/dA for every eigenvalue v, i.e. the pullback of
// each one-hot cotangent e_v. Entry [v].At(m, n) = V[m][v] * V[n][v].
func (d *Decomposition) Jacobian() []*mat.Dense {
	n := len(d.values)
	jac := make([]*mat.Dense, n)
	for v := 0; v < n; v++ {
		jac[v] = d.VJP(OneHot(n, v))
	}
	return jac
}

// OneHot returns the length-n basis vector e_v
func OneHot(n, v int) []float64 {
	e := make([]float64, n)
	e[v] = 1
	return e
}
