package eigh

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Replicate returns n independent copies of a, stacked along a new
// leading batch axis.
func Replicate(a mat.Matrix, n int) []mat.Matrix {
	batch := make([]mat.Matrix, n)
	for i := range batch {
		batch[i] = mat.DenseCopyOf(a)
	}
	return batch
}

// DecomposeBatch decomposes every matrix of a batch. The first failure
// aborts the batch and is reported with its batch index.
func DecomposeBatch(batch []mat.Matrix) ([]*Decomposition, error) {
	out := make([]*Decomposition, len(batch))
	for i, a := range batch {
		d, err := Decompose(a)
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// BatchVJP pulls one cotangent back through each decomposition of a batch.
func BatchVJP(decs []*Decomposition, g [][]float64) []*mat.Dense {
	if len(decs) != len(g) {
		panic(fmt.Sprintf("eigh: %d decompositions, %d cotangents", len(decs), len(g)))
	}
	out := make([]*mat.Dense, len(decs))
	for i, d := range decs {
		out[i] = d.VJP(g[i])
	}
	return out
}

// BatchJacobian computes dλ/dA for a block by decomposing nm replicas of it
// and pulling the identity-row cotangent e_v back through replica v.
func BatchJacobian(a mat.Matrix) ([]*mat.Dense, error) {
	n, _ := a.Dims()
	decs, err := DecomposeBatch(Replicate(a, n))
	if err != nil {
		return nil, err
	}
	shell := make([][]float64, n)
	for v := range shell {
		shell[v] = OneHot(n, v)
	}
	return BatchVJP(decs, shell), nil
}
