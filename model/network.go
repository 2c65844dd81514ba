package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Layer is one dense layer, h' = act(W h + b)
type Layer struct {
	W   *mat.Dense    // [out × in]
	B   *mat.VecDense // [out]
	Act Activation
}

// Network is a per-atom feed-forward energy model. Each atom's descriptor
// row is normalised, pushed through the layers to a single output, and a
// linear prefit on the raw descriptors is added; atom energies are summed.
type Network struct {
	InputDim   int
	Shift      []float64 // Subtracted from each descriptor component
	InputScale []float64 // Divides each shifted component
	Layers     []Layer
	Prefit     []float64 // Linear weights on raw descriptors, may be nil
	PrefitBias float64
}

func (n *Network) checkInput(x *mat.Dense) error {
	if _, c := x.Dims(); c != n.InputDim {
		return fmt.Errorf("model expects %d descriptors per atom, got %d", n.InputDim, c)
	}
	return nil
}

func (n *Network) normalise(row []float64) *mat.VecDense {
	h := mat.NewVecDense(n.InputDim, nil)
	for j, v := range row {
		if n.Shift != nil {
			v -= n.Shift[j]
		}
		if n.InputScale != nil {
			v /= n.InputScale[j]
		}
		h.SetVec(j, v)
	}
	return h
}

// atom runs one descriptor row forward, keeping the layer pre-activations
func (n *Network) atom(row []float64) (e float64, zs []*mat.VecDense) {
	h := n.normalise(row)
	zs = make([]*mat.VecDense, len(n.Layers))
	for k, layer := range n.Layers {
		out, _ := layer.W.Dims()
		z := mat.NewVecDense(out, nil)
		z.MulVec(layer.W, h)
		if layer.B != nil {
			z.AddVec(z, layer.B)
		}
		zs[k] = z
		next := mat.NewVecDense(out, nil)
		for i := 0; i < out; i++ {
			next.SetVec(i, layer.Act.F(z.AtVec(i)))
		}
		h = next
	}
	e = n.PrefitBias
	if len(n.Layers) > 0 {
		e += h.AtVec(0)
	}
	for j, w := range n.Prefit {
		e += w * row[j]
	}
	return e, zs
}

func (n *Network) Forward(x *mat.Dense) (float64, error) {
	if err := n.checkInput(x); err != nil {
		return 0, err
	}
	r, _ := x.Dims()
	total := 0.0
	for i := 0; i < r; i++ {
		e, _ := n.atom(x.RawRowView(i))
		total += e
	}
	return total, nil
}

func (n *Network) Backward(x *mat.Dense) (*mat.Dense, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	r, c := x.Dims()
	grad := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		_, zs := n.atom(x.RawRowView(i))

		gh := mat.NewVecDense(1, []float64{1})
		if len(n.Layers) == 0 {
			gh = mat.NewVecDense(c, nil)
		}
		for k := len(n.Layers) - 1; k >= 0; k-- {
			layer := n.Layers[k]
			z := zs[k]
			gz := mat.NewVecDense(z.Len(), nil)
			for j := 0; j < z.Len(); j++ {
				gz.SetVec(j, gh.AtVec(j)*layer.Act.Deriv(z.AtVec(j)))
			}
			_, in := layer.W.Dims()
			prev := mat.NewVecDense(in, nil)
			prev.MulVec(layer.W.T(), gz)
			gh = prev
		}

		for j := 0; j < c; j++ {
			g := gh.AtVec(j)
			if n.InputScale != nil {
				g /= n.InputScale[j]
			}
			if n.Prefit != nil {
				g += n.Prefit[j]
			}
			grad.Set(i, j, g)
		}
	}
	return grad, nil
}
