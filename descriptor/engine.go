// Package descriptor turns projected density matrix blocks into eigenvalue
// descriptors and provides the gradients that connect those descriptors to
// the blocks and, through them, to atomic positions.
package descriptor

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/eigh"
	"github.com/mfkiwl/abacus-develop/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotComputed = errors.New("descriptors have not been computed")
	ErrLayout      = errors.New("block store layout does not match engine layout")
)

// Engine owns one descriptor evaluation: the eigenvalues of every block and
// the retained decompositions that later backward passes pull through.
// Compute discards everything from the previous call before starting.
type Engine struct {
	layout  blocks.Layout
	logger  *zap.Logger
	workers int

	retained    []*eigh.Decomposition // Per projector, nil until Compute succeeds
	descriptors [][]float64           // Per projector eigenvalues, ascending
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// WithWorkers bounds the number of blocks decomposed concurrently
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func NewEngine(layout blocks.Layout, opts ...Option) *Engine {
	e := &Engine{
		layout:  layout,
		logger:  zap.NewNop(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Layout() blocks.Layout { return e.layout }

// Reset drops the retained blocks and descriptors
func (e *Engine) Reset() {
	e.retained = nil
	e.descriptors = nil
}

// Computed reports whether descriptors from a successful Compute are held
func (e *Engine) Computed() bool { return e.retained != nil }

// Compute decomposes every block of the store. The blocks are copied, so
// later changes to the store do not reach the retained state. A numerical
// failure on any block aborts the evaluation and leaves the engine empty.
func (e *Engine) Compute(store *blocks.Store) error {
	e.Reset()
	if !store.Layout().Equal(e.layout) {
		return ErrLayout
	}

	inlmax := e.layout.Inlmax()
	decs := make([]*eigh.Decomposition, inlmax)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for inl := 0; inl < inlmax; inl++ {
		g.Go(func() error {
			d, err := eigh.Decompose(store.Block(inl))
			if err != nil {
				iat, nl := e.layout.Split(inl)
				return fmt.Errorf("projector %d (atom %d, shell %d): %w", inl, iat, nl, err)
			}
			decs[inl] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("descriptor evaluation failed", zap.Error(err))
		return err
	}

	descriptors := make([][]float64, inlmax)
	for inl, d := range decs {
		descriptors[inl] = d.Values()
	}
	e.retained = decs
	e.descriptors = descriptors

	e.logger.Debug("descriptors computed",
		zap.Int("nat", e.layout.NAtoms),
		zap.Int("inlmax", inlmax),
		zap.Int("des_per_atom", e.layout.DesPerAtom()))
	return nil
}

// Descriptors returns a copy of the per-projector eigenvalues
func (e *Engine) Descriptors() [][]float64 {
	if !e.Computed() {
		return nil
	}
	out := make([][]float64, len(e.descriptors))
	for inl, d := range e.descriptors {
		out[inl] = append([]float64(nil), d...)
	}
	return out
}

// AtomDescriptors concatenates each atom's projector descriptors into one
// row of a (nat, des_per_atom) matrix, the correction model's input.
func (e *Engine) AtomDescriptors() (*mat.Dense, error) {
	if !e.Computed() {
		return nil, ErrNotComputed
	}
	nat, des := e.layout.NAtoms, e.layout.DesPerAtom()
	data := make([]float64, 0, nat*des)
	for _, d := range e.descriptors {
		data = append(data, d...)
	}
	return mat.NewDense(nat, des, data), nil
}

// Retained returns the decomposition kept for projector inl
func (e *Engine) Retained(inl int) *eigh.Decomposition {
	if !e.Computed() {
		return nil
	}
	return e.retained[inl]
}

// Backward pulls a (nat, des_per_atom) descriptor cotangent back onto every
// block. Projectors whose cotangent slice is entirely zero did not feed the
// scalar being differentiated and get a zero block.
func (e *Engine) Backward(gradDes mat.Matrix) ([]*mat.Dense, error) {
	if !e.Computed() {
		return nil, ErrNotComputed
	}
	nat, des := e.layout.NAtoms, e.layout.DesPerAtom()
	if r, c := gradDes.Dims(); r != nat || c != des {
		panic(fmt.Sprintf("descriptor cotangent is %dx%d, want %dx%d", r, c, nat, des))
	}

	out := make([]*mat.Dense, e.layout.Inlmax())
	for inl, d := range e.retained {
		iat, nl := e.layout.Split(inl)
		nm := e.layout.Nm(nl)
		off := e.layout.DesOffset(nl)
		g := make([]float64, nm)
		used := false
		for v := range g {
			g[v] = gradDes.At(iat, off+v)
			used = used || g[v] != 0
		}
		if !used {
			out[inl] = mat.NewDense(nm, nm, nil)
			continue
		}
		out[inl] = d.VJP(g)
	}
	return out, nil
}
