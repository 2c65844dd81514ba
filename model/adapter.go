package model

import (
	"errors"
	"fmt"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/descriptor"
	"github.com/mfkiwl/abacus-develop/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var ErrModelNotLoaded = errors.New("correction model is not loaded")

// Correction is the result of one model evaluation, in Rydberg units
type Correction struct {
	EDelta          float64       // Energy correction
	Gedm            *blocks.Store // ∂EDelta/∂(PDM block), same layout as the PDM store
	GradDescriptors *mat.Dense    // ∂EDelta/∂(descriptor), (nat, des_per_atom)
}

// Adapter holds a loaded correction model and the result of its last
// evaluation. A failed Load leaves it unusable without affecting the caller.
type Adapter struct {
	logger *zap.Logger
	model  Model
	source string
	last   *Correction
}

func NewAdapter(logger *zap.Logger) *Adapter {
	return &Adapter{logger: utils.OrNop(logger)}
}

// Load replaces the adapter's model with the one stored at path
func (a *Adapter) Load(path string) error {
	a.model, a.source, a.last = nil, "", nil
	m, err := Load(path)
	if err != nil {
		a.logger.Error("error loading the model", zap.String("path", path), zap.Error(err))
		return err
	}
	a.model, a.source = m, path
	a.logger.Info("correction model loaded", zap.String("path", path))
	return nil
}

// SetModel installs an already constructed model
func (a *Adapter) SetModel(m Model) {
	a.model, a.source, a.last = m, "", nil
}

// Usable reports whether a model is available for Evaluate
func (a *Adapter) Usable() bool { return a.model != nil }

// Source is the path the model was loaded from, empty for SetModel
func (a *Adapter) Source() string { return a.source }

// Evaluate runs the model on the engine's (nat, des_per_atom) descriptors
// and differentiates the energy back to every PDM block through the
// engine's retained decompositions. Energy and gradients are converted
// from Hartree to Rydberg. A failed call clears Last.
func (a *Adapter) Evaluate(e *descriptor.Engine, nat int) (*Correction, error) {
	a.last = nil
	if !a.Usable() {
		return nil, ErrModelNotLoaded
	}
	layout := e.Layout()
	if nat != layout.NAtoms {
		return nil, fmt.Errorf("%w: model evaluated for %d atoms, descriptors hold %d",
			blocks.ErrShape, nat, layout.NAtoms)
	}
	x, err := e.AtomDescriptors()
	if err != nil {
		return nil, err
	}

	ec, err := a.model.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("model forward: %w", err)
	}
	gradDes, err := a.model.Backward(x)
	if err != nil {
		return nil, fmt.Errorf("model backward: %w", err)
	}
	gradBlocks, err := e.Backward(gradDes)
	if err != nil {
		return nil, err
	}

	gedm := blocks.NewStore(layout)
	for inl, g := range gradBlocks {
		g.Scale(HartreeToRydberg, g)
		if err := gedm.SetMatrix(inl, g); err != nil {
			return nil, err
		}
	}
	gradDes.Scale(HartreeToRydberg, gradDes)

	a.last = &Correction{
		EDelta:          ec * HartreeToRydberg,
		Gedm:            gedm,
		GradDescriptors: gradDes,
	}
	a.logger.Debug("correction evaluated", zap.Int("nat", nat), zap.Float64("e_delta", a.last.EDelta))
	return a.last, nil
}

// Last returns the most recent successful evaluation, or nil
func (a *Adapter) Last() *Correction { return a.last }
