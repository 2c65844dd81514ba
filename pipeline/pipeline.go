// Package pipeline wires the descriptor, gradient and correction stages for
// one geometry step of a host simulation.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/comm"
	"github.com/mfkiwl/abacus-develop/descriptor"
	"github.com/mfkiwl/abacus-develop/model"
	"github.com/mfkiwl/abacus-develop/overlap"
	"github.com/mfkiwl/abacus-develop/partitions"
	"github.com/mfkiwl/abacus-develop/utils"
	"github.com/pdevine/tensor"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Context carries the simulation state the stages need
type Context struct {
	NAtoms  int
	InlL    []int // Angular momentum of every projector, length inlmax
	Logger  *zap.Logger
	Workers int // Concurrent block decompositions, 0 means GOMAXPROCS
}

func (c Context) Layout() (blocks.Layout, error) {
	return blocks.LayoutFromInlL(c.NAtoms, c.InlL)
}

// Evaluation owns the descriptor state of one geometry step
type Evaluation struct {
	ID     uuid.UUID
	layout blocks.Layout
	engine *descriptor.Engine
	logger *zap.Logger
}

func NewEvaluation(c Context) (*Evaluation, error) {
	layout, err := c.Layout()
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	logger := utils.OrNop(c.Logger).With(zap.String("evaluation", id.String()))
	return &Evaluation{
		ID:     id,
		layout: layout,
		engine: descriptor.NewEngine(layout,
			descriptor.WithLogger(logger),
			descriptor.WithWorkers(c.Workers)),
		logger: logger,
	}, nil
}

func (ev *Evaluation) Layout() blocks.Layout { return ev.layout }

func (ev *Evaluation) Engine() *descriptor.Engine { return ev.engine }

// Descriptors recomputes the descriptors from the PDM blocks, replacing
// whatever the previous call retained
func (ev *Evaluation) Descriptors(pdm *blocks.Store) ([][]float64, error) {
	if err := ev.engine.Compute(pdm); err != nil {
		return nil, err
	}
	return ev.engine.Descriptors(), nil
}

// Gvx builds the eigen-jacobian of the current descriptors and contracts
// it with the position derivatives: shape (nat, 3, nat, des_per_atom)
func (ev *Evaluation) Gvx(pd *descriptor.PositionDerivatives) (*tensor.Dense, error) {
	if !pd.Layout().Equal(ev.layout) {
		return nil, fmt.Errorf("position derivatives: %w", descriptor.ErrLayout)
	}
	gevdm, err := ev.engine.Jacobian(ev.layout.NAtoms)
	if err != nil {
		return nil, err
	}
	gvx := descriptor.AssembleGvx(pd, gevdm)
	ev.logger.Debug("gvx assembled", zap.Ints("shape", gvx.Shape()))
	return gvx, nil
}

// Correction evaluates the adapter's model on the current descriptors
func (ev *Evaluation) Correction(a *model.Adapter) (*model.Correction, error) {
	return a.Evaluate(ev.engine, ev.layout.NAtoms)
}

// OrbitalPrecalc contracts a globally reduced orbital PDM shell with the
// eigen-jacobian: shape (1, nat, des_per_atom)
func (ev *Evaluation) OrbitalPrecalc(shell *blocks.Store) (*tensor.Dense, error) {
	if !shell.Layout().Equal(ev.layout) {
		return nil, fmt.Errorf("orbital shell: %w", descriptor.ErrLayout)
	}
	gevdm, err := ev.engine.Jacobian(ev.layout.NAtoms)
	if err != nil {
		return nil, err
	}
	return descriptor.OrbitalPrecalc(shell, gevdm), nil
}

// GvxOnCoordinator runs Gvx on the coordinator rank only; other ranks get nil
func (ev *Evaluation) GvxOnCoordinator(r *comm.Rank, pd *descriptor.PositionDerivatives) (*tensor.Dense, error) {
	if !r.IsCoordinator() {
		return nil, nil
	}
	return ev.Gvx(pd)
}

// CorrectionOnCoordinator runs Correction on the coordinator rank only
func (ev *Evaluation) CorrectionOnCoordinator(r *comm.Rank, a *model.Adapter) (*model.Correction, error) {
	if !r.IsCoordinator() {
		return nil, nil
	}
	return ev.Correction(a)
}

// OrbitalPrecalcOnCoordinator runs OrbitalPrecalc on the coordinator rank only
func (ev *Evaluation) OrbitalPrecalcOnCoordinator(r *comm.Rank, shell *blocks.Store) (*tensor.Dense, error) {
	if !r.IsCoordinator() {
		return nil, nil
	}
	return ev.OrbitalPrecalc(shell)
}

// Inputs is what the host simulation hands over for one step. Every field
// but PDM is optional and enables the stage that consumes it.
type Inputs struct {
	PDM   *blocks.Store
	GDM   *descriptor.PositionDerivatives
	Shell *blocks.Store // Already reduced orbital PDM shell

	// Accumulated into Shell across the ranks when Shell is nil
	Overlap  *overlap.System
	DM       mat.Matrix
	Strategy partitions.PartitionStrategy

	Adapter *model.Adapter // Used when it holds a model
}

// Result collects the outputs of one step
type Result struct {
	ID             uuid.UUID
	Descriptors    [][]float64
	Gvx            *tensor.Dense
	Correction     *model.Correction
	Shell          *blocks.Store
	OrbitalPrecalc *tensor.Dense
}

// Step runs one geometry step on the ranks of g. The orbital shell is
// accumulated on every rank and sum-reduced; the contractions and the
// model run on the coordinator after that reduction.
func (ev *Evaluation) Step(ctx context.Context, g *comm.Group, in Inputs) (*Result, error) {
	if in.PDM == nil {
		return nil, fmt.Errorf("step needs PDM blocks: %w", blocks.ErrShape)
	}
	res := &Result{ID: ev.ID}

	des, err := ev.Descriptors(in.PDM)
	if err != nil {
		return nil, err
	}
	res.Descriptors = des

	res.Shell = in.Shell
	if res.Shell == nil && in.Overlap != nil {
		shell, err := overlap.AccumulateDistributed(ctx, g, in.Overlap, in.DM, in.Strategy)
		if err != nil {
			return nil, fmt.Errorf("orbital shell: %w", err)
		}
		res.Shell = shell
	}

	err = g.Run(ctx, func(r *comm.Rank) error {
		if in.GDM != nil {
			gvx, err := ev.GvxOnCoordinator(r, in.GDM)
			if err != nil {
				return err
			}
			if gvx != nil {
				res.Gvx = gvx
			}
		}
		if in.Adapter != nil && in.Adapter.Usable() {
			corr, err := ev.CorrectionOnCoordinator(r, in.Adapter)
			if err != nil {
				return err
			}
			if corr != nil {
				res.Correction = corr
			}
		}
		if res.Shell != nil {
			op, err := ev.OrbitalPrecalcOnCoordinator(r, res.Shell)
			if err != nil {
				return err
			}
			if op != nil {
				res.OrbitalPrecalc = op
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.Int("nat", ev.layout.NAtoms), zap.Int("ranks", g.Size())}
	if res.Correction != nil {
		fields = append(fields, zap.Float64("e_delta", res.Correction.EDelta))
	}
	ev.logger.Info("step complete", fields...)
	return res, nil
}
