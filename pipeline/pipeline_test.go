package pipeline

import (
	"context"
	"testing"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/comm"
	"github.com/mfkiwl/abacus-develop/descriptor"
	"github.com/mfkiwl/abacus-develop/model"
	"github.com/mfkiwl/abacus-develop/overlap"
	"github.com/mfkiwl/abacus-develop/partitions"
	"github.com/mfkiwl/abacus-develop/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func twoAtomPDM(t *testing.T, ev *Evaluation) *blocks.Store {
	t.Helper()
	s := blocks.NewStore(ev.Layout())
	require.NoError(t, s.Set(0, 0, []float64{1.5}))
	require.NoError(t, s.Set(0, 1, []float64{2, 0.1, 0, 0.1, 1, 0.2, 0, 0.2, 3}))
	require.NoError(t, s.Set(1, 0, []float64{0.5}))
	require.NoError(t, s.Set(1, 1, []float64{1, 0, 0.3, 0, 2, 0, 0.3, 0, 1}))
	return s
}

func newTwoAtom(t *testing.T) *Evaluation {
	t.Helper()
	ev, err := NewEvaluation(Context{
		NAtoms:  2,
		InlL:    []int{0, 1, 0, 1},
		Logger:  zaptest.NewLogger(t),
		Workers: 2,
	})
	require.NoError(t, err)
	return ev
}

func TestSingleProjectorScenario(t *testing.T) {
	ev, err := NewEvaluation(Context{NAtoms: 1, InlL: []int{0}})
	require.NoError(t, err)

	pdm := blocks.NewStore(ev.Layout())
	require.NoError(t, pdm.SetInl(0, []float64{2.0}))
	des, err := ev.Descriptors(pdm)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2.0}}, des)

	a := model.NewAdapter(nil)
	a.SetModel(model.ScaledSum{Scale: 0.5})
	corr, err := ev.Correction(a)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, corr.EDelta, 1e-12)
	assert.InDelta(t, 1.0, corr.Gedm.Raw(0)[0], 1e-12)

	// Zero position derivatives give zero gvx of shape (1, 3, 1, 1)
	gvx, err := ev.Gvx(descriptor.NewPositionDerivatives(ev.Layout()))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 1, 1}, []int(gvx.Shape()))
	for _, v := range utils.Float64s(gvx) {
		assert.Equal(t, 0.0, v)
	}
}

func TestNewEvaluation(t *testing.T) {
	_, err := NewEvaluation(Context{NAtoms: 2, InlL: []int{0, 1, 1}})
	assert.ErrorIs(t, err, blocks.ErrShape)

	a := newTwoAtom(t)
	b := newTwoAtom(t)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 4, a.Layout().DesPerAtom())
}

func TestDescriptorsRecomputed(t *testing.T) {
	ev := newTwoAtom(t)
	pdm := twoAtomPDM(t, ev)
	first, err := ev.Descriptors(pdm)
	require.NoError(t, err)

	require.NoError(t, pdm.Set(1, 0, []float64{7}))
	second, err := ev.Descriptors(pdm)
	require.NoError(t, err)
	assert.Equal(t, 0.5, first[2][0])
	assert.Equal(t, 7.0, second[2][0])
	assert.Equal(t, first[0], second[0])
}

func TestStagesNeedDescriptors(t *testing.T) {
	ev := newTwoAtom(t)
	_, err := ev.Gvx(descriptor.NewPositionDerivatives(ev.Layout()))
	assert.ErrorIs(t, err, descriptor.ErrNotComputed)
	_, err = ev.OrbitalPrecalc(blocks.NewStore(ev.Layout()))
	assert.ErrorIs(t, err, descriptor.ErrNotComputed)

	other, err := blocks.NewLayout(3, []int{0})
	require.NoError(t, err)
	_, err = ev.OrbitalPrecalc(blocks.NewStore(other))
	assert.ErrorIs(t, err, descriptor.ErrLayout)
}

func TestOrbitalPrecalcIdentityShell(t *testing.T) {
	ev := newTwoAtom(t)
	_, err := ev.Descriptors(twoAtomPDM(t, ev))
	require.NoError(t, err)

	shell := blocks.NewStore(ev.Layout())
	for inl := 0; inl < ev.Layout().Inlmax(); inl++ {
		nm := ev.Layout().NmInl(inl)
		require.NoError(t, shell.SetMatrix(inl, identity(nm)))
	}
	op, err := ev.OrbitalPrecalc(shell)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, []int(op.Shape()))
	for _, v := range utils.Float64s(op) {
		assert.InDelta(t, 1.0, v, 1e-10)
	}
}

func TestCoordinatorGating(t *testing.T) {
	ev := newTwoAtom(t)
	_, err := ev.Descriptors(twoAtomPDM(t, ev))
	require.NoError(t, err)

	g, err := comm.NewGroup(3)
	require.NoError(t, err)
	pd := descriptor.NewPositionDerivatives(ev.Layout())
	results := make([]bool, 3)
	err = g.Run(context.Background(), func(r *comm.Rank) error {
		gvx, err := ev.GvxOnCoordinator(r, pd)
		results[r.ID()] = gvx != nil
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, results)
}

func overlapSystem(layout blocks.Layout) (*overlap.System, *mat.Dense) {
	des := layout.DesPerAtom()
	sys := &overlap.System{Layout: layout, RcutAlpha: 2, NSpin: 1}
	for i := 0; i < layout.NAtoms; i++ {
		c := overlap.Center{Position: r3.Vec{X: float64(i)}}
		for j := 0; j < layout.NAtoms; j++ {
			proj := make([]float64, des)
			for k := range proj {
				proj[k] = 0.3*float64(1+i) - 0.1*float64(j+k)
			}
			c.Neighbors = append(c.Neighbors, overlap.Neighbor{
				Position: r3.Vec{X: float64(j)},
				Rcut:     1,
				Orbitals: []overlap.Orbital{{Index: j, Projections: proj}},
			})
		}
		sys.Centers = append(sys.Centers, c)
	}
	dm := mat.NewDense(layout.NAtoms, layout.NAtoms, []float64{1, 0.2, 0.2, 0.8})
	return sys, dm
}

func TestStep(t *testing.T) {
	ev := newTwoAtom(t)
	pdm := twoAtomPDM(t, ev)
	sys, dm := overlapSystem(ev.Layout())
	serialShell, err := overlap.Accumulate(sys, dm)
	require.NoError(t, err)

	a := model.NewAdapter(nil)
	a.SetModel(model.ScaledSum{Scale: 1})

	g, err := comm.NewGroup(2)
	require.NoError(t, err)
	res, err := ev.Step(context.Background(), g, Inputs{
		PDM:      pdm,
		GDM:      descriptor.NewPositionDerivatives(ev.Layout()),
		Overlap:  sys,
		DM:       dm,
		Strategy: partitions.RoundRobin,
		Adapter:  a,
	})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, res.ID)
	assert.Len(t, res.Descriptors, 4)
	require.NotNil(t, res.Gvx)
	assert.Equal(t, []int{2, 3, 2, 4}, []int(res.Gvx.Shape()))
	require.NotNil(t, res.Correction)
	assert.InDelta(t, model.HartreeToRydberg*sumAll(res.Descriptors), res.Correction.EDelta, 1e-12)
	require.NotNil(t, res.Shell)
	assert.InDeltaSlice(t, serialShell.Flat(), res.Shell.Flat(), 1e-12)
	require.NotNil(t, res.OrbitalPrecalc)

	// The same step with the shell handed over directly
	res2, err := ev.Step(context.Background(), g, Inputs{PDM: pdm, Shell: serialShell})
	require.NoError(t, err)
	assert.Nil(t, res2.Gvx)
	assert.Nil(t, res2.Correction)
	assert.InDeltaSlice(t, utils.Float64s(res.OrbitalPrecalc), utils.Float64s(res2.OrbitalPrecalc), 1e-12)

	_, err = ev.Step(context.Background(), g, Inputs{})
	assert.Error(t, err)

	_, err = ev.Step(context.Background(), g, Inputs{PDM: pdm, Overlap: sys})
	assert.ErrorIs(t, err, overlap.ErrInput)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func sumAll(d [][]float64) float64 {
	s := 0.0
	for _, row := range d {
		for _, v := range row {
			s += v
		}
	}
	return s
}
