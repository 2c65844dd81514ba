package descriptor

import (
	"fmt"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/utils"
	"github.com/pdevine/tensor"
)

// Direction indexes the Cartesian components of a position derivative
type Direction uint8

const (
	XDIR Direction = iota
	YDIR
	ZDIR
)

// PositionDerivatives holds ∂(PDM block)/∂(x,y,z) supplied by the
// Hamiltonian-gradient stage, one block store per (direction, ibt) where
// ibt is the atom being displaced.
type PositionDerivatives struct {
	layout blocks.Layout
	comps  [3][]*blocks.Store // [dir][ibt]
}

// NewPositionDerivatives allocates zero derivative blocks for the layout
func NewPositionDerivatives(layout blocks.Layout) *PositionDerivatives {
	pd := &PositionDerivatives{layout: layout}
	for dir := range pd.comps {
		pd.comps[dir] = make([]*blocks.Store, layout.NAtoms)
		for ibt := range pd.comps[dir] {
			pd.comps[dir][ibt] = blocks.NewStore(layout)
		}
	}
	return pd
}

// PositionDerivativesFrom copies host arrays gdmx/gdmy/gdmz indexed
// [ibt][inl][m*nm+n].
func PositionDerivativesFrom(layout blocks.Layout, gdmx, gdmy, gdmz [][][]float64) (*PositionDerivatives, error) {
	pd := NewPositionDerivatives(layout)
	for dir, comp := range [][][][]float64{gdmx, gdmy, gdmz} {
		if len(comp) != layout.NAtoms {
			return nil, fmt.Errorf("%w: direction %d has %d derivative atoms, want %d",
				blocks.ErrShape, dir, len(comp), layout.NAtoms)
		}
		for ibt, byInl := range comp {
			if len(byInl) != layout.Inlmax() {
				return nil, fmt.Errorf("%w: direction %d atom %d has %d projectors, want %d",
					blocks.ErrShape, dir, ibt, len(byInl), layout.Inlmax())
			}
			for inl, data := range byInl {
				if err := pd.Set(Direction(dir), ibt, inl, data); err != nil {
					return nil, err
				}
			}
		}
	}
	return pd, nil
}

func (pd *PositionDerivatives) Layout() blocks.Layout { return pd.layout }

// Set stores the derivative of projector inl's block with respect to the
// dir coordinate of atom ibt.
func (pd *PositionDerivatives) Set(dir Direction, ibt, inl int, data []float64) error {
	if dir > ZDIR {
		return fmt.Errorf("%w: direction %d", blocks.ErrShape, dir)
	}
	if ibt < 0 || ibt >= pd.layout.NAtoms {
		return fmt.Errorf("%w: derivative atom %d out of range [0,%d)", blocks.ErrShape, ibt, pd.layout.NAtoms)
	}
	return pd.comps[dir][ibt].SetInl(inl, data)
}

// Block returns a view of the stored derivative block
func (pd *PositionDerivatives) Block(dir Direction, ibt, inl int) []float64 {
	return pd.comps[dir][ibt].Raw(inl)
}

// Gdmr reshapes the derivative blocks of shell nl into a
// (nat, 3, nat, nm, nm) tensor indexed [ibt][dir][iat][m][n].
func (pd *PositionDerivatives) Gdmr(nl int) *tensor.Dense {
	nat := pd.layout.NAtoms
	nm := pd.layout.Nm(nl)
	blk := nm * nm
	backing := make([]float64, nat*3*nat*blk)
	for ibt := 0; ibt < nat; ibt++ {
		for dir := 0; dir < 3; dir++ {
			for iat := 0; iat < nat; iat++ {
				off := ((ibt*3+dir)*nat + iat) * blk
				copy(backing[off:off+blk], pd.Block(Direction(dir), ibt, pd.layout.Inl(iat, nl)))
			}
		}
	}
	return utils.NewTensor(backing, nat, 3, nat, nm, nm)
}

// contractShell evaluates lamn,avmn->lav: lhs is (lead, nat, nm, nm),
// gevdm is (nat, nm, nm, nm), the result is (lead, nat, nm).
func contractShell(lhs []float64, lead, nat, nm int, gevdm []float64) []float64 {
	blk := nm * nm
	out := make([]float64, lead*nat*nm)
	for l := 0; l < lead; l++ {
		for a := 0; a < nat; a++ {
			src := lhs[(l*nat+a)*blk : (l*nat+a+1)*blk]
			for v := 0; v < nm; v++ {
				jac := gevdm[(a*nm+v)*blk : (a*nm+v+1)*blk]
				sum := 0.0
				for k, x := range src {
					sum += x * jac[k]
				}
				out[(l*nat+a)*nm+v] = sum
			}
		}
	}
	return out
}

// checkGevdm asserts that the jacobian matches the layout. A mismatch is a
// caller contract violation.
func checkGevdm(layout blocks.Layout, gevdm []*tensor.Dense) {
	if len(gevdm) != layout.NShells() {
		panic(fmt.Sprintf("gevdm has %d shells, layout has %d", len(gevdm), layout.NShells()))
	}
	for nl, g := range gevdm {
		nm := layout.Nm(nl)
		want := []int{layout.NAtoms, nm, nm, nm}
		if !sameShape(g.Shape(), want) {
			panic(fmt.Sprintf("gevdm shell %d has shape %v, want %v", nl, g.Shape(), want))
		}
	}
}

func sameShape(s tensor.Shape, want []int) bool {
	if len(s) != len(want) {
		return false
	}
	for i := range s {
		if s[i] != want[i] {
			return false
		}
	}
	return true
}

// AssembleGvx contracts the position derivatives with the eigen-jacobian,
//
//	gvx[b][x][a][v] = Σ_mn gdmr[b][x][a][m][n] · gevdm[a][v][m][n]
//
// and concatenates the shells along v. The result has shape
// (nat, 3, nat, des_per_atom).
func AssembleGvx(pd *PositionDerivatives, gevdm []*tensor.Dense) *tensor.Dense {
	layout := pd.layout
	checkGevdm(layout, gevdm)
	nat := layout.NAtoms

	parts := make([]*tensor.Dense, layout.NShells())
	for nl := range parts {
		nm := layout.Nm(nl)
		gdmr := pd.Gdmr(nl)
		out := contractShell(utils.Float64s(gdmr), nat*3, nat, nm, utils.Float64s(gevdm[nl]))
		parts[nl] = utils.NewTensor(out, nat, 3, nat, nm)
	}
	gvx, err := utils.ConcatLast(parts)
	if err != nil {
		panic(fmt.Sprintf("gvx concat: %v", err))
	}

	want := []int{nat, 3, nat, layout.DesPerAtom()}
	if !sameShape(gvx.Shape(), want) {
		panic(fmt.Sprintf("gvx has shape %v, want %v", gvx.Shape(), want))
	}
	return gvx
}

// OrbitalPrecalc contracts accumulated orbital PDM shell blocks with the
// eigen-jacobian,
//
//	orbital_precalc[0][a][v] = Σ_mn shell[a][m][n] · gevdm[a][v][m][n]
//
// concatenated over shells: shape (1, nat, des_per_atom).
func OrbitalPrecalc(shell *blocks.Store, gevdm []*tensor.Dense) *tensor.Dense {
	layout := shell.Layout()
	checkGevdm(layout, gevdm)
	nat := layout.NAtoms

	parts := make([]*tensor.Dense, layout.NShells())
	for nl := range parts {
		nm := layout.Nm(nl)
		blk := nm * nm
		lhs := make([]float64, nat*blk)
		for iat := 0; iat < nat; iat++ {
			copy(lhs[iat*blk:(iat+1)*blk], shell.Raw(layout.Inl(iat, nl)))
		}
		out := contractShell(lhs, 1, nat, nm, utils.Float64s(gevdm[nl]))
		parts[nl] = utils.NewTensor(out, 1, nat, nm)
	}
	precalc, err := utils.ConcatLast(parts)
	if err != nil {
		panic(fmt.Sprintf("orbital precalc concat: %v", err))
	}

	want := []int{1, nat, layout.DesPerAtom()}
	if !sameShape(precalc.Shape(), want) {
		panic(fmt.Sprintf("orbital precalc has shape %v, want %v", precalc.Shape(), want))
	}
	return precalc
}
