// Package overlap accumulates the orbital PDM shell: for every projector,
// the density matrix contracted with the projector/orbital overlaps of all
// neighbour pairs inside the cutoff sphere of the projector's atom.
package overlap

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/comm"
	"github.com/mfkiwl/abacus-develop/partitions"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var ErrInput = errors.New("invalid overlap input")

// Orbital is one basis orbital of a neighbour atom
type Orbital struct {
	Index int // Global orbital index, row and column of the density matrix

	// Overlaps with every projector component of the centre atom,
	// shells concatenated in layout order, length des_per_atom
	Projections []float64
}

// Neighbor is an atom within range of a projector centre. The centre
// atom itself appears in its own neighbour list.
type Neighbor struct {
	Position r3.Vec
	Rcut     float64 // Orbital cutoff radius of the neighbour's species
	Orbitals []Orbital
}

// Center holds the neighbourhood of one projector atom
type Center struct {
	Position  r3.Vec
	Neighbors []Neighbor
}

// System is the geometry of one step, positions in the units of the radii
type System struct {
	Layout    blocks.Layout
	Centers   []Center // One per atom
	RcutAlpha float64  // Projector cutoff radius
	NSpin     int
}

func (s *System) Validate() error {
	if len(s.Centers) != s.Layout.NAtoms {
		return fmt.Errorf("%w: %d centres for %d atoms", ErrInput, len(s.Centers), s.Layout.NAtoms)
	}
	if s.NSpin < 1 {
		return fmt.Errorf("%w: nspin %d", ErrInput, s.NSpin)
	}
	des := s.Layout.DesPerAtom()
	for iat, c := range s.Centers {
		for ad, nb := range c.Neighbors {
			for _, orb := range nb.Orbitals {
				if len(orb.Projections) != des {
					return fmt.Errorf("%w: atom %d neighbour %d orbital %d has %d projections, want %d",
						ErrInput, iat, ad, orb.Index, len(orb.Projections), des)
				}
			}
		}
	}
	return nil
}

// inRange is the pair screening applied to each neighbour
func (s *System) inRange(c Center, nb Neighbor) bool {
	return r3.Norm(r3.Sub(nb.Position, c.Position)) <= s.RcutAlpha+nb.Rcut
}

// Cost is the number of orbital pairs atom iat contributes
func (s *System) Cost(iat int) int {
	c := s.Centers[iat]
	n := 0
	for _, nb := range c.Neighbors {
		if s.inRange(c, nb) {
			n += len(nb.Orbitals)
		}
	}
	return n * n
}

// AccumulateAtoms adds the contributions of the listed atoms into dst
func (s *System) AccumulateAtoms(dst *blocks.Store, dm mat.Matrix, atoms []int) error {
	if !dst.Layout().Equal(s.Layout) {
		return fmt.Errorf("%w: destination store has a different layout", blocks.ErrShape)
	}
	if dm == nil {
		return fmt.Errorf("%w: no density matrix", ErrInput)
	}
	rows, cols := dm.Dims()
	nspin := float64(s.NSpin)

	for _, iat := range atoms {
		c := s.Centers[iat]
		for _, nb1 := range c.Neighbors {
			if !s.inRange(c, nb1) {
				continue
			}
			for _, nb2 := range c.Neighbors {
				if !s.inRange(c, nb2) {
					continue
				}
				for _, o1 := range nb1.Orbitals {
					for _, o2 := range nb2.Orbitals {
						if o2.Index >= rows || o1.Index >= cols || o1.Index < 0 || o2.Index < 0 {
							return fmt.Errorf("%w: orbital pair (%d,%d) outside %dx%d density matrix",
								ErrInput, o1.Index, o2.Index, rows, cols)
						}
						d := nspin * dm.At(o2.Index, o1.Index)
						if d == 0 {
							continue
						}
						s.addPair(dst, iat, d, o1.Projections, o2.Projections)
					}
				}
			}
		}
	}
	return nil
}

func (s *System) addPair(dst *blocks.Store, iat int, d float64, p1, p2 []float64) {
	ib := 0
	for nl := 0; nl < s.Layout.NShells(); nl++ {
		nm := s.Layout.Nm(nl)
		shell := dst.Raw(s.Layout.Inl(iat, nl))
		for m1 := 0; m1 < nm; m1++ {
			for m2 := 0; m2 < nm; m2++ {
				shell[m1*nm+m2] += d * p1[ib+m1] * p2[ib+m2]
			}
		}
		ib += nm
	}
}

// Accumulate builds the shell store serially over all atoms
func Accumulate(s *System, dm mat.Matrix) (*blocks.Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if dm == nil {
		return nil, fmt.Errorf("%w: no density matrix", ErrInput)
	}
	all := make([]int, s.Layout.NAtoms)
	for i := range all {
		all[i] = i
	}
	shell := blocks.NewStore(s.Layout)
	if err := s.AccumulateAtoms(shell, dm, all); err != nil {
		return nil, err
	}
	return shell, nil
}

// AccumulateDistributed splits the atoms over the ranks of g, accumulates
// each share locally and sum-reduces the partial stores. Every rank ends
// with the full result; the coordinator's copy is returned.
func AccumulateDistributed(ctx context.Context, g *comm.Group, s *System, dm mat.Matrix,
	strategy partitions.PartitionStrategy) (*blocks.Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if dm == nil {
		return nil, fmt.Errorf("%w: no density matrix", ErrInput)
	}
	pb := &partitions.PartitionBuilder{
		NumAtoms:      s.Layout.NAtoms,
		NumPartitions: g.Size(),
		Strategy:      strategy,
	}
	if strategy == partitions.CostBalanced {
		pb.Costs = make([]int, s.Layout.NAtoms)
		for iat := range pb.Costs {
			pb.Costs[iat] = s.Cost(iat)
		}
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, err
	}

	var result *blocks.Store
	err = g.Run(ctx, func(r *comm.Rank) error {
		local := blocks.NewStore(s.Layout)
		atoms := layout.Atoms(r.ID())
		if err := s.AccumulateAtoms(local, dm, atoms); err != nil {
			return err
		}
		r.Logger().Debug("orbital shell accumulated", zap.Int("atoms", len(atoms)))
		if err := r.AllReduceSum(r.Context(), local.Flat()); err != nil {
			return err
		}
		if r.IsCoordinator() {
			result = local
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
