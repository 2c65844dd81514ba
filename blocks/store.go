package blocks

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Store is an arena of fixed-size nm×nm blocks, one per projector.
// Layout: [inl 0 block][inl 1 block]...[inl inlmax-1 block], row-major.
type Store struct {
	layout Layout

	// Contiguous storage for all blocks
	data []float64

	// Block inl occupies data[offsets[inl]:offsets[inl+1]]
	offsets []int
}

// NewStore allocates a zeroed store for the layout
func NewStore(layout Layout) *Store {
	inlmax := layout.Inlmax()
	offsets := make([]int, inlmax+1)
	for inl := 0; inl < inlmax; inl++ {
		nm := layout.NmInl(inl)
		offsets[inl+1] = offsets[inl] + nm*nm
	}
	return &Store{
		layout:  layout,
		data:    make([]float64, offsets[inlmax]),
		offsets: offsets,
	}
}

func (s *Store) Layout() Layout { return s.layout }

// Raw returns a view onto projector inl's row-major block
func (s *Store) Raw(inl int) []float64 {
	return s.data[s.offsets[inl]:s.offsets[inl+1]]
}

// SetInl copies row-major data into projector inl
func (s *Store) SetInl(inl int, data []float64) error {
	if inl < 0 || inl >= s.layout.Inlmax() {
		return fmt.Errorf("%w: projector %d out of range [0,%d)", ErrShape, inl, s.layout.Inlmax())
	}
	dst := s.Raw(inl)
	if len(data) != len(dst) {
		nm := s.layout.NmInl(inl)
		return fmt.Errorf("%w: projector %d wants %dx%d=%d values, got %d",
			ErrShape, inl, nm, nm, len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

// Set copies row-major data into the block of (atom, shell)
func (s *Store) Set(iat, nl int, data []float64) error {
	return s.SetInl(s.layout.Inl(iat, nl), data)
}

// SetMatrix copies an nm×nm matrix into projector inl
func (s *Store) SetMatrix(inl int, m mat.Matrix) error {
	r, c := m.Dims()
	nm := s.layout.NmInl(inl)
	if r != nm || c != nm {
		return fmt.Errorf("%w: projector %d wants %dx%d, got %dx%d", ErrShape, inl, nm, nm, r, c)
	}
	dst := s.Raw(inl)
	for i := 0; i < nm; i++ {
		for j := 0; j < nm; j++ {
			dst[i*nm+j] = m.At(i, j)
		}
	}
	return nil
}

// Block returns a copy of projector inl as a dense matrix
func (s *Store) Block(inl int) *mat.Dense {
	nm := s.layout.NmInl(inl)
	data := make([]float64, nm*nm)
	copy(data, s.Raw(inl))
	return mat.NewDense(nm, nm, data)
}

// AtomBlock returns a copy of the block of (atom, shell)
func (s *Store) AtomBlock(iat, nl int) *mat.Dense {
	return s.Block(s.layout.Inl(iat, nl))
}

// Zero clears every block
func (s *Store) Zero() {
	for i := range s.data {
		s.data[i] = 0
	}
}

// Clone returns a deep copy
func (s *Store) Clone() *Store {
	c := &Store{
		layout:  s.layout,
		data:    make([]float64, len(s.data)),
		offsets: s.offsets,
	}
	copy(c.data, s.data)
	return c
}

// AddFrom accumulates another store with the same layout into s
func (s *Store) AddFrom(o *Store) error {
	if !s.layout.Equal(o.layout) {
		return fmt.Errorf("%w: cannot add stores with different layouts", ErrShape)
	}
	for i, v := range o.data {
		s.data[i] += v
	}
	return nil
}

// Flat exposes the whole arena, used for sum reductions across ranks
func (s *Store) Flat() []float64 { return s.data }

// Len is the total number of stored values
func (s *Store) Len() int { return len(s.data) }
