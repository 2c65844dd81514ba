package config

import (
	"fmt"
	"os"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/descriptor"
	"github.com/mfkiwl/abacus-develop/overlap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// Deck is the host-simulation input of one geometry step. Blocks are
// row-major nm×nm values indexed by projector inl.
type Deck struct {
	NAtoms int   `yaml:"nat"`
	InlL   []int `yaml:"inl_l"`

	PDM [][]float64 `yaml:"pdm"`

	// Position derivatives [ibt][inl], optional
	GDM *GDM `yaml:"gdm,omitempty"`

	// Precomputed orbital PDM shell [inl], optional
	OrbitalShell [][]float64 `yaml:"orbital_shell,omitempty"`

	// Inputs for accumulating the orbital PDM shell, optional
	Overlap *OverlapDeck `yaml:"overlap,omitempty"`
}

type GDM struct {
	X [][][]float64 `yaml:"x"`
	Y [][][]float64 `yaml:"y"`
	Z [][][]float64 `yaml:"z"`
}

type OverlapDeck struct {
	RcutAlpha float64      `yaml:"rcut_alpha"`
	NSpin     int          `yaml:"nspin"`
	DM        [][]float64  `yaml:"dm"` // Density matrix, nlocal×nlocal
	Centers   []CenterDeck `yaml:"centers"`
}

type CenterDeck struct {
	Position  [3]float64     `yaml:"position"`
	Neighbors []NeighborDeck `yaml:"neighbors"`
}

type NeighborDeck struct {
	Position [3]float64    `yaml:"position"`
	Rcut     float64       `yaml:"rcut"`
	Orbitals []OrbitalDeck `yaml:"orbitals"`
}

type OrbitalDeck struct {
	Index       int       `yaml:"index"`
	Projections []float64 `yaml:"projections"`
}

// LoadDeck reads an input deck from a YAML file
func LoadDeck(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck: %w", err)
	}
	var d Deck
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse deck: %w", err)
	}
	return &d, nil
}

// Save writes the deck as YAML
func (d *Deck) Save(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal deck: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (d *Deck) Layout() (blocks.Layout, error) {
	return blocks.LayoutFromInlL(d.NAtoms, d.InlL)
}

func (d *Deck) fill(name string, values [][]float64) (*blocks.Store, error) {
	layout, err := d.Layout()
	if err != nil {
		return nil, err
	}
	if len(values) != layout.Inlmax() {
		return nil, fmt.Errorf("%w: %s has %d blocks, want %d", blocks.ErrShape, name, len(values), layout.Inlmax())
	}
	s := blocks.NewStore(layout)
	for inl, v := range values {
		if err := s.SetInl(inl, v); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return s, nil
}

// Store returns the PDM blocks
func (d *Deck) Store() (*blocks.Store, error) {
	return d.fill("pdm", d.PDM)
}

// PositionDerivatives returns the gdm blocks, nil when the deck has none
func (d *Deck) PositionDerivatives() (*descriptor.PositionDerivatives, error) {
	if d.GDM == nil {
		return nil, nil
	}
	layout, err := d.Layout()
	if err != nil {
		return nil, err
	}
	return descriptor.PositionDerivativesFrom(layout, d.GDM.X, d.GDM.Y, d.GDM.Z)
}

// Shell returns the precomputed orbital PDM shell, nil when absent
func (d *Deck) Shell() (*blocks.Store, error) {
	if d.OrbitalShell == nil {
		return nil, nil
	}
	return d.fill("orbital_shell", d.OrbitalShell)
}

// OverlapSystem converts the overlap section, nil when absent
func (d *Deck) OverlapSystem() (*overlap.System, *mat.Dense, error) {
	if d.Overlap == nil {
		return nil, nil, nil
	}
	layout, err := d.Layout()
	if err != nil {
		return nil, nil, err
	}
	o := d.Overlap
	n := len(o.DM)
	if n == 0 {
		return nil, nil, fmt.Errorf("%w: empty density matrix", overlap.ErrInput)
	}
	dm := mat.NewDense(n, n, nil)
	for i, row := range o.DM {
		if len(row) != n {
			return nil, nil, fmt.Errorf("%w: density matrix row %d has %d entries, want %d",
				overlap.ErrInput, i, len(row), n)
		}
		dm.SetRow(i, row)
	}

	sys := &overlap.System{
		Layout:    layout,
		RcutAlpha: o.RcutAlpha,
		NSpin:     o.NSpin,
		Centers:   make([]overlap.Center, len(o.Centers)),
	}
	if sys.NSpin == 0 {
		sys.NSpin = 1
	}
	for i, c := range o.Centers {
		center := overlap.Center{Position: vec(c.Position)}
		for _, nb := range c.Neighbors {
			neighbor := overlap.Neighbor{Position: vec(nb.Position), Rcut: nb.Rcut}
			for _, orb := range nb.Orbitals {
				neighbor.Orbitals = append(neighbor.Orbitals, overlap.Orbital{
					Index:       orb.Index,
					Projections: orb.Projections,
				})
			}
			center.Neighbors = append(center.Neighbors, neighbor)
		}
		sys.Centers[i] = center
	}
	if err := sys.Validate(); err != nil {
		return nil, nil, err
	}
	return sys, dm, nil
}

func vec(p [3]float64) r3.Vec {
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}
}
