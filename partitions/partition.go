package partitions

import (
	"fmt"
)

// Partition is the set of atoms one rank works on
type Partition struct {
	// Unique identifier for this partition, equal to the owning rank
	ID int

	// Atom membership
	Atoms    []int // Global atom indices in this partition, ascending
	NumAtoms int   // Number of atoms assigned
	Cost     int   // Sum of the per-atom costs of the assigned atoms
}

// PartitionLayout manages the complete decomposition of the atom list
type PartitionLayout struct {
	// All partitions, indexed by rank
	Partitions []Partition

	// Global sizing information
	MaxAtoms      int // max(NumAtoms) across all partitions
	TotalAtoms    int // Sum of all atoms across partitions
	NumPartitions int // Total number of partitions

	// Atom to partition mapping
	AToP []int // Length TotalAtoms: atom a belongs to partition AToP[a]
}

// GetPartition returns the partition containing atom a
func (pl *PartitionLayout) GetPartition(atom int) int {
	if atom < 0 || atom >= len(pl.AToP) {
		return -1
	}
	return pl.AToP[atom]
}

// Atoms returns the atoms owned by partition p, nil if p is out of range
func (pl *PartitionLayout) Atoms(p int) []int {
	if p < 0 || p >= len(pl.Partitions) {
		return nil
	}
	return pl.Partitions[p].Atoms
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("have %d partitions, NumPartitions is %d",
			len(pl.Partitions), pl.NumPartitions)
	}
	if len(pl.AToP) != pl.TotalAtoms {
		return fmt.Errorf("AToP has %d entries, TotalAtoms is %d", len(pl.AToP), pl.TotalAtoms)
	}

	// Every atom is owned exactly once, by the partition AToP names
	seen := make([]bool, pl.TotalAtoms)
	actualMax := 0
	for i, p := range pl.Partitions {
		if p.ID != i {
			return fmt.Errorf("partition at position %d has ID %d", i, p.ID)
		}
		if p.NumAtoms != len(p.Atoms) {
			return fmt.Errorf("partition %d: NumAtoms %d != %d listed atoms",
				p.ID, p.NumAtoms, len(p.Atoms))
		}
		for _, a := range p.Atoms {
			if a < 0 || a >= pl.TotalAtoms {
				return fmt.Errorf("partition %d: atom %d out of range", p.ID, a)
			}
			if seen[a] {
				return fmt.Errorf("atom %d assigned more than once", a)
			}
			seen[a] = true
			if pl.AToP[a] != p.ID {
				return fmt.Errorf("atom %d listed in partition %d, AToP says %d",
					a, p.ID, pl.AToP[a])
			}
		}
		if p.NumAtoms > actualMax {
			actualMax = p.NumAtoms
		}
	}
	for a, ok := range seen {
		if !ok {
			return fmt.Errorf("atom %d not assigned", a)
		}
	}
	if actualMax != pl.MaxAtoms {
		return fmt.Errorf("computed MaxAtoms %d != stored MaxAtoms %d",
			actualMax, pl.MaxAtoms)
	}
	return nil
}
