package partitions

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrNoRanks = errors.New("number of partitions must be positive")

// PartitionBuilder assigns atoms to ranks
type PartitionBuilder struct {
	NumAtoms      int
	NumPartitions int // One partition per rank
	Strategy      PartitionStrategy

	// Optional per-atom work estimate, e.g. neighbour pair count.
	// Only CostBalanced reads it; nil means unit cost.
	Costs []int
}

// PartitionStrategy defines how atoms are grouped
type PartitionStrategy int

const (
	BlockPartition PartitionStrategy = iota // Consecutive atoms
	RoundRobin                              // Distribute cyclically
	CostBalanced                            // Greedy: heaviest atom to lightest partition
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "round-robin"
	case CostBalanced:
		return "cost-balanced"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a strategy name to its value; "" selects BlockPartition
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch name {
	case "", "block":
		return BlockPartition, nil
	case "round-robin", "roundrobin":
		return RoundRobin, nil
	case "cost-balanced", "cost":
		return CostBalanced, nil
	}
	return 0, fmt.Errorf("unknown partition strategy %q", name)
}

// BuildPartitions creates a partition layout. Ranks beyond the atom count
// receive empty partitions.
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.NumPartitions < 1 {
		return nil, fmt.Errorf("%w: %d", ErrNoRanks, pb.NumPartitions)
	}
	if pb.NumAtoms < 0 {
		return nil, fmt.Errorf("negative atom count %d", pb.NumAtoms)
	}
	if pb.Costs != nil && len(pb.Costs) != pb.NumAtoms {
		return nil, fmt.Errorf("have %d atom costs for %d atoms", len(pb.Costs), pb.NumAtoms)
	}

	aToP := pb.partitionAtoms()
	partitions := pb.createPartitions(aToP)

	layout := &PartitionLayout{
		Partitions:    partitions,
		MaxAtoms:      maxAtoms(partitions),
		TotalAtoms:    pb.NumAtoms,
		NumPartitions: pb.NumPartitions,
		AToP:          aToP,
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

func (pb *PartitionBuilder) cost(atom int) int {
	if pb.Costs == nil {
		return 1
	}
	return pb.Costs[atom]
}

// partitionAtoms assigns atoms to partitions
func (pb *PartitionBuilder) partitionAtoms() []int {
	n, np := pb.NumAtoms, pb.NumPartitions
	aToP := make([]int, n)

	switch pb.Strategy {
	case RoundRobin:
		for i := 0; i < n; i++ {
			aToP[i] = i % np
		}

	case CostBalanced:
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			return pb.cost(order[i]) > pb.cost(order[j])
		})
		load := make([]int, np)
		for _, a := range order {
			lightest := 0
			for p := 1; p < np; p++ {
				if load[p] < load[lightest] {
					lightest = p
				}
			}
			aToP[a] = lightest
			load[lightest] += pb.cost(a)
		}

	default:
		// Block partitioning, first n%np partitions take one extra atom
		base, extra := n/np, n%np
		a := 0
		for p := 0; p < np; p++ {
			size := base
			if p < extra {
				size++
			}
			for k := 0; k < size; k++ {
				aToP[a] = p
				a++
			}
		}
	}

	return aToP
}

// createPartitions builds partition structures from atom assignments
func (pb *PartitionBuilder) createPartitions(aToP []int) []Partition {
	partitions := make([]Partition, pb.NumPartitions)
	for i := range partitions {
		partitions[i] = Partition{ID: i, Atoms: make([]int, 0)}
	}
	for atom, part := range aToP {
		partitions[part].Atoms = append(partitions[part].Atoms, atom)
		partitions[part].NumAtoms++
		partitions[part].Cost += pb.cost(atom)
	}
	return partitions
}

func maxAtoms(partitions []Partition) int {
	m := 0
	for _, p := range partitions {
		if p.NumAtoms > m {
			m = p.NumAtoms
		}
	}
	return m
}

// PartitionStatistics computes load balance metrics
func (layout *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: layout.NumPartitions,
		MinAtoms:      math.MaxInt32,
		MaxAtoms:      0,
		AvgAtoms:      float64(layout.TotalAtoms) / float64(layout.NumPartitions),
		MinCost:       math.MaxInt32,
	}

	totalCost := 0
	for _, p := range layout.Partitions {
		if p.NumAtoms < stats.MinAtoms {
			stats.MinAtoms = p.NumAtoms
		}
		if p.NumAtoms > stats.MaxAtoms {
			stats.MaxAtoms = p.NumAtoms
		}
		if p.Cost < stats.MinCost {
			stats.MinCost = p.Cost
		}
		if p.Cost > stats.MaxCost {
			stats.MaxCost = p.Cost
		}
		totalCost += p.Cost
	}

	if stats.AvgAtoms > 0 {
		stats.Imbalance = float64(stats.MaxAtoms) / stats.AvgAtoms
	}
	if totalCost > 0 {
		stats.CostImbalance = float64(stats.MaxCost) * float64(layout.NumPartitions) / float64(totalCost)
	}

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinAtoms      int
	MaxAtoms      int
	AvgAtoms      float64
	Imbalance     float64 // MaxAtoms / AvgAtoms, 0 when there are no atoms
	MinCost       int
	MaxCost       int
	CostImbalance float64 // MaxCost / average cost
}
