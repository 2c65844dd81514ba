package partitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPartitions(t *testing.T) {
	tests := []struct {
		name     string
		builder  PartitionBuilder
		expected [][]int
	}{
		{
			name:     "BlockEven",
			builder:  PartitionBuilder{NumAtoms: 6, NumPartitions: 3, Strategy: BlockPartition},
			expected: [][]int{{0, 1}, {2, 3}, {4, 5}},
		},
		{
			name:     "BlockRemainder",
			builder:  PartitionBuilder{NumAtoms: 7, NumPartitions: 3, Strategy: BlockPartition},
			expected: [][]int{{0, 1, 2}, {3, 4}, {5, 6}},
		},
		{
			name:     "RoundRobin",
			builder:  PartitionBuilder{NumAtoms: 5, NumPartitions: 2, Strategy: RoundRobin},
			expected: [][]int{{0, 2, 4}, {1, 3}},
		},
		{
			name:     "MoreRanksThanAtoms",
			builder:  PartitionBuilder{NumAtoms: 2, NumPartitions: 4, Strategy: BlockPartition},
			expected: [][]int{{0}, {1}, {}, {}},
		},
		{
			name: "CostBalanced",
			builder: PartitionBuilder{NumAtoms: 4, NumPartitions: 2, Strategy: CostBalanced,
				Costs: []int{1, 5, 3, 3}},
			expected: [][]int{{0, 1}, {2, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := tt.builder.BuildPartitions()
			require.NoError(t, err)
			require.NoError(t, layout.ValidateLayout())
			require.Len(t, layout.Partitions, len(tt.expected))
			for p, atoms := range tt.expected {
				assert.Equal(t, atoms, layout.Atoms(p), "partition %d", p)
				for _, a := range atoms {
					assert.Equal(t, p, layout.GetPartition(a))
				}
			}
		})
	}
}

func TestBuildPartitionsErrors(t *testing.T) {
	_, err := (&PartitionBuilder{NumAtoms: 3}).BuildPartitions()
	assert.ErrorIs(t, err, ErrNoRanks)

	_, err = (&PartitionBuilder{NumAtoms: 3, NumPartitions: 1, Costs: []int{1}}).BuildPartitions()
	assert.Error(t, err)
}

func TestValidateLayoutDetectsCorruption(t *testing.T) {
	layout, err := (&PartitionBuilder{NumAtoms: 4, NumPartitions: 2}).BuildPartitions()
	require.NoError(t, err)

	layout.AToP[0] = 1
	assert.Error(t, layout.ValidateLayout())
	layout.AToP[0] = 0

	layout.Partitions[1].Atoms = append(layout.Partitions[1].Atoms, 0)
	layout.Partitions[1].NumAtoms++
	assert.Error(t, layout.ValidateLayout())
}

func TestPartitionStatistics(t *testing.T) {
	layout, err := (&PartitionBuilder{NumAtoms: 7, NumPartitions: 3}).BuildPartitions()
	require.NoError(t, err)

	stats := layout.PartitionStatistics()
	assert.Equal(t, 3, stats.NumPartitions)
	assert.Equal(t, 2, stats.MinAtoms)
	assert.Equal(t, 3, stats.MaxAtoms)
	assert.InDelta(t, 7.0/3.0, stats.AvgAtoms, 1e-12)
	assert.InDelta(t, 3/(7.0/3.0), stats.Imbalance, 1e-12)
	assert.InDelta(t, stats.Imbalance, stats.CostImbalance, 1e-12)
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]PartitionStrategy{
		"": BlockPartition, "block": BlockPartition,
		"round-robin": RoundRobin, "cost-balanced": CostBalanced,
	} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("metis")
	assert.Error(t, err)
}
