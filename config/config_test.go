package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mfkiwl/abacus-develop/blocks"
	"github.com/mfkiwl/abacus-develop/descriptor"
	"github.com/mfkiwl/abacus-develop/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("MissingFileGivesDefaults", func(t *testing.T) {
		t.Setenv("DEEPKS_MODEL", "")
		t.Setenv("DEEPKS_LOG_LEVEL", "")
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("RelativePathsAndOverrides", func(t *testing.T) {
		t.Setenv("DEEPKS_MODEL", "")
		t.Setenv("DEEPKS_LOG_LEVEL", "debug")
		dir := t.TempDir()
		path := filepath.Join(dir, "run.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"model: model.cbor\ndeck: /abs/deck.yaml\nranks: 3\npartition: round-robin\n"), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "model.cbor"), cfg.Model)
		assert.Equal(t, "/abs/deck.yaml", cfg.Deck)
		assert.Equal(t, 3, cfg.Ranks)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, partitions.RoundRobin, cfg.Strategy())
		assert.NoError(t, cfg.Validate())
	})

	t.Run("SaveRoundTrip", func(t *testing.T) {
		t.Setenv("DEEPKS_MODEL", "")
		t.Setenv("DEEPKS_LOG_LEVEL", "")
		path := filepath.Join(t.TempDir(), "run.yaml")
		cfg := DefaultConfig()
		cfg.Workers = 2
		require.NoError(t, cfg.Save(path))
		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, cfg, got)
	})

	t.Run("ParseError", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.yaml")
		require.NoError(t, os.WriteFile(path, []byte("workers: [1"), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Workers", func(c *Config) { c.Workers = 0 }},
		{"Ranks", func(c *Config) { c.Ranks = -1 }},
		{"Partition", func(c *Config) { c.Partition = "metis" }},
		{"LogLevel", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

const deckYAML = `
nat: 2
inl_l: [0, 1, 0, 1]
pdm:
  - [1.0]
  - [1, 0, 0, 0, 2, 0, 0, 0, 3]
  - [4.0]
  - [1, 0.1, 0, 0.1, 1, 0, 0, 0, 1]
orbital_shell:
  - [1.0]
  - [1, 0, 0, 0, 1, 0, 0, 0, 1]
  - [1.0]
  - [1, 0, 0, 0, 1, 0, 0, 0, 1]
overlap:
  rcut_alpha: 1.0
  dm: [[1.0, 0.5], [0.5, 2.0]]
  centers:
    - position: [0, 0, 0]
      neighbors:
        - position: [0, 0, 0]
          rcut: 1.0
          orbitals: [{index: 0, projections: [1, 0, 0, 0]}]
    - position: [1.5, 0, 0]
      neighbors:
        - position: [1.5, 0, 0]
          rcut: 1.0
          orbitals: [{index: 1, projections: [1, 0, 0, 0]}]
`

func writeDeck(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoadDeck(t *testing.T) {
	d, err := LoadDeck(writeDeck(t, deckYAML))
	require.NoError(t, err)

	layout, err := d.Layout()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, layout.ShellL)
	assert.Equal(t, 4, layout.DesPerAtom())

	s, err := d.Store()
	require.NoError(t, err)
	assert.Equal(t, []float64{4.0}, s.Raw(2))

	pd, err := d.PositionDerivatives()
	require.NoError(t, err)
	assert.Nil(t, pd)

	shell, err := d.Shell()
	require.NoError(t, err)
	require.NotNil(t, shell)
	assert.Equal(t, s.Len(), shell.Len())

	sys, dm, err := d.OverlapSystem()
	require.NoError(t, err)
	assert.Equal(t, 1, sys.NSpin)
	assert.Equal(t, 0.5, dm.At(0, 1))
	assert.Len(t, sys.Centers, 2)
}

func TestDeckPositionDerivatives(t *testing.T) {
	zero := [][]float64{{0}, {0, 0, 0, 0, 0, 0, 0, 0, 0}}
	d := &Deck{
		NAtoms: 1,
		InlL:   []int{0, 1},
		PDM:    [][]float64{{1}, {1, 0, 0, 0, 1, 0, 0, 0, 1}},
		GDM: &GDM{
			X: [][][]float64{{{2}, zero[1]}},
			Y: [][][]float64{zero},
			Z: [][][]float64{zero},
		},
	}
	path := filepath.Join(t.TempDir(), "deck.yaml")
	require.NoError(t, d.Save(path))
	got, err := LoadDeck(path)
	require.NoError(t, err)

	pd, err := got.PositionDerivatives()
	require.NoError(t, err)
	require.NotNil(t, pd)
	assert.Equal(t, []float64{2}, pd.Block(descriptor.XDIR, 0, 0))
}

func TestDeckErrors(t *testing.T) {
	_, err := LoadDeck(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)

	d := &Deck{NAtoms: 1, InlL: []int{0}, PDM: [][]float64{{1}, {2}}}
	_, err = d.Store()
	assert.ErrorIs(t, err, blocks.ErrShape)

	d = &Deck{NAtoms: 1, InlL: []int{1}, PDM: [][]float64{{1}}}
	_, err = d.Store()
	assert.ErrorIs(t, err, blocks.ErrShape)

	d = &Deck{NAtoms: 2, InlL: []int{0, 1}}
	_, err = d.Layout()
	assert.Error(t, err)
}
