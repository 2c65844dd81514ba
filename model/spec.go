package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

const (
	KindNetwork   = "network"
	KindScaledSum = "scaled_sum"
)

var ErrFormat = errors.New("unsupported model file format")

// Spec is the serialized form of a correction model. The same structure is
// read from YAML text files and from CBOR binary files.
type Spec struct {
	Kind       string      `yaml:"kind" cbor:"kind"`
	Scale      float64     `yaml:"scale,omitempty" cbor:"scale,omitempty"` // scaled_sum only
	InputDim   int         `yaml:"input_dim,omitempty" cbor:"input_dim,omitempty"`
	Shift      []float64   `yaml:"shift,omitempty" cbor:"shift,omitempty"`
	InputScale []float64   `yaml:"input_scale,omitempty" cbor:"input_scale,omitempty"`
	Layers     []LayerSpec `yaml:"layers,omitempty" cbor:"layers,omitempty"`
	Prefit     []float64   `yaml:"prefit,omitempty" cbor:"prefit,omitempty"`
	PrefitBias float64     `yaml:"prefit_bias,omitempty" cbor:"prefit_bias,omitempty"`
}

type LayerSpec struct {
	Weights    [][]float64 `yaml:"weights" cbor:"weights"` // [out][in]
	Bias       []float64   `yaml:"bias,omitempty" cbor:"bias,omitempty"`
	Activation string      `yaml:"activation,omitempty" cbor:"activation,omitempty"`
}

// Build validates the spec and constructs the model it describes
func (s *Spec) Build() (Model, error) {
	switch s.Kind {
	case KindScaledSum:
		return ScaledSum{Scale: s.Scale}, nil
	case KindNetwork, "":
		return s.buildNetwork()
	default:
		return nil, fmt.Errorf("unknown model kind %q", s.Kind)
	}
}

func (s *Spec) buildNetwork() (*Network, error) {
	if s.InputDim < 1 {
		return nil, fmt.Errorf("input_dim must be positive, got %d", s.InputDim)
	}
	if len(s.Layers) == 0 && len(s.Prefit) == 0 {
		return nil, fmt.Errorf("network has neither layers nor prefit")
	}
	for name, v := range map[string][]float64{"shift": s.Shift, "input_scale": s.InputScale, "prefit": s.Prefit} {
		if v != nil && len(v) != s.InputDim {
			return nil, fmt.Errorf("%s has %d entries, want input_dim=%d", name, len(v), s.InputDim)
		}
	}
	for j, v := range s.InputScale {
		if v == 0 {
			return nil, fmt.Errorf("input_scale[%d] is zero", j)
		}
	}

	net := &Network{
		InputDim:   s.InputDim,
		Shift:      s.Shift,
		InputScale: s.InputScale,
		Prefit:     s.Prefit,
		PrefitBias: s.PrefitBias,
	}
	in := s.InputDim
	for k, ls := range s.Layers {
		out := len(ls.Weights)
		if out == 0 {
			return nil, fmt.Errorf("layer %d has no weights", k)
		}
		data := make([]float64, 0, out*in)
		for i, row := range ls.Weights {
			if len(row) != in {
				return nil, fmt.Errorf("layer %d row %d has %d weights, want %d", k, i, len(row), in)
			}
			data = append(data, row...)
		}
		act, err := LookupActivation(ls.Activation)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", k, err)
		}
		layer := Layer{W: mat.NewDense(out, in, data), Act: act}
		if ls.Bias != nil {
			if len(ls.Bias) != out {
				return nil, fmt.Errorf("layer %d bias has %d entries, want %d", k, len(ls.Bias), out)
			}
			layer.B = mat.NewVecDense(out, append([]float64(nil), ls.Bias...))
		}
		net.Layers = append(net.Layers, layer)
		in = out
	}
	if len(s.Layers) > 0 && in != 1 {
		return nil, fmt.Errorf("last layer has %d outputs, want 1", in)
	}
	return net, nil
}

type codec struct {
	unmarshal func([]byte, interface{}) error
	marshal   func(interface{}) ([]byte, error)
}

var codecs = map[string]codec{
	".yaml": {yaml.Unmarshal, yaml.Marshal},
	".yml":  {yaml.Unmarshal, yaml.Marshal},
	".cbor": {cbor.Unmarshal, cbor.Marshal},
}

func codecFor(path string) (codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	c, ok := codecs[ext]
	if !ok {
		return codec{}, fmt.Errorf("%w: %q", ErrFormat, ext)
	}
	return c, nil
}

// ReadSpec decodes a model file, choosing the codec by extension
func ReadSpec(path string) (*Spec, error) {
	c, err := codecFor(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Spec
	if err := c.unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &s, nil
}

// WriteSpec encodes a model file, choosing the codec by extension
func WriteSpec(path string, s *Spec) error {
	c, err := codecFor(path)
	if err != nil {
		return err
	}
	raw, err := c.marshal(s)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, raw, 0644)
}

// Load reads and builds the model stored at path
func Load(path string) (Model, error) {
	s, err := ReadSpec(path)
	if err != nil {
		return nil, err
	}
	m, err := s.Build()
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}
