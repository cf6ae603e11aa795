package svs

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/example/go-singvits/internal/runtime/tensor"
	"github.com/example/go-singvits/internal/safetensors"
)

// Source supplies parameter tensors by dotted path.
type Source interface {
	Fetch(name string, shape []int64) (*tensor.Tensor, error)
}

// CheckpointSource reads parameters from a safetensors store and verifies
// that every fetched tensor matches the shape the model expects.
type CheckpointSource struct {
	store *safetensors.Store
}

func OpenCheckpoint(path string) (*CheckpointSource, error) {
	store, err := safetensors.OpenStore(path)
	if err != nil {
		return nil, fmt.Errorf("svs: open checkpoint: %w", err)
	}

	return &CheckpointSource{store: store}, nil
}

func NewCheckpointSource(store *safetensors.Store) *CheckpointSource {
	return &CheckpointSource{store: store}
}

func (s *CheckpointSource) Fetch(name string, shape []int64) (*tensor.Tensor, error) {
	st, err := s.store.TensorWithShape(name, shape)
	if err != nil {
		return nil, err
	}

	return tensor.New(st.Data, st.Shape)
}

func (s *CheckpointSource) Close() {
	s.store.Close()
}

// InitSource fabricates parameters from a seeded generator. Biases start at
// zero, normalization gains at one, everything else as a small Gaussian.
// Fetch order is deterministic for a fixed model topology, so two builds
// from the same seed produce identical parameters.
type InitSource struct {
	rng *rand.Rand
	std float64
}

func NewInitSource(seed int64) *InitSource {
	return &InitSource{rng: rand.New(rand.NewSource(seed)), std: 0.02}
}

func (s *InitSource) Fetch(name string, shape []int64) (*tensor.Tensor, error) {
	out, err := tensor.Zeros(shape)
	if err != nil {
		return nil, fmt.Errorf("svs: init %q: %w", name, err)
	}

	switch {
	case strings.HasSuffix(name, ".bias"):
		// keep zeros
	case strings.Contains(name, "norm") && strings.HasSuffix(name, ".weight"):
		d := out.RawData()
		for i := range d {
			d[i] = 1
		}
	default:
		d := out.RawData()
		for i := range d {
			d[i] = float32(s.rng.NormFloat64() * s.std)
		}
	}

	return out, nil
}

// VarBuilder hands out parameter tensors under a hierarchical dotted prefix
// and records every tensor it creates so the full parameter set can be
// exported afterwards.
type VarBuilder struct {
	src    Source
	prefix string
	rec    *paramRecorder
}

type paramRecorder struct {
	params map[string]*tensor.Tensor
}

func NewVarBuilder(src Source) *VarBuilder {
	return &VarBuilder{
		src: src,
		rec: &paramRecorder{params: make(map[string]*tensor.Tensor)},
	}
}

// Path returns a child builder scoped under the given name components.
func (vb *VarBuilder) Path(parts ...string) *VarBuilder {
	prefix := vb.prefix
	for _, p := range parts {
		if prefix == "" {
			prefix = p
		} else {
			prefix = prefix + "." + p
		}
	}

	return &VarBuilder{src: vb.src, prefix: prefix, rec: vb.rec}
}

// Tensor fetches the parameter at this builder's prefix plus name, with the
// given shape.
func (vb *VarBuilder) Tensor(name string, shape ...int64) (*tensor.Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("svs: parameter %q requested without a shape", name)
	}

	full := name
	if vb.prefix != "" {
		full = vb.prefix + "." + name
	}

	t, err := vb.src.Fetch(full, shape)
	if err != nil {
		return nil, fmt.Errorf("svs: parameter %q: %w", full, err)
	}

	vb.rec.params[full] = t

	return t, nil
}

// Parameters returns every tensor created through this builder, keyed by
// full dotted path, in sorted order.
func (vb *VarBuilder) Parameters() []safetensors.Tensor {
	names := make([]string, 0, len(vb.rec.params))
	for name := range vb.rec.params {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]safetensors.Tensor, 0, len(names))
	for _, name := range names {
		t := vb.rec.params[name]
		out = append(out, safetensors.Tensor{Name: name, Shape: t.Shape(), Data: t.Data()})
	}

	return out
}
