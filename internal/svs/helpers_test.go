package svs

import (
	"math"
	"math/rand"
	"testing"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

func mustTensor(t *testing.T, data []float32, shape []int64) *tensor.Tensor {
	t.Helper()

	tt, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor.New(%v): %v", shape, err)
	}

	return tt
}

func randomTensor(t *testing.T, shape []int64, seed int64) *tensor.Tensor {
	t.Helper()

	out, err := tensor.Zeros(shape)
	if err != nil {
		t.Fatalf("zeros(%v): %v", shape, err)
	}

	rng := rand.New(rand.NewSource(seed))

	d := out.RawData()
	for i := range d {
		d[i] = float32(rng.NormFloat64())
	}

	return out
}

func approx(got, want []float32, tol float64) bool {
	if len(got) != len(want) {
		return false
	}

	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			return false
		}
	}

	return true
}

func wantShape(t *testing.T, x *tensor.Tensor, shape ...int64) {
	t.Helper()

	got := x.Shape()
	if len(got) != len(shape) {
		t.Fatalf("shape = %v, want %v", got, shape)
	}

	for i := range shape {
		if got[i] != shape[i] {
			t.Fatalf("shape = %v, want %v", got, shape)
		}
	}
}

// tinyConfig is small enough for fast tests while exercising every
// sub-network.
func tinyConfig() Config {
	cfg := DefaultConfig()

	cfg.VocabSize = 12
	cfg.MidiSize = 12
	cfg.BeatSize = 12
	cfg.AuxChannels = 6
	cfg.HiddenChannels = 8
	cfg.SegmentSize = 4
	cfg.SampleRate = 16000

	cfg.EncoderBlocks = 1
	cfg.EncoderHeads = 2
	cfg.EncoderFFNDim = 16

	cfg.PosteriorKernel = 5
	cfg.PosteriorLayers = 2

	cfg.FlowSteps = 2
	cfg.FlowKernel = 5
	cfg.FlowLayers = 2

	cfg.DurationFilter = 8
	cfg.DurationKernel = 3
	cfg.DurationFlows = 2

	cfg.DecoderChannels = 16
	cfg.UpsampleScales = []int64{2, 2}
	cfg.UpsampleKernels = []int64{4, 4}
	cfg.ResblockKernels = []int64{3}
	cfg.ResblockDilations = [][]int64{{1, 3}}

	return cfg
}

func newTestGenerator(t *testing.T, cfg Config) *Generator {
	t.Helper()

	gen, err := NewGenerator(cfg, NewInitSource(7))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	return gen
}
