package svs

import (
	"math"
	"math/rand"
	"testing"
)

func TestRegressionDurationPredictorSample(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(2))

	p, err := NewRegressionDurationPredictor(vb.Path("dur"), 8, 8, 3, 0)
	if err != nil {
		t.Fatalf("build predictor: %v", err)
	}

	mask, err := sequenceMask([]int64{3}, 5)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{1, 8, 5}, 13)

	logw, err := p.Sample(x, mask, nil, 0, nil)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	wantShape(t, logw, 1, 1, 5)

	for tt := int64(3); tt < 5; tt++ {
		v, err := logw.At(0, 0, tt)
		if err != nil {
			t.Fatalf("At: %v", err)
		}

		if v != 0 {
			t.Fatalf("padded position %d = %v, want 0", tt, v)
		}
	}
}

func TestRegressionDurationPredictorNLL(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(2))

	p, err := NewRegressionDurationPredictor(vb.Path("dur"), 8, 8, 3, 0)
	if err != nil {
		t.Fatalf("build predictor: %v", err)
	}

	mask, err := sequenceMask([]int64{5, 3}, 5)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{2, 8, 5}, 19)
	w := mustTensor(t, []float32{1, 2, 3, 2, 1, 2, 2, 2, 0, 0}, []int64{2, 1, 5})

	nll, err := p.NLL(x, mask, w, nil, nil)
	if err != nil {
		t.Fatalf("nll: %v", err)
	}

	if len(nll) != 2 {
		t.Fatalf("nll length = %d, want 2", len(nll))
	}

	for bi, v := range nll {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("nll[%d] = %v, want finite", bi, v)
		}

		if v < 0 {
			t.Fatalf("nll[%d] = %v, squared error cannot be negative", bi, v)
		}
	}
}

func TestStochasticDurationPredictorSampleDeterministic(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(6))

	p, err := NewStochasticDurationPredictor(vb.Path("dur"), 8, 8, 3, 2, 0)
	if err != nil {
		t.Fatalf("build predictor: %v", err)
	}

	mask, err := sequenceMask([]int64{4}, 4)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{1, 8, 4}, 29)

	first, err := p.Sample(x, mask, nil, 0.8, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	second, err := p.Sample(x, mask, nil, 0.8, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	wantShape(t, first, 1, 1, 4)

	if !approx(first.Data(), second.Data(), 0) {
		t.Fatal("same seed should produce identical samples")
	}
}

func TestStochasticDurationPredictorNLL(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(6))

	p, err := NewStochasticDurationPredictor(vb.Path("dur"), 8, 8, 3, 2, 0)
	if err != nil {
		t.Fatalf("build predictor: %v", err)
	}

	mask, err := sequenceMask([]int64{4, 2}, 4)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{2, 8, 4}, 37)
	w := mustTensor(t, []float32{1, 3, 2, 1, 2, 2, 0, 0}, []int64{2, 1, 4})

	nll, err := p.NLL(x, mask, w, nil, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("nll: %v", err)
	}

	if len(nll) != 2 {
		t.Fatalf("nll length = %d, want 2", len(nll))
	}

	for bi, v := range nll {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("nll[%d] = %v, want finite", bi, v)
		}
	}
}

func TestDurationFlowStepRoundtrip(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(6))

	p, err := NewStochasticDurationPredictor(vb.Path("dur"), 8, 8, 3, 2, 0)
	if err != nil {
		t.Fatalf("build predictor: %v", err)
	}

	mask, err := sequenceMask([]int64{5}, 5)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{1, 8, 5}, 43)

	ctx, err := p.context(x, mask, nil)
	if err != nil {
		t.Fatalf("context: %v", err)
	}

	u := randomTensor(t, []int64{1, 2, 5}, 47)

	u, err = applyMask(u, mask)
	if err != nil {
		t.Fatalf("mask state: %v", err)
	}

	step := p.steps[0]

	m, logs, err := step.stepStats(u, ctx, mask)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	uk, err := u.Narrow(1, step.channel, 1)
	if err != nil {
		t.Fatalf("narrow: %v", err)
	}

	scaled, err := mulSameShape(uk, expTensor(logs))
	if err != nil {
		t.Fatalf("scale: %v", err)
	}

	fwd, err := addSameShape(scaled, m)
	if err != nil {
		t.Fatalf("shift: %v", err)
	}

	// The untouched channel pins the stats, so inverting with the same
	// parameters must recover the original channel.
	centered, err := addSameShape(fwd, scaleTensor(m, -1))
	if err != nil {
		t.Fatalf("center: %v", err)
	}

	back, err := mulSameShape(centered, expTensor(scaleTensor(logs, -1)))
	if err != nil {
		t.Fatalf("unscale: %v", err)
	}

	if !approx(back.Data(), uk.Data(), 1e-5) {
		t.Fatal("inverse step did not recover the transformed channel")
	}
}

func TestStochasticDurationPredictorNLLRequiresRNG(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(6))

	p, err := NewStochasticDurationPredictor(vb.Path("dur"), 8, 8, 3, 2, 0)
	if err != nil {
		t.Fatalf("build predictor: %v", err)
	}

	mask, err := sequenceMask([]int64{2}, 2)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{1, 8, 2}, 41)
	w := mustTensor(t, []float32{1, 1}, []int64{1, 1, 2})

	if _, err := p.NLL(x, mask, w, nil, nil); err == nil {
		t.Fatal("expected error without rng")
	}
}
