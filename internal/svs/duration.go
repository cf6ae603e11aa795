package svs

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

const logDurationFloor = float32(1e-8)

// DurationModel scores and samples per-position log-durations over the
// encoder's hidden sequence x [B,H,T] with mask [B,1,T].
type DurationModel interface {
	// NLL returns a per-example negative log-likelihood of the given
	// durations w [B,1,T], normalized by the valid position count.
	NLL(x, xMask, w, g *tensor.Tensor, rng *rand.Rand) ([]float32, error)

	// Sample draws log-durations [B,1,T] for the valid positions.
	Sample(x, xMask, g *tensor.Tensor, noiseScale float32, rng *rand.Rand) (*tensor.Tensor, error)
}

// RegressionDurationPredictor is a deterministic conv stack predicting
// log-durations directly. Its NLL is a masked squared error against the
// log of the reference durations.
type RegressionDurationPredictor struct {
	condProj *conv1dLayer
	conv1    *conv1dLayer
	norm1    *channelNorm
	conv2    *conv1dLayer
	norm2    *channelNorm
	proj     *conv1dLayer
}

func NewRegressionDurationPredictor(vb *VarBuilder, hidden, filter, kernel, globalCh int64) (*RegressionDurationPredictor, error) {
	p := &RegressionDurationPredictor{}

	var err error

	if globalCh > 0 {
		if p.condProj, err = newConv1d(vb, "cond", globalCh, hidden, 1, 1); err != nil {
			return nil, err
		}
	}

	if p.conv1, err = newConv1d(vb, "conv1", hidden, filter, kernel, 1); err != nil {
		return nil, err
	}

	if p.norm1, err = newChannelNorm(vb, "norm1", filter); err != nil {
		return nil, err
	}

	if p.conv2, err = newConv1d(vb, "conv2", filter, filter, kernel, 1); err != nil {
		return nil, err
	}

	if p.norm2, err = newChannelNorm(vb, "norm2", filter); err != nil {
		return nil, err
	}

	if p.proj, err = newConv1d(vb, "proj", filter, 1, 1, 1); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *RegressionDurationPredictor) predict(x, xMask, g *tensor.Tensor) (*tensor.Tensor, error) {
	var err error

	if g != nil {
		if p.condProj == nil {
			return nil, fmt.Errorf("svs: duration predictor got conditioning but was built without it")
		}

		cond, err := p.condProj.Forward(g)
		if err != nil {
			return nil, err
		}

		if x, err = tensor.BroadcastAdd(x, cond); err != nil {
			return nil, err
		}
	}

	step := func(conv *conv1dLayer, norm *channelNorm, h *tensor.Tensor) (*tensor.Tensor, error) {
		h, err := applyMask(h, xMask)
		if err != nil {
			return nil, err
		}

		if h, err = conv.Forward(h); err != nil {
			return nil, err
		}

		return norm.Forward(reluTensor(h))
	}

	h := x
	if h, err = step(p.conv1, p.norm1, h); err != nil {
		return nil, err
	}

	if h, err = step(p.conv2, p.norm2, h); err != nil {
		return nil, err
	}

	if h, err = applyMask(h, xMask); err != nil {
		return nil, err
	}

	logw, err := p.proj.Forward(h)
	if err != nil {
		return nil, err
	}

	return applyMask(logw, xMask)
}

func (p *RegressionDurationPredictor) NLL(x, xMask, w, g *tensor.Tensor, _ *rand.Rand) ([]float32, error) {
	logw, err := p.predict(x, xMask, g)
	if err != nil {
		return nil, err
	}

	target := w.Clone()

	td := target.RawData()
	for i, v := range td {
		td[i] = float32(math.Log(float64(v + logDurationFloor)))
	}

	diff, err := addSameShape(logw, scaleTensor(target, -1))
	if err != nil {
		return nil, err
	}

	sq, err := mulSameShape(diff, diff)
	if err != nil {
		return nil, err
	}

	sums, err := maskedSum(sq, xMask)
	if err != nil {
		return nil, err
	}

	counts, err := maskedSum(xMask, xMask)
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(sums))
	for i := range sums {
		if counts[i] > 0 {
			out[i] = sums[i] / counts[i]
		}
	}

	return out, nil
}

func (p *RegressionDurationPredictor) Sample(x, xMask, g *tensor.Tensor, _ float32, _ *rand.Rand) (*tensor.Tensor, error) {
	return p.predict(x, xMask, g)
}

// StochasticDurationPredictor models log-durations with a small conditional
// coupling flow over a two-channel state, so sampling produces varied but
// plausible durations.
type StochasticDurationPredictor struct {
	pre      *conv1dLayer
	condProj *conv1dLayer
	stack    *gatedConvStack

	steps []*durationFlowStep
}

type durationFlowStep struct {
	in  *conv1dLayer // [1+filter] -> filter
	out *conv1dLayer // filter -> 2

	channel int64 // which state channel this step transforms
}

func NewStochasticDurationPredictor(vb *VarBuilder, hidden, filter, kernel, flows, globalCh int64) (*StochasticDurationPredictor, error) {
	p := &StochasticDurationPredictor{}

	var err error

	if p.pre, err = newConv1d(vb, "pre", hidden, filter, 1, 1); err != nil {
		return nil, err
	}

	if globalCh > 0 {
		if p.condProj, err = newConv1d(vb, "cond", globalCh, filter, 1, 1); err != nil {
			return nil, err
		}
	}

	if p.stack, err = newGatedConvStack(vb, filter, kernel, 1, 3, 1, 0); err != nil {
		return nil, err
	}

	for i := range flows {
		svb := vb.Path("steps", fmt.Sprintf("%d", i))

		in, err := newConv1d(svb, "in", 1+filter, filter, 1, 1)
		if err != nil {
			return nil, err
		}

		out, err := newConv1d(svb, "out", filter, 2, 1, 1)
		if err != nil {
			return nil, err
		}

		p.steps = append(p.steps, &durationFlowStep{in: in, out: out, channel: i % 2})
	}

	return p, nil
}

func (p *StochasticDurationPredictor) context(x, xMask, g *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := p.pre.Forward(x)
	if err != nil {
		return nil, err
	}

	if g != nil {
		if p.condProj == nil {
			return nil, fmt.Errorf("svs: duration predictor got conditioning but was built without it")
		}

		cond, err := p.condProj.Forward(g)
		if err != nil {
			return nil, err
		}

		if h, err = tensor.BroadcastAdd(h, cond); err != nil {
			return nil, err
		}
	}

	if h, err = applyMask(h, xMask); err != nil {
		return nil, err
	}

	return p.stack.Forward(h, xMask, nil)
}

// stepStats computes the affine parameters for one flow step from the
// untouched state channel and the context.
func (s *durationFlowStep) stepStats(u, ctx, xMask *tensor.Tensor) (m, logs *tensor.Tensor, err error) {
	other, err := u.Narrow(1, 1-s.channel, 1)
	if err != nil {
		return nil, nil, err
	}

	h, err := tensor.Concat([]*tensor.Tensor{other, ctx}, 1)
	if err != nil {
		return nil, nil, err
	}

	if h, err = s.in.Forward(h); err != nil {
		return nil, nil, err
	}

	stats, err := s.out.Forward(tanhTensor(h))
	if err != nil {
		return nil, nil, err
	}

	if stats, err = applyMask(stats, xMask); err != nil {
		return nil, nil, err
	}

	return splitChannels(stats)
}

func replaceChannel(u, v *tensor.Tensor, channel int64) (*tensor.Tensor, error) {
	other, err := u.Narrow(1, 1-channel, 1)
	if err != nil {
		return nil, err
	}

	if channel == 0 {
		return tensor.Concat([]*tensor.Tensor{v, other}, 1)
	}

	return tensor.Concat([]*tensor.Tensor{other, v}, 1)
}

func (p *StochasticDurationPredictor) NLL(x, xMask, w, g *tensor.Tensor, rng *rand.Rand) ([]float32, error) {
	if rng == nil {
		return nil, fmt.Errorf("svs: stochastic duration NLL requires an rng")
	}

	ctx, err := p.context(x, xMask, g)
	if err != nil {
		return nil, err
	}

	logw := w.Clone()

	ld := logw.RawData()
	for i, v := range ld {
		ld[i] = float32(math.Log(float64(v + logDurationFloor)))
	}

	if logw, err = applyMask(logw, xMask); err != nil {
		return nil, err
	}

	noise, err := randnLike(logw, rng)
	if err != nil {
		return nil, err
	}

	if noise, err = applyMask(noise, xMask); err != nil {
		return nil, err
	}

	u, err := tensor.Concat([]*tensor.Tensor{logw, noise}, 1)
	if err != nil {
		return nil, err
	}

	batch := u.Shape()[0]
	logdet := make([]float32, batch)

	for _, step := range p.steps {
		m, logs, err := step.stepStats(u, ctx, xMask)
		if err != nil {
			return nil, err
		}

		uk, err := u.Narrow(1, step.channel, 1)
		if err != nil {
			return nil, err
		}

		scaled, err := mulSameShape(uk, expTensor(logs))
		if err != nil {
			return nil, err
		}

		if uk, err = addSameShape(scaled, m); err != nil {
			return nil, err
		}

		if uk, err = applyMask(uk, xMask); err != nil {
			return nil, err
		}

		if u, err = replaceChannel(u, uk, step.channel); err != nil {
			return nil, err
		}

		stepDet, err := maskedSum(logs, xMask)
		if err != nil {
			return nil, err
		}

		for bi := range logdet {
			logdet[bi] += stepDet[bi]
		}
	}

	sq, err := mulSameShape(u, u)
	if err != nil {
		return nil, err
	}

	energy, err := maskedSum(sq, xMask)
	if err != nil {
		return nil, err
	}

	counts, err := maskedSum(xMask, xMask)
	if err != nil {
		return nil, err
	}

	const logTwoPi = 1.8378770664093453

	out := make([]float32, batch)
	for bi := range out {
		if counts[bi] == 0 {
			continue
		}

		nll := 0.5*energy[bi] + float32(logTwoPi)*counts[bi] - logdet[bi]
		out[bi] = nll / (2 * counts[bi])
	}

	return out, nil
}

func (p *StochasticDurationPredictor) Sample(x, xMask, g *tensor.Tensor, noiseScale float32, rng *rand.Rand) (*tensor.Tensor, error) {
	if rng == nil {
		return nil, fmt.Errorf("svs: stochastic duration sampling requires an rng")
	}

	ctx, err := p.context(x, xMask, g)
	if err != nil {
		return nil, err
	}

	shape := x.Shape()

	base, err := tensor.Zeros([]int64{shape[0], 2, shape[2]})
	if err != nil {
		return nil, err
	}

	u, err := randnLike(base, rng)
	if err != nil {
		return nil, err
	}

	u = scaleTensor(u, noiseScale)

	if u, err = applyMask(u, xMask); err != nil {
		return nil, err
	}

	for i := len(p.steps) - 1; i >= 0; i-- {
		step := p.steps[i]

		m, logs, err := step.stepStats(u, ctx, xMask)
		if err != nil {
			return nil, err
		}

		uk, err := u.Narrow(1, step.channel, 1)
		if err != nil {
			return nil, err
		}

		centered, err := addSameShape(uk, scaleTensor(m, -1))
		if err != nil {
			return nil, err
		}

		if uk, err = mulSameShape(centered, expTensor(scaleTensor(logs, -1))); err != nil {
			return nil, err
		}

		if uk, err = applyMask(uk, xMask); err != nil {
			return nil, err
		}

		if u, err = replaceChannel(u, uk, step.channel); err != nil {
			return nil, err
		}
	}

	logw, err := u.Narrow(1, 0, 1)
	if err != nil {
		return nil, err
	}

	return applyMask(logw, xMask)
}
