package svs

import (
	"fmt"
	"math/rand"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

// PosteriorEncoder maps real acoustic features [B,aux,T] to a latent
// Gaussian and draws a reparameterized sample from it.
type PosteriorEncoder struct {
	pre   *conv1dLayer
	stack *gatedConvStack
	out   *conv1dLayer
}

func NewPosteriorEncoder(vb *VarBuilder, auxChannels, hidden, kernel, layers, stacks, baseDilation, globalCh int64) (*PosteriorEncoder, error) {
	pre, err := newConv1d(vb, "pre", auxChannels, hidden, 1, 1)
	if err != nil {
		return nil, err
	}

	stack, err := newGatedConvStack(vb, hidden, kernel, baseDilation, layers, stacks, globalCh)
	if err != nil {
		return nil, err
	}

	out, err := newConv1d(vb, "out", hidden, 2*hidden, 1, 1)
	if err != nil {
		return nil, err
	}

	return &PosteriorEncoder{pre: pre, stack: stack, out: out}, nil
}

// Forward returns the sampled latent z, the posterior mean and log-scale
// (all [B,H,T]) and the validity mask [B,1,T]. Padded positions are zero in
// all four outputs.
func (p *PosteriorEncoder) Forward(feats *tensor.Tensor, lengths []int64, g *tensor.Tensor, rng *rand.Rand) (z, m, logs, mask *tensor.Tensor, err error) {
	if feats == nil || feats.Rank() != 3 {
		return nil, nil, nil, nil, fmt.Errorf("svs: posterior expects [B,aux,T] features")
	}

	if rng == nil {
		return nil, nil, nil, nil, fmt.Errorf("svs: posterior requires an rng for sampling")
	}

	tLen := feats.Shape()[2]

	mask, err = sequenceMask(lengths, tLen)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	h, err := p.pre.Forward(feats)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	h, err = applyMask(h, mask)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	h, err = p.stack.Forward(h, mask, g)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	stats, err := p.out.Forward(h)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	stats, err = applyMask(stats, mask)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	m, logs, err = splitChannels(stats)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	eps, err := randnLike(m, rng)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	scaled, err := mulSameShape(eps, expTensor(logs))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	z, err = addSameShape(m, scaled)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	z, err = applyMask(z, mask)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return z, m, logs, mask, nil
}
