package svs

import (
	"fmt"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

// ResidualCouplingBlock is an invertible channel-split coupling flow. Each
// step transforms half the channels conditioned on the other half, then the
// channel order is flipped so alternating steps cover both halves.
type ResidualCouplingBlock struct {
	layers []*residualCouplingLayer
}

type residualCouplingLayer struct {
	pre   *conv1dLayer
	stack *gatedConvStack
	post  *conv1dLayer

	half     int64
	meanOnly bool
}

func NewResidualCouplingBlock(vb *VarBuilder, channels, hidden, kernel, stackLayers, flows, globalCh int64, meanOnly bool) (*ResidualCouplingBlock, error) {
	if channels%2 != 0 {
		return nil, fmt.Errorf("svs: coupling flow requires an even channel count, got %d", channels)
	}

	b := &ResidualCouplingBlock{}

	for i := range flows {
		lvb := vb.Path("flows", fmt.Sprintf("%d", i))
		half := channels / 2

		pre, err := newConv1d(lvb, "pre", half, hidden, 1, 1)
		if err != nil {
			return nil, err
		}

		stack, err := newGatedConvStack(lvb, hidden, kernel, 1, stackLayers, 1, globalCh)
		if err != nil {
			return nil, err
		}

		outCh := half
		if !meanOnly {
			outCh = 2 * half
		}

		post, err := newConv1d(lvb, "post", hidden, outCh, 1, 1)
		if err != nil {
			return nil, err
		}

		b.layers = append(b.layers, &residualCouplingLayer{
			pre:      pre,
			stack:    stack,
			post:     post,
			half:     half,
			meanOnly: meanOnly,
		})
	}

	return b, nil
}

// Forward maps the posterior latent toward the prior space.
func (b *ResidualCouplingBlock) Forward(x, mask, g *tensor.Tensor) (*tensor.Tensor, error) {
	var err error

	for i, layer := range b.layers {
		if x, err = layer.forward(x, mask, g); err != nil {
			return nil, fmt.Errorf("svs: flow step %d: %w", i, err)
		}

		if x, err = flipChannels(x); err != nil {
			return nil, err
		}
	}

	return x, nil
}

// Inverse undoes Forward exactly (up to float rounding).
func (b *ResidualCouplingBlock) Inverse(x, mask, g *tensor.Tensor) (*tensor.Tensor, error) {
	var err error

	for i := len(b.layers) - 1; i >= 0; i-- {
		if x, err = flipChannels(x); err != nil {
			return nil, err
		}

		if x, err = b.layers[i].inverse(x, mask, g); err != nil {
			return nil, fmt.Errorf("svs: inverse flow step %d: %w", i, err)
		}
	}

	return x, nil
}

func (l *residualCouplingLayer) stats(x0, mask, g *tensor.Tensor) (m, logs *tensor.Tensor, err error) {
	h, err := l.pre.Forward(x0)
	if err != nil {
		return nil, nil, err
	}

	h, err = applyMask(h, mask)
	if err != nil {
		return nil, nil, err
	}

	h, err = l.stack.Forward(h, mask, g)
	if err != nil {
		return nil, nil, err
	}

	out, err := l.post.Forward(h)
	if err != nil {
		return nil, nil, err
	}

	out, err = applyMask(out, mask)
	if err != nil {
		return nil, nil, err
	}

	if l.meanOnly {
		logs, err = tensor.Zeros(out.Shape())
		if err != nil {
			return nil, nil, err
		}

		return out, logs, nil
	}

	return splitChannels(out)
}

func (l *residualCouplingLayer) forward(x, mask, g *tensor.Tensor) (*tensor.Tensor, error) {
	x0, x1, err := splitChannels(x)
	if err != nil {
		return nil, err
	}

	m, logs, err := l.stats(x0, mask, g)
	if err != nil {
		return nil, err
	}

	scaled, err := mulSameShape(x1, expTensor(logs))
	if err != nil {
		return nil, err
	}

	x1, err = addSameShape(m, scaled)
	if err != nil {
		return nil, err
	}

	x1, err = applyMask(x1, mask)
	if err != nil {
		return nil, err
	}

	return tensor.Concat([]*tensor.Tensor{x0, x1}, 1)
}

func (l *residualCouplingLayer) inverse(x, mask, g *tensor.Tensor) (*tensor.Tensor, error) {
	x0, x1, err := splitChannels(x)
	if err != nil {
		return nil, err
	}

	m, logs, err := l.stats(x0, mask, g)
	if err != nil {
		return nil, err
	}

	centered, err := addSameShape(x1, scaleTensor(m, -1))
	if err != nil {
		return nil, err
	}

	x1, err = mulSameShape(centered, expTensor(scaleTensor(logs, -1)))
	if err != nil {
		return nil, err
	}

	x1, err = applyMask(x1, mask)
	if err != nil {
		return nil, err
	}

	return tensor.Concat([]*tensor.Tensor{x0, x1}, 1)
}
