package svs

import (
	"fmt"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

// gatedConvStack is a stack of dilated convolutions with tanh/sigmoid gating
// and residual connections over [B,channels,T]. An optional global
// conditioning vector [B,globalCh,1] is projected into every layer's gate.
type gatedConvStack struct {
	convs     []*conv1dLayer
	condProjs []*conv1dLayer
	resProjs  []*conv1dLayer
}

func newGatedConvStack(vb *VarBuilder, channels, kernel, baseDilation, layers, stacks, globalCh int64) (*gatedConvStack, error) {
	if layers <= 0 || stacks <= 0 || layers%stacks != 0 {
		return nil, fmt.Errorf("svs: gated stack needs layers divisible by stacks, got %d/%d", layers, stacks)
	}

	perStack := layers / stacks

	s := &gatedConvStack{}
	for i := range layers {
		dilation := int64(1)
		for range i % perStack {
			dilation *= baseDilation
		}

		conv, err := newConv1d(vb.Path("layers", fmt.Sprintf("%d", i)), "in_conv", channels, 2*channels, kernel, dilation)
		if err != nil {
			return nil, err
		}

		s.convs = append(s.convs, conv)

		if globalCh > 0 {
			cond, err := newConv1d(vb.Path("layers", fmt.Sprintf("%d", i)), "cond_conv", globalCh, 2*channels, 1, 1)
			if err != nil {
				return nil, err
			}

			s.condProjs = append(s.condProjs, cond)
		}

		res, err := newConv1d(vb.Path("layers", fmt.Sprintf("%d", i)), "res_conv", channels, channels, 1, 1)
		if err != nil {
			return nil, err
		}

		s.resProjs = append(s.resProjs, res)
	}

	return s, nil
}

// Forward runs the stack. mask is [B,1,T]; g may be nil when the stack was
// built without global conditioning.
func (s *gatedConvStack) Forward(x, mask, g *tensor.Tensor) (*tensor.Tensor, error) {
	if g != nil && len(s.condProjs) == 0 {
		return nil, fmt.Errorf("svs: gated stack got conditioning but was built without it")
	}

	for i, conv := range s.convs {
		h, err := conv.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("svs: gated stack layer %d: %w", i, err)
		}

		if g != nil {
			cond, err := s.condProjs[i].Forward(g)
			if err != nil {
				return nil, fmt.Errorf("svs: gated stack layer %d conditioning: %w", i, err)
			}

			h, err = tensor.BroadcastAdd(h, cond)
			if err != nil {
				return nil, err
			}
		}

		gateIn, gateSig, err := splitChannels(h)
		if err != nil {
			return nil, err
		}

		acts, err := mulSameShape(tanhTensor(gateIn), sigmoidTensor(gateSig))
		if err != nil {
			return nil, err
		}

		res, err := s.resProjs[i].Forward(acts)
		if err != nil {
			return nil, err
		}

		x, err = addSameShape(x, res)
		if err != nil {
			return nil, err
		}

		x, err = applyMask(x, mask)
		if err != nil {
			return nil, err
		}
	}

	return x, nil
}
