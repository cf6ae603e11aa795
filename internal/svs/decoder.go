package svs

import (
	"fmt"

	"github.com/example/go-singvits/internal/runtime/ops"
	"github.com/example/go-singvits/internal/runtime/tensor"
)

// Decoder upsamples latent frames [B,H,T] into a waveform [B,1,T*factor]
// through transposed-convolution stages, each followed by a bank of dilated
// residual blocks whose outputs are averaged.
type Decoder struct {
	pre      *conv1dLayer
	condProj *conv1dLayer
	stages   []*decoderStage
	post     *conv1dLayer

	upsampleFactor int64
}

type decoderStage struct {
	upWeight *tensor.Tensor // [inCh, outCh, kernel]
	upBias   *tensor.Tensor
	stride   int64
	padding  int64

	resblocks []*resBlock
}

type resBlock struct {
	convs1 []*conv1dLayer // dilated
	convs2 []*conv1dLayer // dilation 1
}

// DecoderConfig fixes the upsampling pyramid and residual bank geometry.
type DecoderConfig struct {
	InChannels       int64
	Channels         int64
	GlobalChannels   int64
	UpsampleScales   []int64
	UpsampleKernels  []int64
	ResblockKernels  []int64
	ResblockDilation [][]int64
}

func NewDecoder(vb *VarBuilder, cfg DecoderConfig) (*Decoder, error) {
	if len(cfg.UpsampleScales) == 0 || len(cfg.UpsampleScales) != len(cfg.UpsampleKernels) {
		return nil, fmt.Errorf("svs: decoder needs matching upsample scales and kernels, got %d and %d", len(cfg.UpsampleScales), len(cfg.UpsampleKernels))
	}

	if len(cfg.ResblockKernels) == 0 || len(cfg.ResblockKernels) != len(cfg.ResblockDilation) {
		return nil, fmt.Errorf("svs: decoder needs matching resblock kernels and dilations, got %d and %d", len(cfg.ResblockKernels), len(cfg.ResblockDilation))
	}

	d := &Decoder{upsampleFactor: 1}

	var err error

	if d.pre, err = newConv1d(vb, "pre", cfg.InChannels, cfg.Channels, 7, 1); err != nil {
		return nil, err
	}

	if cfg.GlobalChannels > 0 {
		if d.condProj, err = newConv1d(vb, "cond", cfg.GlobalChannels, cfg.Channels, 1, 1); err != nil {
			return nil, err
		}
	}

	inCh := cfg.Channels

	for i, scale := range cfg.UpsampleScales {
		kernel := cfg.UpsampleKernels[i]
		if (kernel-scale)%2 != 0 {
			return nil, fmt.Errorf("svs: decoder stage %d kernel %d and scale %d leave uneven padding", i, kernel, scale)
		}

		svb := vb.Path("stages", fmt.Sprintf("%d", i))

		outCh := inCh / 2
		if outCh == 0 {
			return nil, fmt.Errorf("svs: decoder channel budget %d too small for %d stages", cfg.Channels, len(cfg.UpsampleScales))
		}

		stage := &decoderStage{stride: scale, padding: (kernel - scale) / 2}

		if stage.upWeight, err = svb.Tensor("up.weight", inCh, outCh, kernel); err != nil {
			return nil, err
		}

		if stage.upBias, err = svb.Tensor("up.bias", outCh); err != nil {
			return nil, err
		}

		for j, rk := range cfg.ResblockKernels {
			rvb := svb.Path("resblocks", fmt.Sprintf("%d", j))

			rb := &resBlock{}
			for k, dil := range cfg.ResblockDilation[j] {
				c1, err := newConv1d(rvb, fmt.Sprintf("conv1.%d", k), outCh, outCh, rk, dil)
				if err != nil {
					return nil, err
				}

				c2, err := newConv1d(rvb, fmt.Sprintf("conv2.%d", k), outCh, outCh, rk, 1)
				if err != nil {
					return nil, err
				}

				rb.convs1 = append(rb.convs1, c1)
				rb.convs2 = append(rb.convs2, c2)
			}

			stage.resblocks = append(stage.resblocks, rb)
		}

		d.stages = append(d.stages, stage)
		d.upsampleFactor *= scale
		inCh = outCh
	}

	if d.post, err = newConv1d(vb, "post", inCh, 1, 7, 1); err != nil {
		return nil, err
	}

	return d, nil
}

// UpsampleFactor is the number of waveform samples produced per latent
// frame.
func (d *Decoder) UpsampleFactor() int64 {
	return d.upsampleFactor
}

func (d *Decoder) Forward(x, g *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := d.pre.Forward(x)
	if err != nil {
		return nil, err
	}

	if g != nil {
		if d.condProj == nil {
			return nil, fmt.Errorf("svs: decoder got conditioning but was built without it")
		}

		cond, err := d.condProj.Forward(g)
		if err != nil {
			return nil, err
		}

		if h, err = tensor.BroadcastAdd(h, cond); err != nil {
			return nil, err
		}
	}

	for i, stage := range d.stages {
		if h, err = stage.forward(h); err != nil {
			return nil, fmt.Errorf("svs: decoder stage %d: %w", i, err)
		}
	}

	out, err := d.post.Forward(leakyReLUTensor(h))
	if err != nil {
		return nil, err
	}

	return tanhTensor(out), nil
}

func (s *decoderStage) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := ops.ConvTranspose1D(leakyReLUTensor(x), s.upWeight, s.upBias, s.stride, s.padding, 0, 1, 1)
	if err != nil {
		return nil, err
	}

	var sum *tensor.Tensor

	for _, rb := range s.resblocks {
		out, err := rb.forward(h)
		if err != nil {
			return nil, err
		}

		if sum == nil {
			sum = out
			continue
		}

		if sum, err = addSameShape(sum, out); err != nil {
			return nil, err
		}
	}

	return scaleTensor(sum, 1/float32(len(s.resblocks))), nil
}

func (rb *resBlock) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	for i := range rb.convs1 {
		h, err := rb.convs1[i].Forward(leakyReLUTensor(x))
		if err != nil {
			return nil, err
		}

		if h, err = rb.convs2[i].Forward(leakyReLUTensor(h)); err != nil {
			return nil, err
		}

		if x, err = addSameShape(x, h); err != nil {
			return nil, err
		}
	}

	return x, nil
}
