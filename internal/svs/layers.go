package svs

import (
	"fmt"

	"github.com/example/go-singvits/internal/runtime/ops"
	"github.com/example/go-singvits/internal/runtime/tensor"
)

// conv1dLayer is a 1-D convolution over [B,C,T] with "same" padding for
// stride 1 and odd kernels.
type conv1dLayer struct {
	weight *tensor.Tensor // [outCh, inCh, kernel]
	bias   *tensor.Tensor // [outCh]

	padding  int64
	dilation int64
}

func newConv1d(vb *VarBuilder, name string, inCh, outCh, kernel, dilation int64) (*conv1dLayer, error) {
	if kernel%2 == 0 {
		return nil, fmt.Errorf("svs: conv layer %q requires an odd kernel, got %d", name, kernel)
	}

	weight, err := vb.Tensor(name+".weight", outCh, inCh, kernel)
	if err != nil {
		return nil, err
	}

	bias, err := vb.Tensor(name+".bias", outCh)
	if err != nil {
		return nil, err
	}

	return &conv1dLayer{
		weight:   weight,
		bias:     bias,
		padding:  (kernel - 1) * dilation / 2,
		dilation: dilation,
	}, nil
}

func (c *conv1dLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return ops.Conv1D(x, c.weight, c.bias, 1, c.padding, c.dilation, 1)
}

// linear is a dense layer over the last dim.
type linear struct {
	weight *tensor.Tensor // [out, in]
	bias   *tensor.Tensor // [out]
}

func newLinear(vb *VarBuilder, name string, in, out int64) (*linear, error) {
	weight, err := vb.Tensor(name+".weight", out, in)
	if err != nil {
		return nil, err
	}

	bias, err := vb.Tensor(name+".bias", out)
	if err != nil {
		return nil, err
	}

	return &linear{weight: weight, bias: bias}, nil
}

func (l *linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Linear(x, l.weight, l.bias)
}

// layerNorm normalizes the last dim.
type layerNorm struct {
	weight *tensor.Tensor
	bias   *tensor.Tensor
	eps    float32
}

func newLayerNorm(vb *VarBuilder, name string, dim int64) (*layerNorm, error) {
	weight, err := vb.Tensor(name+".weight", dim)
	if err != nil {
		return nil, err
	}

	bias, err := vb.Tensor(name+".bias", dim)
	if err != nil {
		return nil, err
	}

	return &layerNorm{weight: weight, bias: bias, eps: 1e-5}, nil
}

func (l *layerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.LayerNorm(x, l.weight, l.bias, l.eps)
}

// channelNorm applies layer normalization over the channel dim of [B,C,T].
type channelNorm struct {
	norm *layerNorm
}

func newChannelNorm(vb *VarBuilder, name string, channels int64) (*channelNorm, error) {
	norm, err := newLayerNorm(vb, name, channels)
	if err != nil {
		return nil, err
	}

	return &channelNorm{norm: norm}, nil
}

func (c *channelNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	xt, err := x.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	normed, err := c.norm.Forward(xt)
	if err != nil {
		return nil, err
	}

	return normed.Transpose(1, 2)
}

// embedding maps integer IDs to rows of a [vocab, dim] table.
type embedding struct {
	weight *tensor.Tensor
	vocab  int64
	dim    int64
}

func newEmbedding(vb *VarBuilder, name string, vocab, dim int64) (*embedding, error) {
	weight, err := vb.Tensor(name+".weight", vocab, dim)
	if err != nil {
		return nil, err
	}

	return &embedding{weight: weight, vocab: vocab, dim: dim}, nil
}

// Forward looks up a padded ID batch [B][T] and returns [B,T,dim].
func (e *embedding) Forward(ids [][]int64) (*tensor.Tensor, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("svs: embedding lookup on empty batch")
	}

	width := len(ids[0])

	rows := make([]*tensor.Tensor, 0, len(ids))
	for bi, row := range ids {
		if len(row) != width {
			return nil, fmt.Errorf("svs: embedding batch row %d has width %d, want %d", bi, len(row), width)
		}

		for _, id := range row {
			if id < 0 || id >= e.vocab {
				return nil, fmt.Errorf("svs: embedding id %d out of range [0,%d)", id, e.vocab)
			}
		}

		gathered, err := e.weight.Gather(0, row)
		if err != nil {
			return nil, err
		}

		reshaped, err := gathered.Reshape([]int64{1, int64(width), e.dim})
		if err != nil {
			return nil, err
		}

		rows = append(rows, reshaped)
	}

	return tensor.Concat(rows, 0)
}

// Lookup returns the single embedding row for id as [1,dim,1], ready to act
// as a global conditioning contributor.
func (e *embedding) Lookup(id int64) (*tensor.Tensor, error) {
	if id < 0 || id >= e.vocab {
		return nil, fmt.Errorf("svs: embedding id %d out of range [0,%d)", id, e.vocab)
	}

	row, err := e.weight.Gather(0, []int64{id})
	if err != nil {
		return nil, err
	}

	return row.Reshape([]int64{1, e.dim, 1})
}
