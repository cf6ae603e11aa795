package svs

import (
	"fmt"
	"math"

	"github.com/example/go-singvits/internal/runtime/ops"
	"github.com/example/go-singvits/internal/runtime/tensor"
)

// Fusion strategies for combining the label, pitch and beat embedding
// streams into one hidden sequence.
const (
	FusionAdd    = "add"
	FusionConcat = "concat"
)

// ScoreEncoder turns per-frame musical score labels into a hidden sequence
// plus the prior Gaussian parameters.
type ScoreEncoder struct {
	hidden int64
	heads  int64

	labelEmb *embedding
	midiEmb  *embedding
	beatEmb  *embedding

	fuseProj *linear // concat fusion only

	blocks []*encoderBlock

	proj *conv1dLayer // hidden -> 2*hidden
}

type encoderBlock struct {
	attnNorm *layerNorm
	query    *linear
	key      *linear
	value    *linear
	out      *linear

	ffnNorm *layerNorm
	ffnUp   *linear
	ffnDown *linear
}

func NewScoreEncoder(vb *VarBuilder, vocabSize, midiSize, beatSize, hidden, heads, blocks, ffnDim int64, fusion string) (*ScoreEncoder, error) {
	if hidden%heads != 0 {
		return nil, fmt.Errorf("svs: encoder hidden %d not divisible by heads %d", hidden, heads)
	}

	e := &ScoreEncoder{hidden: hidden, heads: heads}

	var err error

	if e.labelEmb, err = newEmbedding(vb, "label_emb", vocabSize, hidden); err != nil {
		return nil, err
	}

	if e.midiEmb, err = newEmbedding(vb, "midi_emb", midiSize, hidden); err != nil {
		return nil, err
	}

	if e.beatEmb, err = newEmbedding(vb, "beat_emb", beatSize, hidden); err != nil {
		return nil, err
	}

	switch fusion {
	case FusionAdd:
	case FusionConcat:
		if e.fuseProj, err = newLinear(vb, "fuse_proj", 3*hidden, hidden); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("svs: unknown fusion strategy %q", fusion)
	}

	for i := range blocks {
		bvb := vb.Path("blocks", fmt.Sprintf("%d", i))

		blk := &encoderBlock{}
		if blk.attnNorm, err = newLayerNorm(bvb, "attn_norm", hidden); err != nil {
			return nil, err
		}

		if blk.query, err = newLinear(bvb, "query", hidden, hidden); err != nil {
			return nil, err
		}

		if blk.key, err = newLinear(bvb, "key", hidden, hidden); err != nil {
			return nil, err
		}

		if blk.value, err = newLinear(bvb, "value", hidden, hidden); err != nil {
			return nil, err
		}

		if blk.out, err = newLinear(bvb, "out", hidden, hidden); err != nil {
			return nil, err
		}

		if blk.ffnNorm, err = newLayerNorm(bvb, "ffn_norm", hidden); err != nil {
			return nil, err
		}

		if blk.ffnUp, err = newLinear(bvb, "ffn_up", hidden, ffnDim); err != nil {
			return nil, err
		}

		if blk.ffnDown, err = newLinear(bvb, "ffn_down", ffnDim, hidden); err != nil {
			return nil, err
		}

		e.blocks = append(e.blocks, blk)
	}

	if e.proj, err = newConv1d(vb, "proj", hidden, 2*hidden, 1, 1); err != nil {
		return nil, err
	}

	return e, nil
}

// Forward encodes padded label/midi/beat ID streams with their lengths.
// It returns the hidden sequence x [B,H,T] with the sinusoidal positional
// table added, the prior mean and log-scale [B,H,T], and the mask [B,1,T].
func (e *ScoreEncoder) Forward(labels, midis, beats [][]int64, lengths []int64) (x, m, logs, mask *tensor.Tensor, err error) {
	if len(labels) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("svs: encoder requires a non-empty batch")
	}

	if len(lengths) != len(labels) {
		return nil, nil, nil, nil, fmt.Errorf("svs: encoder got %d lengths for batch of %d", len(lengths), len(labels))
	}

	h, err := e.fuse(labels, midis, beats)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	h = scaleTensor(h, float32(math.Sqrt(float64(e.hidden))))

	tLen := h.Shape()[1]

	mask, err = sequenceMask(lengths, tLen)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	// [B,1,T] -> [B,1,1,T] for the attention scores.
	attnMask, err := mask.Reshape([]int64{mask.Shape()[0], 1, 1, tLen})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	for i, blk := range e.blocks {
		if h, err = blk.forward(h, attnMask, e.heads); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("svs: encoder block %d: %w", i, err)
		}
	}

	// Back to channel-major [B,H,T] for the projection.
	hc, err := h.Transpose(1, 2)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	hc, err = applyMask(hc, mask)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	stats, err := e.proj.Forward(hc)
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

	pe, err := positionalEncoding(e.hidden, tLen)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	x, err = tensor.BroadcastAdd(hc, pe)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	x, err = applyMask(x, mask)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return x, m, logs, mask, nil
}

func (e *ScoreEncoder) fuse(labels, midis, beats [][]int64) (*tensor.Tensor, error) {
	labelH, err := e.labelEmb.Forward(labels)
	if err != nil {
		return nil, fmt.Errorf("svs: label embedding: %w", err)
	}

	midiH, err := e.midiEmb.Forward(midis)
	if err != nil {
		return nil, fmt.Errorf("svs: midi embedding: %w", err)
	}

	beatH, err := e.beatEmb.Forward(beats)
	if err != nil {
		return nil, fmt.Errorf("svs: beat embedding: %w", err)
	}

	if e.fuseProj == nil {
		h, err := addSameShape(labelH, midiH)
		if err != nil {
			return nil, err
		}

		return addSameShape(h, beatH)
	}

	cat, err := tensor.Concat([]*tensor.Tensor{labelH, midiH, beatH}, 2)
	if err != nil {
		return nil, err
	}

	return e.fuseProj.Forward(cat)
}

func (b *encoderBlock) forward(x, attnMask *tensor.Tensor, heads int64) (*tensor.Tensor, error) {
	normed, err := b.attnNorm.Forward(x)
	if err != nil {
		return nil, err
	}

	attnOut, err := b.attend(normed, attnMask, heads)
	if err != nil {
		return nil, err
	}

	x, err = addSameShape(x, attnOut)
	if err != nil {
		return nil, err
	}

	normed, err = b.ffnNorm.Forward(x)
	if err != nil {
		return nil, err
	}

	ffnOut, err := ops.MLP(normed, b.ffnUp.weight, b.ffnUp.bias, b.ffnDown.weight, b.ffnDown.bias)
	if err != nil {
		return nil, err
	}

	return addSameShape(x, ffnOut)
}

func (b *encoderBlock) attend(x, attnMask *tensor.Tensor, heads int64) (*tensor.Tensor, error) {
	shape := x.Shape()
	batch, tLen, hidden := shape[0], shape[1], shape[2]
	headDim := hidden / heads

	project := func(l *linear) (*tensor.Tensor, error) {
		p, err := l.Forward(x)
		if err != nil {
			return nil, err
		}

		p, err = p.Reshape([]int64{batch, tLen, heads, headDim})
		if err != nil {
			return nil, err
		}

		return p.Transpose(1, 2)
	}

	q, err := project(b.query)
	if err != nil {
		return nil, err
	}

	k, err := project(b.key)
	if err != nil {
		return nil, err
	}

	v, err := project(b.value)
	if err != nil {
		return nil, err
	}

	ctx, err := ops.Attention(q, k, v, attnMask)
	if err != nil {
		return nil, err
	}

	ctx, err = ctx.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	ctx, err = ctx.Reshape([]int64{batch, tLen, hidden})
	if err != nil {
		return nil, err
	}

	return b.out.Forward(ctx)
}
