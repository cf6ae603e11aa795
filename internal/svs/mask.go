package svs

import (
	"fmt"
	"math"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

// sequenceMask builds a [B,1,maxLen] validity mask with ones for positions
// strictly below each sequence length.
func sequenceMask(lengths []int64, maxLen int64) (*tensor.Tensor, error) {
	if len(lengths) == 0 {
		return nil, fmt.Errorf("svs: sequenceMask requires at least one length")
	}

	if maxLen <= 0 {
		return nil, fmt.Errorf("svs: sequenceMask maxLen must be positive, got %d", maxLen)
	}

	b := int64(len(lengths))

	out, err := tensor.Zeros([]int64{b, 1, maxLen})
	if err != nil {
		return nil, err
	}

	d := out.RawData()
	for bi, l := range lengths {
		if l < 0 {
			return nil, fmt.Errorf("svs: sequenceMask length %d is negative", l)
		}

		n := min(l, maxLen)

		base := int64(bi) * maxLen
		for t := range n {
			d[base+t] = 1
		}
	}

	return out, nil
}

// positionalEncoding returns the [1,channels,length] sinusoid table with
// sines on even channels and cosines on odd channels.
func positionalEncoding(channels, length int64) (*tensor.Tensor, error) {
	if channels <= 0 || length <= 0 {
		return nil, fmt.Errorf("svs: positionalEncoding extents must be positive, got channels=%d length=%d", channels, length)
	}

	out, err := tensor.Zeros([]int64{1, channels, length})
	if err != nil {
		return nil, err
	}

	d := out.RawData()

	for c := int64(0); c < channels; c += 2 {
		freq := math.Exp(float64(c) * -(math.Log(10000.0) / float64(channels)))

		sinBase := c * length
		cosBase := (c + 1) * length

		for t := range length {
			angle := float64(t) * freq

			d[sinBase+t] = float32(math.Sin(angle))
			if c+1 < channels {
				d[cosBase+t] = float32(math.Cos(angle))
			}
		}
	}

	return out, nil
}

// outerMask combines a feature-side mask [B,1,TFeat] and a score-side mask
// [B,1,TText] into an attention mask [B,TFeat,TText].
func outerMask(yMask, xMask *tensor.Tensor) (*tensor.Tensor, error) {
	if yMask == nil || yMask.Rank() != 3 || xMask == nil || xMask.Rank() != 3 {
		return nil, fmt.Errorf("svs: outerMask expects rank-3 masks")
	}

	b := yMask.Shape()[0]
	if xMask.Shape()[0] != b {
		return nil, fmt.Errorf("svs: outerMask batch mismatch %d vs %d", b, xMask.Shape()[0])
	}

	tFeat := yMask.Shape()[2]
	tText := xMask.Shape()[2]

	out, err := tensor.Zeros([]int64{b, tFeat, tText})
	if err != nil {
		return nil, err
	}

	yd := yMask.RawData()
	xd := xMask.RawData()
	od := out.RawData()

	for bi := range b {
		for t := range tFeat {
			yv := yd[bi*tFeat+t]
			if yv == 0 {
				continue
			}

			base := (bi*tFeat + t) * tText
			for s := range tText {
				od[base+s] = yv * xd[bi*tText+s]
			}
		}
	}

	return out, nil
}
