package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

// maskFloor is the additive penalty for masked attention positions. A large
// finite value keeps softmax well defined on fully padded query rows, where
// -Inf would produce a zero normalization sum.
const maskFloor = float32(-1e9)

// PadMask adds maskFloor to score positions where mask is 0.
// scores shape: [..., tq, tk]; mask must broadcast to it (e.g. [B,1,1,tk]).
func PadMask(scores, mask *tensor.Tensor) (*tensor.Tensor, error) {
	if scores == nil || mask == nil {
		return nil, errors.New("ops: pad mask requires non-nil scores/mask")
	}

	penalty := mask.Clone()

	d := penalty.RawData()
	for i, v := range d {
		if v == 0 {
			d[i] = maskFloor
		} else {
			d[i] = 0
		}
	}

	out, err := tensor.BroadcastAdd(scores, penalty)
	if err != nil {
		return nil, fmt.Errorf("ops: pad mask: %w", err)
	}

	return out, nil
}

// Attention computes scaled dot-product attention with an optional validity
// mask. Padding positions (mask == 0 on the key axis) are never attended.
// q shape: [..., tq, d], k shape: [..., tk, d], v shape: [..., tk, dv]
// mask: nil or a 0/1 tensor broadcastable to [..., tq, tk]
// output: [..., tq, dv]
func Attention(q, k, v, mask *tensor.Tensor) (*tensor.Tensor, error) {
	if q == nil || k == nil || v == nil {
		return nil, errors.New("ops: attention requires non-nil q/k/v")
	}

	qShape := q.Shape()
	kShape := k.Shape()

	vShape := v.Shape()
	if len(qShape) < 2 || len(kShape) < 2 || len(vShape) < 2 {
		return nil, errors.New("ops: attention requires rank >= 2 inputs")
	}

	d := qShape[len(qShape)-1]
	if d != kShape[len(kShape)-1] {
		return nil, fmt.Errorf("ops: attention q/k depth mismatch %d vs %d", d, kShape[len(kShape)-1])
	}

	if kShape[len(kShape)-2] != vShape[len(vShape)-2] {
		return nil, fmt.Errorf("ops: attention key/value sequence mismatch %d vs %d", kShape[len(kShape)-2], vShape[len(vShape)-2])
	}

	kT, err := k.Transpose(-1, -2)
	if err != nil {
		return nil, fmt.Errorf("ops: attention transpose k: %w", err)
	}

	scores, err := tensor.MatMul(q, kT)
	if err != nil {
		return nil, fmt.Errorf("ops: attention q*k^T: %w", err)
	}

	scale := float32(1.0 / math.Sqrt(float64(d)))
	for i := range scores.RawData() {
		scores.RawData()[i] *= scale
	}

	if mask != nil {
		scores, err = PadMask(scores, mask)
		if err != nil {
			return nil, err
		}
	}

	probs, err := tensor.Softmax(scores, -1)
	if err != nil {
		return nil, fmt.Errorf("ops: attention softmax: %w", err)
	}

	out, err := tensor.MatMul(probs, v)
	if err != nil {
		return nil, fmt.Errorf("ops: attention probs*v: %w", err)
	}

	return out, nil
}
