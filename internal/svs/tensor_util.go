package svs

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

func addSameShape(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("svs: add requires non-nil tensors")
	}

	if !equalShape(a.Shape(), b.Shape()) {
		return nil, fmt.Errorf("svs: add shape mismatch %v vs %v", a.Shape(), b.Shape())
	}

	out := a.Clone()
	od := out.RawData()

	bd := b.RawData()
	for i := range od {
		od[i] += bd[i]
	}

	return out, nil
}

func mulSameShape(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("svs: mul requires non-nil tensors")
	}

	if !equalShape(a.Shape(), b.Shape()) {
		return nil, fmt.Errorf("svs: mul shape mismatch %v vs %v", a.Shape(), b.Shape())
	}

	out := a.Clone()
	od := out.RawData()

	bd := b.RawData()
	for i := range od {
		od[i] *= bd[i]
	}

	return out, nil
}

func scaleTensor(x *tensor.Tensor, s float32) *tensor.Tensor {
	out := x.Clone()

	d := out.RawData()
	for i := range d {
		d[i] *= s
	}

	return out
}

func expTensor(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()

	d := out.RawData()
	for i, v := range d {
		d[i] = float32(math.Exp(float64(v)))
	}

	return out
}

func tanhTensor(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()

	d := out.RawData()
	for i, v := range d {
		d[i] = float32(math.Tanh(float64(v)))
	}

	return out
}

func sigmoidTensor(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()

	d := out.RawData()
	for i, v := range d {
		d[i] = float32(1.0 / (1.0 + math.Exp(float64(-v))))
	}

	return out
}

func reluTensor(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()

	d := out.RawData()
	for i, v := range d {
		if v < 0 {
			d[i] = 0
		}
	}

	return out
}

const leakySlope = float32(0.1)

func leakyReLUTensor(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()

	d := out.RawData()
	for i, v := range d {
		if v < 0 {
			d[i] = v * leakySlope
		}
	}

	return out
}

// applyMask multiplies x [B,C,T] by a validity mask [B,1,T].
func applyMask(x, mask *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.BroadcastMul(x, mask)
	if err != nil {
		return nil, fmt.Errorf("svs: apply mask: %w", err)
	}

	return out, nil
}

// randnLike draws a standard-normal tensor of the same shape as x.
func randnLike(x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("svs: randnLike requires non-nil tensor")
	}

	if rng == nil {
		return nil, errors.New("svs: randnLike requires non-nil rng")
	}

	out, err := tensor.Zeros(x.Shape())
	if err != nil {
		return nil, err
	}

	d := out.RawData()
	for i := range d {
		d[i] = float32(rng.NormFloat64())
	}

	return out, nil
}

// sumChannels reduces [B,C,T] over the channel dim to [B,1,T].
func sumChannels(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || x.Rank() != 3 {
		return nil, fmt.Errorf("svs: sumChannels expects [B,C,T], got %v", x.Shape())
	}

	shape := x.Shape()
	b, c, t := shape[0], shape[1], shape[2]

	out, err := tensor.Zeros([]int64{b, 1, t})
	if err != nil {
		return nil, err
	}

	xd := x.RawData()
	od := out.RawData()

	for bi := range b {
		for ci := range c {
			base := (bi*c + ci) * t
			outBase := bi * t

			for ti := range t {
				od[outBase+ti] += xd[base+ti]
			}
		}
	}

	return out, nil
}

// maskedSum returns the per-example sum of x*mask over channels and time.
// x: [B,C,T], mask: [B,1,T] -> [B]
func maskedSum(x, mask *tensor.Tensor) ([]float32, error) {
	masked, err := applyMask(x, mask)
	if err != nil {
		return nil, err
	}

	shape := masked.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("svs: maskedSum expects rank-3, got %v", shape)
	}

	b := shape[0]
	per := shape[1] * shape[2]
	d := masked.RawData()

	out := make([]float32, b)
	for bi := range b {
		var sum float32
		for _, v := range d[bi*per : (bi+1)*per] {
			sum += v
		}

		out[bi] = sum
	}

	return out, nil
}

// splitChannels splits [B,C,T] into two halves along the channel dim.
func splitChannels(x *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if x == nil || x.Rank() != 3 {
		return nil, nil, fmt.Errorf("svs: splitChannels expects [B,C,T], got %v", x.Shape())
	}

	c := x.Shape()[1]
	if c%2 != 0 {
		return nil, nil, fmt.Errorf("svs: splitChannels channel dim %d is odd", c)
	}

	half := c / 2

	a, err := x.Narrow(1, 0, half)
	if err != nil {
		return nil, nil, err
	}

	b, err := x.Narrow(1, half, half)
	if err != nil {
		return nil, nil, err
	}

	return a, b, nil
}

// flipChannels reverses the channel order of [B,C,T].
func flipChannels(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || x.Rank() != 3 {
		return nil, fmt.Errorf("svs: flipChannels expects [B,C,T], got %v", x.Shape())
	}

	shape := x.Shape()
	b, c, t := shape[0], shape[1], shape[2]

	out, err := tensor.Zeros(shape)
	if err != nil {
		return nil, err
	}

	xd := x.RawData()
	od := out.RawData()

	for bi := range b {
		for ci := range c {
			src := (bi*c + ci) * t
			dst := (bi*c + (c - 1 - ci)) * t
			copy(od[dst:dst+t], xd[src:src+t])
		}
	}

	return out, nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
