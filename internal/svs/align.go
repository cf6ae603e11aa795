package svs

import (
	"fmt"
	"math"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

// gaussianLogLikelihood scores every (feature frame, score position) pair
// under the prior Gaussian: out[b,t,s] is the log-density of zP[b,:,t] under
// N(mP[b,:,s], exp(logsP[b,:,s])). The quadratic form is decomposed into
// batched matmuls so no [B,TFeat,TText,H] intermediate is materialized.
func gaussianLogLikelihood(zP, mP, logsP *tensor.Tensor) (*tensor.Tensor, error) {
	if zP == nil || zP.Rank() != 3 || mP == nil || mP.Rank() != 3 || logsP == nil || logsP.Rank() != 3 {
		return nil, fmt.Errorf("svs: likelihood expects rank-3 inputs")
	}

	if zP.Shape()[1] != mP.Shape()[1] || !equalShape(mP.Shape(), logsP.Shape()) {
		return nil, fmt.Errorf("svs: likelihood shape mismatch z=%v m=%v logs=%v", zP.Shape(), mP.Shape(), logsP.Shape())
	}

	const halfLogTwoPi = float32(0.9189385332046727)

	// exp(-2*logs): inverse variances.
	invVar := scaleTensor(logsP, -2)
	for i, v := range invVar.RawData() {
		invVar.RawData()[i] = float32(math.Exp(float64(v)))
	}

	constTerm := logsP.Clone()
	for i, v := range constTerm.RawData() {
		constTerm.RawData()[i] = -halfLogTwoPi - v
	}

	t1, err := sumChannels(constTerm)
	if err != nil {
		return nil, err
	}

	zSq, err := mulSameShape(zP, zP)
	if err != nil {
		return nil, err
	}

	zSqT, err := scaleTensor(zSq, -0.5).Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	t2, err := tensor.MatMul(zSqT, invVar)
	if err != nil {
		return nil, err
	}

	zT, err := zP.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	mScaled, err := mulSameShape(mP, invVar)
	if err != nil {
		return nil, err
	}

	t3, err := tensor.MatMul(zT, mScaled)
	if err != nil {
		return nil, err
	}

	mSq, err := mulSameShape(mP, mScaled)
	if err != nil {
		return nil, err
	}

	t4, err := sumChannels(scaleTensor(mSq, -0.5))
	if err != nil {
		return nil, err
	}

	score, err := addSameShape(t2, t3)
	if err != nil {
		return nil, err
	}

	bias, err := addSameShape(t1, t4)
	if err != nil {
		return nil, err
	}

	return tensor.BroadcastAdd(score, bias)
}

// maximumPath finds, per example, the highest-scoring monotonic surjective
// alignment through score [B,TFeat,TText] and returns it as a binary path
// tensor of the same shape. mask marks the valid region of each example.
// The search is a hard assignment with no gradient notion; callers must
// treat the result as a constant.
func maximumPath(score, mask *tensor.Tensor) (*tensor.Tensor, error) {
	if score == nil || score.Rank() != 3 {
		return nil, fmt.Errorf("svs: maximumPath expects [B,TFeat,TText] scores")
	}

	if mask == nil || !equalShape(score.Shape(), mask.Shape()) {
		return nil, fmt.Errorf("svs: maximumPath mask shape %v does not match scores %v", maskShape(mask), score.Shape())
	}

	shape := score.Shape()
	b, tFeat, tText := shape[0], shape[1], shape[2]

	path, err := tensor.Zeros(shape)
	if err != nil {
		return nil, err
	}

	sd := score.RawData()
	md := mask.RawData()
	pd := path.RawData()

	per := tFeat * tText

	for bi := range b {
		tY := validFeatLen(md[bi*per:(bi+1)*per], tFeat, tText)
		tX := validTextLen(md[bi*per:(bi+1)*per], tText)

		if tY == 0 || tX == 0 {
			continue
		}

		if tX > tY {
			return nil, fmt.Errorf("svs: maximumPath example %d has %d score positions for only %d frames", bi, tX, tY)
		}

		maximumPathEach(sd[bi*per:(bi+1)*per], pd[bi*per:(bi+1)*per], tY, tX, tText)
	}

	return path, nil
}

func maskShape(mask *tensor.Tensor) []int64 {
	if mask == nil {
		return nil
	}

	return mask.Shape()
}

func validFeatLen(mask []float32, tFeat, tText int64) int64 {
	var n int64
	for t := range tFeat {
		if mask[t*tText] > 0 {
			n = t + 1
		}
	}

	return n
}

func validTextLen(mask []float32, tText int64) int64 {
	var n int64
	for s := range tText {
		if mask[s] > 0 {
			n = s + 1
		}
	}

	return n
}

// maximumPathEach runs the Viterbi recursion for one example. value and
// path index as [tFeat, stride] row-major; only the [tY, tX] corner is
// touched.
func maximumPathEach(score, path []float32, tY, tX, stride int64) {
	negInf := float32(math.Inf(-1))

	value := make([]float32, tY*tX)

	for y := range tY {
		xLo := max(int64(0), tX+y-tY)
		xHi := min(tX, y+1)

		for x := xLo; x < xHi; x++ {
			vCur := negInf
			if x != y {
				vCur = value[(y-1)*tX+x]
			}

			vPrev := negInf
			if x == 0 {
				if y == 0 {
					vPrev = 0
				}
			} else if y > 0 {
				vPrev = value[(y-1)*tX+x-1]
			}

			best := vCur
			if vPrev > best {
				best = vPrev
			}

			value[y*tX+x] = best + score[y*stride+x]
		}
	}

	// Backtrack from the corner, stepping left whenever staying would be
	// worse.
	x := tX - 1
	for y := tY - 1; y >= 0; y-- {
		path[y*stride+x] = 1

		if x > 0 && (x == y || value[(y-1)*tX+x] < value[(y-1)*tX+x-1]) {
			x--
		}
	}
}
