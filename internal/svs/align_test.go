package svs

import (
	"math"
	"testing"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

func TestGaussianLogLikelihoodMatchesDirectForm(t *testing.T) {
	const (
		b     = 2
		h     = 3
		tFeat = 4
		tText = 5
	)

	zP := randomTensor(t, []int64{b, h, tFeat}, 1)
	mP := randomTensor(t, []int64{b, h, tText}, 2)
	logsP := randomTensor(t, []int64{b, h, tText}, 3)

	got, err := gaussianLogLikelihood(zP, mP, logsP)
	if err != nil {
		t.Fatalf("likelihood: %v", err)
	}

	wantShape(t, got, b, tFeat, tText)

	for bi := int64(0); bi < b; bi++ {
		for tf := int64(0); tf < tFeat; tf++ {
			for ts := int64(0); ts < tText; ts++ {
				var want float64

				for c := int64(0); c < h; c++ {
					z, _ := zP.At(bi, c, tf)
					m, _ := mP.At(bi, c, ts)
					ls, _ := logsP.At(bi, c, ts)

					diff := float64(z - m)
					want += -0.5*math.Log(2*math.Pi) - float64(ls) - 0.5*diff*diff*math.Exp(-2*float64(ls))
				}

				g, _ := got.At(bi, tf, ts)
				if math.Abs(float64(g)-want) > 1e-3 {
					t.Fatalf("score[%d,%d,%d] = %v, want %v", bi, tf, ts, g, want)
				}
			}
		}
	}
}

func TestMaximumPathIsMonotonicAndSurjective(t *testing.T) {
	const (
		tFeat = 6
		tText = 3
	)

	score := randomTensor(t, []int64{1, tFeat, tText}, 11)

	mask, err := tensorOnes(tFeat, tText)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	path, err := maximumPath(score, mask)
	if err != nil {
		t.Fatalf("maximumPath: %v", err)
	}

	assertValidPath(t, path, tFeat, tText)
}

func TestMaximumPathRespectsMaskedRegion(t *testing.T) {
	const (
		tFeat = 5
		tText = 4
	)

	score := randomTensor(t, []int64{1, tFeat, tText}, 13)

	// Valid region is 4 frames by 2 positions.
	yMask := mustTensor(t, []float32{1, 1, 1, 1, 0}, []int64{1, 1, tFeat})
	xMask := mustTensor(t, []float32{1, 1, 0, 0}, []int64{1, 1, tText})

	mask, err := outerMask(yMask, xMask)
	if err != nil {
		t.Fatalf("outerMask: %v", err)
	}

	path, err := maximumPath(score, mask)
	if err != nil {
		t.Fatalf("maximumPath: %v", err)
	}

	pd := path.RawData()

	// Nothing outside the valid corner.
	for tf := range int64(tFeat) {
		for ts := range int64(tText) {
			if (tf >= 4 || ts >= 2) && pd[tf*tText+ts] != 0 {
				t.Fatalf("path leaked outside mask at (%d,%d)", tf, ts)
			}
		}
	}

	// Each valid frame attends exactly one position.
	for tf := range int64(4) {
		var row float32
		for ts := range int64(2) {
			row += pd[tf*tText+ts]
		}

		if row != 1 {
			t.Fatalf("frame %d has %v active positions", tf, row)
		}
	}
}

func TestMaximumPathFollowsDominantScores(t *testing.T) {
	// Make the diagonal overwhelmingly attractive.
	score := mustTensor(t, []float32{
		10, -10,
		10, -10,
		-10, 10,
		-10, 10,
	}, []int64{1, 4, 2})

	mask, err := tensorOnes(4, 2)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	path, err := maximumPath(score, mask)
	if err != nil {
		t.Fatalf("maximumPath: %v", err)
	}

	want := []float32{
		1, 0,
		1, 0,
		0, 1,
		0, 1,
	}
	if !approx(path.Data(), want, 0) {
		t.Fatalf("path = %v, want %v", path.Data(), want)
	}
}

func TestMaximumPathRejectsTooManyPositions(t *testing.T) {
	score := randomTensor(t, []int64{1, 2, 3}, 5)

	mask, err := tensorOnes(2, 3)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	if _, err := maximumPath(score, mask); err == nil {
		t.Fatal("expected error when positions exceed frames")
	}
}

func tensorOnes(tFeat, tText int64) (*tensor.Tensor, error) {
	return tensor.Full([]int64{1, tFeat, tText}, 1)
}

// assertValidPath checks the alignment invariants on a fully valid region:
// one position per frame, starting at position 0, ending at the last
// position, never moving backwards or skipping.
func assertValidPath(t *testing.T, path *tensor.Tensor, tFeat, tText int64) {
	t.Helper()

	pd := path.RawData()
	prev := int64(0)

	for tf := range tFeat {
		active := int64(-1)

		var count int
		for ts := range tText {
			if pd[tf*tText+ts] == 1 {
				active = ts
				count++
			}
		}

		if count != 1 {
			t.Fatalf("frame %d has %d active positions", tf, count)
		}

		if tf == 0 && active != 0 {
			t.Fatalf("path starts at position %d, want 0", active)
		}

		if active < prev || active > prev+1 {
			t.Fatalf("path jumps from %d to %d at frame %d", prev, active, tf)
		}

		prev = active
	}

	if prev != tText-1 {
		t.Fatalf("path ends at position %d, want %d", prev, tText-1)
	}
}
