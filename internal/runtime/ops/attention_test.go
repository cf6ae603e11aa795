package ops

import (
	"math"
	"testing"
)

func TestAttentionPicksDominantKey(t *testing.T) {
	q := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2, 1})
	k := mustTensorT(t, []float32{0, 10}, []int64{1, 1, 2, 1})
	v := mustTensorT(t, []float32{1, 5}, []int64{1, 1, 2, 1})

	out, err := Attention(q, k, v, nil)
	if err != nil {
		t.Fatalf("attention: %v", err)
	}

	// With a key score of 10 vs 0 the softmax is almost one-hot on v=5.
	for _, got := range out.Data() {
		if math.Abs(float64(got-5)) > 1e-2 {
			t.Fatalf("attention output = %v, want ~5", got)
		}
	}
}

func TestAttentionMaskExcludesPaddedKeys(t *testing.T) {
	// Two keys with equal scores; masking the second must route all weight
	// to the first value.
	q := mustTensorT(t, []float32{1}, []int64{1, 1, 1, 1})
	k := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2, 1})
	v := mustTensorT(t, []float32{3, 9}, []int64{1, 1, 2, 1})

	mask := mustTensorT(t, []float32{1, 0}, []int64{1, 1, 1, 2})

	out, err := Attention(q, k, v, mask)
	if err != nil {
		t.Fatalf("attention: %v", err)
	}

	if got := out.Data()[0]; math.Abs(float64(got-3)) > 1e-4 {
		t.Fatalf("masked attention = %v, want 3", got)
	}
}

func TestAttentionFullyMaskedRowStaysFinite(t *testing.T) {
	q := mustTensorT(t, []float32{1}, []int64{1, 1, 1, 1})
	k := mustTensorT(t, []float32{1, 2}, []int64{1, 1, 2, 1})
	v := mustTensorT(t, []float32{3, 9}, []int64{1, 1, 2, 1})

	mask := mustTensorT(t, []float32{0, 0}, []int64{1, 1, 1, 2})

	out, err := Attention(q, k, v, mask)
	if err != nil {
		t.Fatalf("attention: %v", err)
	}

	for _, got := range out.Data() {
		if math.IsNaN(float64(got)) || math.IsInf(float64(got), 0) {
			t.Fatalf("fully masked attention produced %v", got)
		}
	}
}

func TestAttentionRejectsDepthMismatch(t *testing.T) {
	q := mustTensorT(t, []float32{1, 2}, []int64{1, 1, 1, 2})
	k := mustTensorT(t, []float32{1}, []int64{1, 1, 1, 1})
	v := mustTensorT(t, []float32{1}, []int64{1, 1, 1, 1})

	_, err := Attention(q, k, v, nil)
	assertErrContains(t, err, "depth mismatch")
}
