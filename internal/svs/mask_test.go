package svs

import (
	"math"
	"testing"
)

func TestSequenceMask(t *testing.T) {
	mask, err := sequenceMask([]int64{3, 1}, 4)
	if err != nil {
		t.Fatalf("sequenceMask: %v", err)
	}

	wantShape(t, mask, 2, 1, 4)

	want := []float32{
		1, 1, 1, 0,
		1, 0, 0, 0,
	}
	if !approx(mask.Data(), want, 0) {
		t.Fatalf("mask = %v, want %v", mask.Data(), want)
	}
}

func TestSequenceMaskClampsLongLengths(t *testing.T) {
	mask, err := sequenceMask([]int64{10}, 3)
	if err != nil {
		t.Fatalf("sequenceMask: %v", err)
	}

	if !approx(mask.Data(), []float32{1, 1, 1}, 0) {
		t.Fatalf("mask = %v", mask.Data())
	}
}

func TestPositionalEncoding(t *testing.T) {
	pe, err := positionalEncoding(4, 3)
	if err != nil {
		t.Fatalf("positionalEncoding: %v", err)
	}

	wantShape(t, pe, 1, 4, 3)

	// Channel 0 is sin(t), channel 1 is cos(t) at the base frequency.
	at := func(c, tt int64) float32 {
		v, err := pe.At(0, c, tt)
		if err != nil {
			t.Fatalf("At(%d,%d): %v", c, tt, err)
		}
		return v
	}

	if got := at(0, 0); got != 0 {
		t.Fatalf("pe[0,0] = %v, want 0", got)
	}

	if got := at(1, 0); got != 1 {
		t.Fatalf("pe[1,0] = %v, want 1", got)
	}

	if got := at(0, 1); math.Abs(float64(got)-math.Sin(1)) > 1e-6 {
		t.Fatalf("pe[0,1] = %v, want sin(1)", got)
	}

	if got := at(1, 2); math.Abs(float64(got)-math.Cos(2)) > 1e-6 {
		t.Fatalf("pe[1,2] = %v, want cos(2)", got)
	}
}

func TestOuterMask(t *testing.T) {
	yMask := mustTensor(t, []float32{1, 1, 0}, []int64{1, 1, 3})
	xMask := mustTensor(t, []float32{1, 0}, []int64{1, 1, 2})

	out, err := outerMask(yMask, xMask)
	if err != nil {
		t.Fatalf("outerMask: %v", err)
	}

	wantShape(t, out, 1, 3, 2)

	want := []float32{
		1, 0,
		1, 0,
		0, 0,
	}
	if !approx(out.Data(), want, 0) {
		t.Fatalf("outer mask = %v, want %v", out.Data(), want)
	}
}
