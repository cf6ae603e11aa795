package svs

import (
	"testing"
)

func TestFlowRoundtrip(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(3))

	flow, err := NewResidualCouplingBlock(vb.Path("flow"), 4, 8, 5, 2, 2, 0, false)
	if err != nil {
		t.Fatalf("build flow: %v", err)
	}

	mask, err := sequenceMask([]int64{6, 4}, 6)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{2, 4, 6}, 17)

	x, err = applyMask(x, mask)
	if err != nil {
		t.Fatalf("mask input: %v", err)
	}

	y, err := flow.Forward(x, mask, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	back, err := flow.Inverse(y, mask, nil)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}

	if !approx(back.Data(), x.Data(), 1e-4) {
		t.Fatalf("inverse(forward(x)) diverged from x")
	}
}

func TestFlowConditionedRoundtrip(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(13))

	flow, err := NewResidualCouplingBlock(vb.Path("flow"), 4, 8, 5, 2, 2, 3, false)
	if err != nil {
		t.Fatalf("build flow: %v", err)
	}

	mask, err := sequenceMask([]int64{6}, 6)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{1, 4, 6}, 19)
	g := randomTensor(t, []int64{1, 3, 1}, 20)

	y, err := flow.Forward(x, mask, g)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	back, err := flow.Inverse(y, mask, g)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}

	if !approx(back.Data(), x.Data(), 1e-4) {
		t.Fatalf("conditioned inverse(forward(x)) diverged from x")
	}
}

func TestFlowMeanOnlyRoundtrip(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(5))

	flow, err := NewResidualCouplingBlock(vb.Path("flow"), 4, 8, 5, 2, 3, 0, true)
	if err != nil {
		t.Fatalf("build flow: %v", err)
	}

	mask, err := sequenceMask([]int64{5}, 5)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{1, 4, 5}, 23)

	y, err := flow.Forward(x, mask, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	back, err := flow.Inverse(y, mask, nil)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}

	if !approx(back.Data(), x.Data(), 1e-4) {
		t.Fatalf("mean-only inverse(forward(x)) diverged from x")
	}
}

func TestFlowKeepsPaddedPositionsZero(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(9))

	flow, err := NewResidualCouplingBlock(vb.Path("flow"), 4, 8, 5, 2, 2, 0, false)
	if err != nil {
		t.Fatalf("build flow: %v", err)
	}

	mask, err := sequenceMask([]int64{3}, 6)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}

	x := randomTensor(t, []int64{1, 4, 6}, 31)

	x, err = applyMask(x, mask)
	if err != nil {
		t.Fatalf("mask input: %v", err)
	}

	y, err := flow.Forward(x, mask, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	// Positions 3..5 are padding and must stay zero.
	for c := int64(0); c < 4; c++ {
		for tt := int64(3); tt < 6; tt++ {
			v, err := y.At(0, c, tt)
			if err != nil {
				t.Fatalf("At: %v", err)
			}

			if v != 0 {
				t.Fatalf("padded position (%d,%d) = %v, want 0", c, tt, v)
			}
		}
	}
}

func TestFlowRejectsOddChannels(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(1))

	if _, err := NewResidualCouplingBlock(vb, 5, 8, 5, 2, 2, 0, false); err == nil {
		t.Fatal("expected error for odd channel count")
	}
}
