package svs

import "testing"

func TestReconcileLengthsPads(t *testing.T) {
	stream := [][]int64{{1, 2, 3}}

	out, lengths, err := reconcileLengths(stream, []int64{3}, 5)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(out[0]) != 5 {
		t.Fatalf("width = %d, want 5", len(out[0]))
	}

	want := []int64{1, 2, 3, 0, 0}
	for i, v := range want {
		if out[0][i] != v {
			t.Fatalf("row = %v, want %v", out[0], want)
		}
	}

	// A full row is treated as covering the whole target.
	if lengths[0] != 5 {
		t.Fatalf("length = %d, want 5", lengths[0])
	}
}

func TestReconcileLengthsTruncates(t *testing.T) {
	stream := [][]int64{{1, 2, 3, 4, 5, 6}}

	out, lengths, err := reconcileLengths(stream, []int64{6}, 4)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	want := []int64{1, 2, 3, 4}
	for i, v := range want {
		if out[0][i] != v {
			t.Fatalf("row = %v, want %v", out[0], want)
		}
	}

	if lengths[0] != 4 {
		t.Fatalf("length = %d, want 4", lengths[0])
	}
}

func TestReconcileLengthsKeepsShortDeclaredLengths(t *testing.T) {
	stream := [][]int64{{7, 8, 9, 0, 0}}

	_, lengths, err := reconcileLengths(stream, []int64{3}, 8)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// 3 < width 5, so it is a genuine short sequence and stays 3.
	if lengths[0] != 3 {
		t.Fatalf("length = %d, want 3", lengths[0])
	}
}

func TestReconcileLengthsDoesNotMutateInput(t *testing.T) {
	row := []int64{1, 2}
	stream := [][]int64{row}

	if _, _, err := reconcileLengths(stream, []int64{2}, 4); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(row) != 2 || row[0] != 1 {
		t.Fatal("input row was modified")
	}
}

func TestReconcileLengthsRejectsBadDeclaredLength(t *testing.T) {
	if _, _, err := reconcileLengths([][]int64{{1}}, []int64{5}, 3); err == nil {
		t.Fatal("expected error for declared length beyond width")
	}
}
