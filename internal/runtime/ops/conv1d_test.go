package ops

import (
	"testing"
)

func TestConv1D(t *testing.T) {
	input := mustTensorT(t, []float32{1, 2, 3, 4}, []int64{1, 1, 4})
	kernel := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2})

	out, err := Conv1D(input, kernel, nil, 1, 0, 1, 1)
	if err != nil {
		t.Fatalf("conv1d: %v", err)
	}

	want := []float32{3, 5, 7}
	if got := out.Data(); !equalApprox(got, want, 0) {
		t.Fatalf("conv1d = %v, want %v", got, want)
	}
}

func TestConv1DPaddingAndBias(t *testing.T) {
	input := mustTensorT(t, []float32{1, 2, 3}, []int64{1, 1, 3})
	kernel := mustTensorT(t, []float32{1, 1, 1}, []int64{1, 1, 3})
	bias := mustTensorT(t, []float32{10}, []int64{1})

	out, err := Conv1D(input, kernel, bias, 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("conv1d: %v", err)
	}

	want := []float32{13, 16, 15}
	if got := out.Data(); !equalApprox(got, want, 0) {
		t.Fatalf("conv1d = %v, want %v", got, want)
	}
}

func TestConv1DDilation(t *testing.T) {
	input := mustTensorT(t, []float32{1, 2, 3, 4, 5}, []int64{1, 1, 5})
	kernel := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2})

	out, err := Conv1D(input, kernel, nil, 1, 0, 2, 1)
	if err != nil {
		t.Fatalf("conv1d: %v", err)
	}

	want := []float32{4, 6, 8}
	if got := out.Data(); !equalApprox(got, want, 0) {
		t.Fatalf("conv1d dilated = %v, want %v", got, want)
	}
}

func TestConv1DGroupedPath(t *testing.T) {
	input := mustTensorT(t, []float32{
		1, 2, 3, 4,
		10, 20, 30, 40,
	}, []int64{1, 2, 4})
	kernel := mustTensorT(t, []float32{
		1, 1,
		1, 1,
	}, []int64{2, 1, 2})

	out, err := Conv1D(input, kernel, nil, 1, 0, 1, 2)
	if err != nil {
		t.Fatalf("conv1d grouped: %v", err)
	}

	want := []float32{3, 5, 7, 30, 50, 70}
	if got := out.Data(); !equalApprox(got, want, 0) {
		t.Fatalf("conv1d grouped = %v, want %v", got, want)
	}
}

func TestConv1DParallelMatchesSequential(t *testing.T) {
	SetConvWorkers(4)
	defer SetConvWorkers(1)

	input := mustTensorT(t, seqDataT(1*16*64), []int64{1, 16, 64})
	kernel := mustTensorT(t, seqDataT(32*16*3), []int64{32, 16, 3})
	bias := mustTensorT(t, seqDataT(32), []int64{32})

	got, err := Conv1D(input, kernel, bias, 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("conv1d parallel: %v", err)
	}

	SetConvWorkers(1)

	want, err := Conv1D(input, kernel, bias, 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("conv1d sequential: %v", err)
	}

	if !equalApprox(got.Data(), want.Data(), 1e-4) {
		t.Fatalf("parallel conv1d differs from sequential")
	}
}

func TestConv1DRejectsChannelMismatch(t *testing.T) {
	input := mustTensorT(t, seqDataT(8), []int64{1, 2, 4})
	kernel := mustTensorT(t, seqDataT(6), []int64{2, 3, 1})

	_, err := Conv1D(input, kernel, nil, 1, 0, 1, 1)
	assertErrContains(t, err, "channels")
}
