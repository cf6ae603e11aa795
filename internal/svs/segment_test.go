package svs

import (
	"math/rand"
	"testing"
)

func TestRandomSegmentsShapeAndBounds(t *testing.T) {
	x := randomTensor(t, []int64{2, 3, 10}, 11)
	lengths := []int64{10, 6}
	rng := rand.New(rand.NewSource(4))

	segs, starts, err := randomSegments(x, lengths, 4, rng)
	if err != nil {
		t.Fatalf("randomSegments: %v", err)
	}

	wantShape(t, segs, 2, 3, 4)

	if len(starts) != 2 {
		t.Fatalf("starts length = %d, want 2", len(starts))
	}

	for b, s := range starts {
		if s < 0 || s+4 > lengths[b] {
			t.Fatalf("start %d out of range for length %d", s, lengths[b])
		}
	}
}

func TestRandomSegmentsCopiesSourceValues(t *testing.T) {
	x := mustTensor(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, []int64{1, 1, 8})
	rng := rand.New(rand.NewSource(1))

	segs, starts, err := randomSegments(x, []int64{8}, 3, rng)
	if err != nil {
		t.Fatalf("randomSegments: %v", err)
	}

	start := starts[0]
	for i := range int64(3) {
		got, err := segs.At(0, 0, i)
		if err != nil {
			t.Fatalf("At: %v", err)
		}

		if got != float32(start+i) {
			t.Fatalf("segment[%d] = %v, want %v", i, got, float32(start+i))
		}
	}
}

func TestRandomSegmentsRejectsShortInput(t *testing.T) {
	x := randomTensor(t, []int64{1, 2, 3}, 2)
	rng := rand.New(rand.NewSource(1))

	if _, _, err := randomSegments(x, []int64{3}, 5, rng); err == nil {
		t.Fatal("expected error when segment exceeds sequence length")
	}
}
