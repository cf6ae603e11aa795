package svs

import (
	"fmt"
	"math/rand"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

// randomSegments crops a fixed-size window from each example of x [B,C,T],
// choosing start offsets uniformly so every window fits inside the
// example's valid length. Examples shorter than the segment start at zero
// and include padding. Returns the cropped [B,C,segmentSize] batch and the
// chosen start offsets.
func randomSegments(x *tensor.Tensor, lengths []int64, segmentSize int64, rng *rand.Rand) (*tensor.Tensor, []int64, error) {
	if x == nil || x.Rank() != 3 {
		return nil, nil, fmt.Errorf("svs: randomSegments expects [B,C,T]")
	}

	if segmentSize <= 0 {
		return nil, nil, fmt.Errorf("svs: segment size must be positive, got %d", segmentSize)
	}

	if rng == nil {
		return nil, nil, fmt.Errorf("svs: randomSegments requires an rng")
	}

	shape := x.Shape()
	b, t := shape[0], shape[2]

	if int64(len(lengths)) != b {
		return nil, nil, fmt.Errorf("svs: randomSegments got %d lengths for batch of %d", len(lengths), b)
	}

	if segmentSize > t {
		return nil, nil, fmt.Errorf("svs: segment size %d exceeds sequence length %d", segmentSize, t)
	}

	starts := make([]int64, b)
	segments := make([]*tensor.Tensor, 0, b)

	for bi := range b {
		l := min(lengths[bi], t)

		maxStart := l - segmentSize
		if maxStart > 0 {
			starts[bi] = rng.Int63n(maxStart + 1)
		}

		example, err := x.Narrow(0, bi, 1)
		if err != nil {
			return nil, nil, err
		}

		seg, err := example.Narrow(2, starts[bi], segmentSize)
		if err != nil {
			return nil, nil, err
		}

		segments = append(segments, seg)
	}

	out, err := tensor.Concat(segments, 0)
	if err != nil {
		return nil, nil, err
	}

	return out, starts, nil
}
