package svs

import (
	"fmt"

	"github.com/example/go-singvits/internal/runtime/tensor"
)

// generatePath expands integer durations [B,1,TText] into a binary
// alignment path [B,TFeat,TText]: score position s claims the frame range
// [cum[s-1], cum[s]). mask bounds the valid region per example.
func generatePath(durations, mask *tensor.Tensor) (*tensor.Tensor, error) {
	if durations == nil || durations.Rank() != 3 || durations.Shape()[1] != 1 {
		return nil, fmt.Errorf("svs: generatePath expects durations [B,1,TText]")
	}

	if mask == nil || mask.Rank() != 3 {
		return nil, fmt.Errorf("svs: generatePath expects mask [B,TFeat,TText]")
	}

	b := durations.Shape()[0]
	tText := durations.Shape()[2]

	if mask.Shape()[0] != b || mask.Shape()[2] != tText {
		return nil, fmt.Errorf("svs: generatePath mask %v does not match durations %v", mask.Shape(), durations.Shape())
	}

	tFeat := mask.Shape()[1]

	path, err := tensor.Zeros(mask.Shape())
	if err != nil {
		return nil, err
	}

	dd := durations.RawData()
	pd := path.RawData()

	for bi := range b {
		var cum int64

		for s := range tText {
			d := int64(dd[bi*tText+s])
			if d < 0 {
				return nil, fmt.Errorf("svs: generatePath example %d has negative duration at position %d", bi, s)
			}

			lo := cum
			hi := min(cum+d, tFeat)

			for t := lo; t < hi; t++ {
				pd[(bi*tFeat+t)*tText+s] = 1
			}

			cum += d
		}
	}

	return mulSameShape(path, mask)
}
