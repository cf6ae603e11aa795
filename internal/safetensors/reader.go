package safetensors

import (
	"fmt"
)

// Tensor holds a single tensor loaded from a safetensors file.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// LoadFirstTensor reads a safetensors file and returns the first tensor.
func LoadFirstTensor(path string) (*Tensor, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	names := store.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("safetensors: no tensors found")
	}

	return store.Tensor(names[0])
}

// LoadSpeakerEmbedding loads a pretrained speaker embedding (e.g. an
// X-vector) from a safetensors file and normalizes the result to 2D shape
// [1, D]. A 1D tensor [D] is reshaped to [1, D].
func LoadSpeakerEmbedding(path string) ([]float32, []int64, error) {
	t, err := LoadFirstTensor(path)
	if err != nil {
		return nil, nil, err
	}

	switch len(t.Shape) {
	case 1:
		return t.Data, []int64{1, t.Shape[0]}, nil
	case 2:
		return t.Data, t.Shape, nil
	default:
		return nil, nil, fmt.Errorf("safetensors: speaker embedding has %dD shape %v, expected 1D or 2D", len(t.Shape), t.Shape)
	}
}
