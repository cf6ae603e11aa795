package safetensors

import (
	"path/filepath"
	"testing"
)

func TestEncodeOpenRoundtrip(t *testing.T) {
	tensors := []Tensor{
		{Name: "b.weight", Shape: []int64{2, 2}, Data: []float32{1, 2, 3, 4}},
		{Name: "a.bias", Shape: []int64{3}, Data: []float32{-1, 0, 1}},
	}

	data, err := EncodeTensors(tensors)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	store, err := OpenStoreFromBytes(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if got := len(store.Names()); got != 2 {
		t.Fatalf("names = %d, want 2", got)
	}

	if !store.Has("a.bias") {
		t.Fatal("store missing a.bias")
	}

	got, err := store.Tensor("b.weight")
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}

	if len(got.Shape) != 2 || got.Shape[0] != 2 || got.Shape[1] != 2 {
		t.Fatalf("shape = %v, want [2 2]", got.Shape)
	}

	for i, want := range []float32{1, 2, 3, 4} {
		if got.Data[i] != want {
			t.Fatalf("data[%d] = %v, want %v", i, got.Data[i], want)
		}
	}
}

func TestTensorWithShapeRejectsMismatch(t *testing.T) {
	data, err := EncodeTensors([]Tensor{
		{Name: "w", Shape: []int64{4}, Data: []float32{1, 2, 3, 4}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	store, err := OpenStoreFromBytes(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, err := store.TensorWithShape("w", []int64{2, 2}); err == nil {
		t.Fatal("expected shape mismatch error")
	}

	if _, err := store.TensorWithShape("missing", []int64{4}); err == nil {
		t.Fatal("expected missing tensor error")
	}
}

func TestWriteFileAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")

	err := WriteFile(path, []Tensor{
		{Name: "emb", Shape: []int64{1, 3}, Data: []float32{0.5, -0.5, 1}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	got, err := store.TensorWithShape("emb", []int64{1, 3})
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}

	if got.Data[2] != 1 {
		t.Fatalf("data[2] = %v, want 1", got.Data[2])
	}
}

func TestLoadSpeakerEmbeddingNormalizesShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spk.safetensors")

	err := WriteFile(path, []Tensor{
		{Name: "embedding", Shape: []int64{4}, Data: []float32{1, 2, 3, 4}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	data, shape, err := LoadSpeakerEmbedding(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(shape) != 2 || shape[0] != 1 || shape[1] != 4 {
		t.Fatalf("shape = %v, want [1 4]", shape)
	}

	if len(data) != 4 {
		t.Fatalf("data length = %d, want 4", len(data))
	}
}

func TestOpenRejectsTruncatedHeader(t *testing.T) {
	if _, err := OpenStoreFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected header error")
	}
}
