package svs

import (
	"testing"

	"github.com/example/go-singvits/internal/safetensors"
)

func TestInitSourceConventions(t *testing.T) {
	src := NewInitSource(1)

	bias, err := src.Fetch("layer.bias", []int64{4})
	if err != nil {
		t.Fatalf("fetch bias: %v", err)
	}

	for i, v := range bias.Data() {
		if v != 0 {
			t.Fatalf("bias[%d] = %v, want 0", i, v)
		}
	}

	gain, err := src.Fetch("norm1.weight", []int64{4})
	if err != nil {
		t.Fatalf("fetch norm gain: %v", err)
	}

	for i, v := range gain.Data() {
		if v != 1 {
			t.Fatalf("norm gain[%d] = %v, want 1", i, v)
		}
	}

	w, err := src.Fetch("layer.weight", []int64{64})
	if err != nil {
		t.Fatalf("fetch weight: %v", err)
	}

	var nonzero int
	for _, v := range w.Data() {
		if v != 0 {
			nonzero++
		}

		if v < -1 || v > 1 {
			t.Fatalf("weight %v far outside the init scale", v)
		}
	}

	if nonzero == 0 {
		t.Fatal("weight init produced all zeros")
	}
}

func TestInitSourceDeterministic(t *testing.T) {
	a, err := NewInitSource(3).Fetch("w", []int64{8})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	b, err := NewInitSource(3).Fetch("w", []int64{8})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if !approx(a.Data(), b.Data(), 0) {
		t.Fatal("same seed should produce identical parameters")
	}
}

func TestVarBuilderPrefixesAndRecords(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(2))

	if _, err := vb.Path("enc", "blocks", "0").Tensor("query.weight", 4, 4); err != nil {
		t.Fatalf("tensor: %v", err)
	}

	if _, err := vb.Path("dec").Tensor("pre.bias", 4); err != nil {
		t.Fatalf("tensor: %v", err)
	}

	params := vb.Parameters()
	if len(params) != 2 {
		t.Fatalf("got %d parameters, want 2", len(params))
	}

	// Sorted by full dotted path.
	if params[0].Name != "dec.pre.bias" || params[1].Name != "enc.blocks.0.query.weight" {
		t.Fatalf("unexpected parameter names: %q, %q", params[0].Name, params[1].Name)
	}
}

func TestVarBuilderRequiresShape(t *testing.T) {
	vb := NewVarBuilder(NewInitSource(2))

	if _, err := vb.Tensor("w"); err == nil {
		t.Fatal("expected error for missing shape")
	}
}

func TestCheckpointSourceShapeMismatch(t *testing.T) {
	blob, err := safetensors.EncodeTensors([]safetensors.Tensor{
		{Name: "w", Shape: []int64{2, 2}, Data: []float32{1, 2, 3, 4}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	store, err := safetensors.OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	src := NewCheckpointSource(store)

	got, err := src.Fetch("w", []int64{2, 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if !approx(got.Data(), []float32{1, 2, 3, 4}, 0) {
		t.Fatalf("fetched data = %v", got.Data())
	}

	if _, err := src.Fetch("w", []int64{4}); err == nil {
		t.Fatal("expected shape mismatch error")
	}

	if _, err := src.Fetch("missing", []int64{1}); err == nil {
		t.Fatal("expected missing tensor error")
	}
}
