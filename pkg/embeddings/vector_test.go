package embeddings

import (
	"errors"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 1},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"opposite", Vector{1, 1}, Vector{-1, -1}, -1},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 2, 3}, 0},
		{"empty", Vector{}, Vector{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilaritySymmetricAndBounded(t *testing.T) {
	vecs := []Vector{
		{0.3, -1.2, 4.5},
		{-7, 0.01, 2},
		{1e-3, 1e3, -5},
		{0, 0, 1},
	}
	for _, a := range vecs {
		for _, b := range vecs {
			ab, err := CosineSimilarity(a, b)
			if err != nil {
				t.Fatal(err)
			}
			ba, _ := CosineSimilarity(b, a)
			if ab != ba {
				t.Errorf("sim(%v,%v)=%v != sim(b,a)=%v", a, b, ab, ba)
			}
			if ab < -1 || ab > 1 {
				t.Errorf("sim(%v,%v)=%v out of [-1,1]", a, b, ab)
			}
		}
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity(Vector{1, 2}, Vector{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

type candidate struct {
	name string
	vec  Vector
}

func candidates() []candidate {
	return []candidate{
		{"a", Vector{0.9, 0.1, 0}},
		{"b", Vector{0, 1, 0}},
		{"c", Vector{0.7, 0.7, 0}},
	}
}

func vecOf(c candidate) Vector { return c.vec }

func TestFindSimilarRanking(t *testing.T) {
	got := FindSimilar(Vector{1, 0, 0}, candidates(), vecOf, 3, 0)
	want := []string{"a", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %d matches, want %d", len(got), len(want))
	}
	for i, m := range got {
		if m.Item.name != want[i] {
			t.Errorf("rank %d = %s, want %s", i, m.Item.name, want[i])
		}
	}
}

func TestFindSimilarThreshold(t *testing.T) {
	got := FindSimilar(Vector{1, 0, 0}, candidates(), vecOf, 3, 0.8)
	if len(got) != 1 || got[0].Item.name != "a" {
		t.Fatalf("got %+v, want only a", got)
	}
}

func TestFindSimilarSkipsMismatchedAndKeepsTieOrder(t *testing.T) {
	cands := []candidate{
		{"first", Vector{1, 0}},
		{"wrong-dims", Vector{1, 0, 0}},
		{"second", Vector{2, 0}},
		{"none", nil},
	}
	got := FindSimilar(Vector{1, 0}, cands, vecOf, 0, 0.5)
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].Item.name != "first" || got[1].Item.name != "second" {
		t.Errorf("tie order = %s,%s; want first,second", got[0].Item.name, got[1].Item.name)
	}
}

func TestFindSimilarTopK(t *testing.T) {
	got := FindSimilar(Vector{1, 0, 0}, candidates(), vecOf, 2, 0)
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
}

func TestEncodeDecode(t *testing.T) {
	in := Vector{0, 1.5, -2.25, float32(math.Pi), 1e-7, -3e8}
	data := Encode(in)
	if len(data) != 4*len(in) {
		t.Fatalf("encoded %d bytes, want %d", len(data), 4*len(in))
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d values, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("value %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestEncodeLittleEndian(t *testing.T) {
	// 1.0 is 0x3f800000.
	got := Encode(Vector{1})
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Encode(1) = % x, want % x", got, want)
		}
	}
}

func TestDecodeEmpty(t *testing.T) {
	v, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if v == nil || len(v) != 0 {
		t.Errorf("Decode(nil) = %#v, want empty vector", v)
	}
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("Decode of 3 bytes succeeded, want error")
	}
}
