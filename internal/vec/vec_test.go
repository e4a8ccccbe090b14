package vec

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors score 1", func(t *testing.T) {
		v := []float32{0.3, 0.5, 0.2}
		if got := CosineSimilarity(v, v); math.Abs(got-1.0) > 1e-6 {
			t.Fatalf("expected 1.0, got %f", got)
		}
	})

	t.Run("orthogonal vectors score 0", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		if got := CosineSimilarity(a, b); math.Abs(got) > 1e-6 {
			t.Fatalf("expected 0, got %f", got)
		}
	})

	t.Run("opposite vectors score -1", func(t *testing.T) {
		a := []float32{1, 2, 3}
		b := []float32{-1, -2, -3}
		if got := CosineSimilarity(a, b); math.Abs(got+1.0) > 1e-6 {
			t.Fatalf("expected -1.0, got %f", got)
		}
	})

	t.Run("mismatched lengths score 0", func(t *testing.T) {
		if got := CosineSimilarity([]float32{1, 2}, []float32{1}); got != 0 {
			t.Fatalf("expected 0, got %f", got)
		}
	})

	t.Run("zero vector scores 0", func(t *testing.T) {
		if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
			t.Fatalf("expected 0, got %f", got)
		}
	})
}

func TestBytesRoundTrip(t *testing.T) {
	v := []float32{0.125, -1.5, 3.25, 0}
	raw := ToBytes(v)
	if len(raw) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(raw))
	}

	got := FromBytes(raw)
	if len(got) != len(v) {
		t.Fatalf("length mismatch: %d != %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("value mismatch at %d: %f != %f", i, got[i], v[i])
		}
	}
}

func TestFromBytesRejectsBadLength(t *testing.T) {
	if v := FromBytes([]byte{1, 2, 3}); v != nil {
		t.Fatal("expected nil for non-multiple-of-4 input")
	}
}

func TestLegacyJSON(t *testing.T) {
	t.Run("detects JSON array", func(t *testing.T) {
		if !IsLegacyJSON([]byte("  [0.1, 0.2]")) {
			t.Fatal("expected legacy detection")
		}
		if IsLegacyJSON(ToBytes([]float32{0.1, 0.2})) {
			t.Fatal("binary embedding misdetected as legacy")
		}
	})

	t.Run("decodes JSON array", func(t *testing.T) {
		v, err := FromLegacyJSON([]byte("[0.5, -0.25, 1]"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []float32{0.5, -0.25, 1}
		if len(v) != len(want) {
			t.Fatalf("length mismatch: %d != %d", len(v), len(want))
		}
		for i := range want {
			if v[i] != want[i] {
				t.Fatalf("value mismatch at %d: %f != %f", i, v[i], want[i])
			}
		}
	})

	t.Run("rejects malformed", func(t *testing.T) {
		if _, err := FromLegacyJSON([]byte("[0.5,")); err == nil {
			t.Fatal("expected error for truncated JSON")
		}
	})
}
