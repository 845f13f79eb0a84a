package tensor

import (
	"math"
	"testing"
)

func TestSplitIsDeterministic(t *testing.T) {
	key := NewKey(42)
	sub1, next1, err := Split(key)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	sub2, next2, err := Split(key)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !sub1.Equal(sub2) || !next1.Equal(next2) {
		t.Fatal("split of the same key must be deterministic")
	}
	if sub1.Equal(next1) {
		t.Fatal("sub key and next key must differ")
	}
	if sub1.Equal(key) || next1.Equal(key) {
		t.Fatal("split keys must not repeat the input key")
	}
}

func TestSplitRejectsNonScalarKey(t *testing.T) {
	if _, _, err := Split(Vector([]float64{1, 2})); err == nil {
		t.Fatal("expected error for non-scalar key")
	}
}

func TestFoldSeparatesIndices(t *testing.T) {
	key := NewKey(7)
	a, err := Fold(key, 0)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	b, err := Fold(key, 1)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	if a.Equal(b) {
		t.Fatal("distinct fold indices must yield distinct keys")
	}

	ua, err := Uniform(a, 0, 1, 16)
	if err != nil {
		t.Fatalf("uniform: %v", err)
	}
	ub, err := Uniform(b, 0, 1, 16)
	if err != nil {
		t.Fatalf("uniform: %v", err)
	}
	if ua.Equal(ub) {
		t.Fatal("draws from folded keys must not collapse")
	}
}

func TestUniformRange(t *testing.T) {
	key := NewKey(1)
	u, err := Uniform(key, -2, 3, 100)
	if err != nil {
		t.Fatalf("uniform: %v", err)
	}
	for i, v := range u.Data() {
		if v < -2 || v >= 3 {
			t.Fatalf("draw %d = %g outside [-2, 3)", i, v)
		}
	}

	again, err := Uniform(key, -2, 3, 100)
	if err != nil {
		t.Fatalf("uniform: %v", err)
	}
	if !u.Equal(again) {
		t.Fatal("same key must reproduce the same draws")
	}
}

func TestNormalMoments(t *testing.T) {
	key := NewKey(99)
	n, err := Normal(key, 4000)
	if err != nil {
		t.Fatalf("normal: %v", err)
	}
	mean := n.MeanAll()
	if math.Abs(mean) > 0.1 {
		t.Fatalf("sample mean %g too far from 0", mean)
	}
	variance := 0.0
	for _, v := range n.Data() {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n.Size())
	if variance < 0.8 || variance > 1.2 {
		t.Fatalf("sample variance %g too far from 1", variance)
	}
}
