package state

import (
	"testing"

	"hyperevo/internal/tensor"
)

func TestValueKinds(t *testing.T) {
	if NewBuffer(tensor.Scalar(0)).Kind() != KindBuffer {
		t.Fatal("buffer kind")
	}
	if NewParameter(tensor.Scalar(0)).Kind() != KindParameter {
		t.Fatal("parameter kind")
	}
	key := NewRNGKey(5)
	if key.Kind() != KindRNGKey {
		t.Fatal("rng key kind")
	}
	if key.Get().Ndim() != 0 {
		t.Fatalf("rng key must be a scalar, got %v", key.Get().Shape())
	}
}

func TestValueSetGet(t *testing.T) {
	v := NewBuffer(tensor.Scalar(1))
	v.Set(tensor.Scalar(2))
	got, err := v.Get().Item()
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if got != 2 {
		t.Fatalf("value = %g, want 2", got)
	}
}

func TestStatePreservesInsertionOrder(t *testing.T) {
	s := New()
	s.Set("b", Entry{Tensor: tensor.Scalar(1), Kind: KindBuffer})
	s.Set("a", Entry{Tensor: tensor.Scalar(2), Kind: KindBuffer})
	s.Set("b", Entry{Tensor: tensor.Scalar(3), Kind: KindBuffer})

	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("keys = %v", keys)
	}
	e, ok := s.Get("b")
	if !ok {
		t.Fatal("missing key b")
	}
	if v, _ := e.Tensor.Item(); v != 3 {
		t.Fatalf("overwrite lost: b = %g", v)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New()
	s.Set("x", Entry{Tensor: tensor.Vector([]float64{1, 2}), Kind: KindBuffer})

	c := s.Clone()
	e, _ := c.Get("x")
	if err := e.Tensor.SetRow(0, tensor.Scalar(9)); err != nil {
		t.Fatalf("set row: %v", err)
	}

	orig, _ := s.Get("x")
	if orig.Tensor.Data()[0] != 1 {
		t.Fatal("clone shares tensor storage with the original")
	}
}

func TestUpdateRejectsUnknownKeys(t *testing.T) {
	s := New()
	s.Set("x", Entry{Tensor: tensor.Scalar(1), Kind: KindParameter})

	patch := New()
	patch.Set("x", Entry{Tensor: tensor.Scalar(5), Kind: KindParameter})
	if err := s.Update(patch); err != nil {
		t.Fatalf("update: %v", err)
	}
	e, _ := s.Get("x")
	if v, _ := e.Tensor.Item(); v != 5 {
		t.Fatalf("update lost: x = %g", v)
	}

	bad := New()
	bad.Set("y", Entry{Tensor: tensor.Scalar(0), Kind: KindBuffer})
	if err := s.Update(bad); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	s := New()
	s.Set("p1", Entry{Tensor: tensor.Scalar(1), Kind: KindParameter})
	s.Set("b", Entry{Tensor: tensor.Scalar(2), Kind: KindBuffer})
	s.Set("p2", Entry{Tensor: tensor.Scalar(3), Kind: KindParameter})

	params := s.Filter(func(_ string, e Entry) bool { return e.Kind == KindParameter })
	keys := params.Keys()
	if len(keys) != 2 || keys[0] != "p1" || keys[1] != "p2" {
		t.Fatalf("filtered keys = %v", keys)
	}
}
