package hpo

import (
	"errors"
	"math"
	"testing"

	"hyperevo/internal/tensor"
)

func bestOf(t *testing.T, m *FitnessMonitor) float64 {
	t.Helper()
	best, err := m.TellFitness()
	if err != nil {
		t.Fatalf("tell fitness: %v", err)
	}
	v, err := best.Item()
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	return v
}

func TestBestFitnessStartsAtInfinity(t *testing.T) {
	m := NewFitnessMonitor()
	if !math.IsInf(bestOf(t, m), 1) {
		t.Fatalf("initial best = %g, want +Inf", bestOf(t, m))
	}
}

func TestBestFitnessIsMonotone(t *testing.T) {
	m := NewFitnessMonitor()
	batches := [][]float64{
		{5, 3, 8},
		{4, 6},
		{9, 9},
		{2},
	}
	want := []float64{3, 3, 3, 2}
	for i, batch := range batches {
		if err := m.PreTell(tensor.Vector(batch)); err != nil {
			t.Fatalf("pre tell %d: %v", i, err)
		}
		if got := bestOf(t, m); got != want[i] {
			t.Fatalf("after batch %d best = %g, want %g", i, got, want[i])
		}
	}
}

func TestHypervolumeTwoObjectives(t *testing.T) {
	m := NewHypervolumeMonitor(2, 2)
	front, err := tensor.New([]int{2, 2}, []float64{
		0, 1,
		1, 0,
	})
	if err != nil {
		t.Fatalf("new front: %v", err)
	}
	if err := m.PreTell(front); err != nil {
		t.Fatalf("pre tell: %v", err)
	}
	// Staircase area: (2-0)*(2-1) + (2-1)*(1-0) = 3, negated for minimization.
	if got := bestOf(t, m); got != -3 {
		t.Fatalf("best = %g, want -3", got)
	}
}

func TestHypervolumeIgnoresDominatedPoints(t *testing.T) {
	m := NewHypervolumeMonitor(2, 2)
	front, err := tensor.New([]int{3, 2}, []float64{
		0, 1,
		1, 0,
		1.5, 1.5, // dominated
	})
	if err != nil {
		t.Fatalf("new front: %v", err)
	}
	if err := m.PreTell(front); err != nil {
		t.Fatalf("pre tell: %v", err)
	}
	if got := bestOf(t, m); got != -3 {
		t.Fatalf("best = %g, want -3", got)
	}
}

func TestHypervolumeEmptyFront(t *testing.T) {
	m := NewHypervolumeMonitor(1, 1)
	front, err := tensor.New([]int{1, 2}, []float64{5, 5})
	if err != nil {
		t.Fatalf("new front: %v", err)
	}
	if err := m.PreTell(front); err != nil {
		t.Fatalf("pre tell: %v", err)
	}
	if got := bestOf(t, m); got != 0 {
		t.Fatalf("best = %g, want 0 for empty dominated region", got)
	}
}

func TestMultiObjectiveWithoutReferenceFails(t *testing.T) {
	m := NewFitnessMonitor()
	front := tensor.Zeros(3, 2)
	if err := m.PreTell(front); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestThreeObjectivesRejected(t *testing.T) {
	m := NewHypervolumeMonitor(1, 1)
	front := tensor.Zeros(3, 3)
	if err := m.PreTell(front); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
