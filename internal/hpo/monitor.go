// Package hpo turns an arbitrary traced workflow into a black-box problem
// over its own hyperparameters: batch num-instances replicas of the
// workflow, roll them forward a fixed number of iterations, and read one
// best-fitness value per instance out of the final batched state.
package hpo

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"hyperevo/internal/module"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
	"hyperevo/internal/workflow"
)

// ErrConfig marks unrecoverable configuration errors raised at Setup or at
// the start of Evaluate.
var ErrConfig = errors.New("hpo: configuration error")

// Monitor is the capability set the wrapper needs from a workflow's
// monitor: the usual PreTell feed plus the ability to report the best
// fitness found so far.
type Monitor interface {
	workflow.Monitor
	TellFitness() (tensor.Tensor, error)
}

// FitnessMonitor tracks the best (lowest) fitness seen. For
// two-objective fitness it tracks the negated exclusive hypervolume
// against a reference point, so TellFitness always yields a scalar to
// minimize. Fitness with three or more objectives is rejected; pick a
// different indicator and wire it here if that case ever matters.
type FitnessMonitor struct {
	module.Registry
	best *state.Value
	ref  []float64
}

// NewFitnessMonitor builds a single-objective monitor. The best fitness
// starts at +Inf and only ever decreases.
func NewFitnessMonitor() *FitnessMonitor {
	m := &FitnessMonitor{}
	m.best = m.RegisterBuffer("best_fitness", tensor.Scalar(math.Inf(1)))
	return m
}

// NewHypervolumeMonitor builds a two-objective monitor scoring fronts by
// exclusive hypervolume against the reference point (ref0, ref1). The
// reference must dominate no feasible point, i.e. sit beyond the worst
// acceptable value in both objectives.
func NewHypervolumeMonitor(ref0, ref1 float64) *FitnessMonitor {
	m := &FitnessMonitor{ref: []float64{ref0, ref1}}
	m.best = m.RegisterBuffer("best_fitness", tensor.Scalar(math.Inf(1)))
	return m
}

func (m *FitnessMonitor) PreTell(fitness tensor.Tensor) error {
	switch {
	case fitness.Ndim() == 1:
		current, err := m.best.Get().Item()
		if err != nil {
			return err
		}
		m.best.Set(tensor.Scalar(math.Min(current, fitness.MinAll())))
		return nil
	case fitness.Ndim() == 2 && fitness.Shape()[1] == 2 && m.ref != nil:
		hv := hypervolume2(fitness, m.ref[0], m.ref[1])
		current, err := m.best.Get().Item()
		if err != nil {
			return err
		}
		m.best.Set(tensor.Scalar(math.Min(current, -hv)))
		return nil
	case fitness.Ndim() == 2 && m.ref == nil:
		return fmt.Errorf("%w: multi-objective fitness needs a hypervolume monitor", ErrConfig)
	default:
		return fmt.Errorf("%w: unsupported fitness shape %v", ErrConfig, fitness.Shape())
	}
}

func (m *FitnessMonitor) TellFitness() (tensor.Tensor, error) {
	return m.best.Get(), nil
}

// hypervolume2 computes the area dominated by the nondominated subset of a
// [n, 2] minimization front, bounded by the reference point.
func hypervolume2(front tensor.Tensor, ref0, ref1 float64) float64 {
	n := front.Shape()[0]
	data := front.Data()
	type point struct{ f0, f1 float64 }
	points := make([]point, 0, n)
	for i := 0; i < n; i++ {
		f0, f1 := data[2*i], data[2*i+1]
		if f0 >= ref0 || f1 >= ref1 {
			continue
		}
		points = append(points, point{f0, f1})
	}
	if len(points) == 0 {
		return 0
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].f0 == points[j].f0 {
			return points[i].f1 < points[j].f1
		}
		return points[i].f0 < points[j].f0
	})

	area := 0.0
	ceiling := ref1
	for _, p := range points {
		if p.f1 >= ceiling {
			continue // dominated by an earlier point
		}
		area += (ref0 - p.f0) * (ceiling - p.f1)
		ceiling = p.f1
	}
	return area
}
