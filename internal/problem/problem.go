// Package problem provides benchmark evaluators and an environment-backed
// rollout evaluator. All problems minimize. Each problem counts its
// evaluation calls in a registered buffer, so the count travels with
// workflow state through tracing and batching.
package problem

import (
	"fmt"
	"math"

	"hyperevo/internal/module"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
)

// Sphere is sum(x^2) per candidate row.
type Sphere struct {
	module.Registry
	evals *state.Value
}

func NewSphere() *Sphere {
	s := &Sphere{}
	s.evals = s.RegisterBuffer("evals", tensor.Scalar(0))
	return s
}

func (s *Sphere) Evaluate(pop tensor.Tensor) (tensor.Tensor, error) {
	sq, err := pop.Mul(pop)
	if err != nil {
		return tensor.Tensor{}, err
	}
	s.evals.Set(s.evals.Get().AddScalar(1))
	return sq.SumLast()
}

// Rastrigin is the standard multimodal benchmark, zero at the origin.
type Rastrigin struct {
	module.Registry
	evals *state.Value
}

func NewRastrigin() *Rastrigin {
	r := &Rastrigin{}
	r.evals = r.RegisterBuffer("evals", tensor.Scalar(0))
	return r
}

func (r *Rastrigin) Evaluate(pop tensor.Tensor) (tensor.Tensor, error) {
	if pop.Ndim() < 1 {
		return tensor.Tensor{}, fmt.Errorf("rastrigin needs rank >= 1, got scalar")
	}
	dim := pop.Shape()[pop.Ndim()-1]
	terms := pop.Apply(func(x float64) float64 {
		return x*x - 10*math.Cos(2*math.Pi*x)
	})
	sum, err := terms.SumLast()
	if err != nil {
		return tensor.Tensor{}, err
	}
	r.evals.Set(r.evals.Get().AddScalar(1))
	return sum.AddScalar(10 * float64(dim)), nil
}
