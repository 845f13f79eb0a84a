// Package algo provides population-based optimizers that express all
// mutation through registered state handles, which makes their Step
// procedures traceable and batchable. Search-control quantities that a
// meta-optimizer may tune are registered as parameters; working buffers
// and RNG keys are not.
package algo

import (
	"fmt"

	"hyperevo/internal/module"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
	"hyperevo/internal/workflow"
)

// RandomSearch resamples the population uniformly inside learnable bounds
// every generation. The bounds lb/ub are its parameters: tightening them
// around an optimum is exactly the kind of adjustment hyperparameter
// optimization discovers.
type RandomSearch struct {
	module.Registry
	popSize int
	dim     int

	lb  *state.Value
	ub  *state.Value
	pop *state.Value
	fit *state.Value
	key *state.Value
}

type RandomSearchConfig struct {
	PopSize    int
	LowerBound tensor.Tensor
	UpperBound tensor.Tensor
	Seed       uint64
}

func NewRandomSearch(cfg RandomSearchConfig) (*RandomSearch, error) {
	if cfg.PopSize <= 0 {
		return nil, fmt.Errorf("random search: population size must be > 0, got %d", cfg.PopSize)
	}
	if cfg.LowerBound.Ndim() != 1 || cfg.UpperBound.Ndim() != 1 {
		return nil, fmt.Errorf("random search: bounds must be rank 1, got %v and %v", cfg.LowerBound.Shape(), cfg.UpperBound.Shape())
	}
	if cfg.LowerBound.Shape()[0] != cfg.UpperBound.Shape()[0] {
		return nil, fmt.Errorf("random search: bound shapes differ: %v vs %v", cfg.LowerBound.Shape(), cfg.UpperBound.Shape())
	}
	dim := cfg.LowerBound.Shape()[0]

	r := &RandomSearch{popSize: cfg.PopSize, dim: dim}
	r.lb = r.RegisterParameter("lb", cfg.LowerBound.Clone())
	r.ub = r.RegisterParameter("ub", cfg.UpperBound.Clone())
	r.pop = r.RegisterBuffer("pop", tensor.Zeros(cfg.PopSize, dim))
	r.fit = r.RegisterBuffer("fit", tensor.Full(0, cfg.PopSize))
	r.key = r.RegisterRNGKey("key", cfg.Seed)
	return r, nil
}

func (r *RandomSearch) Step(eval workflow.EvalFn) error {
	sub, next, err := tensor.Split(r.key.Get())
	if err != nil {
		return err
	}
	u, err := tensor.Uniform(sub, 0, 1, r.popSize, r.dim)
	if err != nil {
		return err
	}
	span, err := r.ub.Get().Sub(r.lb.Get())
	if err != nil {
		return err
	}
	pop, err := u.MulRow(span)
	if err != nil {
		return err
	}
	pop, err = pop.AddRow(r.lb.Get())
	if err != nil {
		return err
	}

	fit, err := eval(pop)
	if err != nil {
		return err
	}
	if fit.Ndim() < 1 || fit.Shape()[0] != r.popSize {
		return fmt.Errorf("random search: fitness shape %v does not cover population of %d", fit.Shape(), r.popSize)
	}

	r.pop.Set(pop)
	r.fit.Set(fit)
	r.key.Set(next)
	return nil
}

// Fitness returns the fitness of the most recent generation.
func (r *RandomSearch) Fitness() tensor.Tensor {
	return r.fit.Get()
}
