package algo

import (
	"fmt"
	"math"

	"hyperevo/internal/module"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
	"hyperevo/internal/workflow"
)

// OpenES is an isotropic-Gaussian evolution strategy: sample around a
// center, score, move the center against the fitness-weighted noise.
// Learning rate and noise scale are parameters, so the HPO wrapper can
// tune them; the center and working buffers are not.
type OpenES struct {
	module.Registry
	popSize int
	dim     int

	center *state.Value
	lr     *state.Value
	sigma  *state.Value
	pop    *state.Value
	fit    *state.Value
	key    *state.Value
}

type OpenESConfig struct {
	PopSize      int
	Center       tensor.Tensor
	LearningRate float64
	Sigma        float64
	Seed         uint64
}

func NewOpenES(cfg OpenESConfig) (*OpenES, error) {
	if cfg.PopSize <= 1 {
		return nil, fmt.Errorf("open-es: population size must be > 1, got %d", cfg.PopSize)
	}
	if cfg.Center.Ndim() != 1 {
		return nil, fmt.Errorf("open-es: center must be rank 1, got %v", cfg.Center.Shape())
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("open-es: learning rate must be > 0, got %g", cfg.LearningRate)
	}
	if cfg.Sigma <= 0 {
		return nil, fmt.Errorf("open-es: sigma must be > 0, got %g", cfg.Sigma)
	}
	dim := cfg.Center.Shape()[0]

	e := &OpenES{popSize: cfg.PopSize, dim: dim}
	e.center = e.RegisterBuffer("center", cfg.Center.Clone())
	e.lr = e.RegisterParameter("lr", tensor.Scalar(cfg.LearningRate))
	e.sigma = e.RegisterParameter("sigma", tensor.Scalar(cfg.Sigma))
	e.pop = e.RegisterBuffer("pop", tensor.Zeros(cfg.PopSize, dim))
	e.fit = e.RegisterBuffer("fit", tensor.Full(0, cfg.PopSize))
	e.key = e.RegisterRNGKey("key", cfg.Seed)
	return e, nil
}

func (e *OpenES) Step(eval workflow.EvalFn) error {
	sub, next, err := tensor.Split(e.key.Get())
	if err != nil {
		return err
	}
	noise, err := tensor.Normal(sub, e.popSize, e.dim)
	if err != nil {
		return err
	}
	sigma, err := e.sigma.Get().Item()
	if err != nil {
		return fmt.Errorf("open-es: sigma: %w", err)
	}
	lr, err := e.lr.Get().Item()
	if err != nil {
		return fmt.Errorf("open-es: lr: %w", err)
	}
	if sigma <= 0 || math.IsNaN(sigma) {
		return fmt.Errorf("open-es: invalid sigma %g", sigma)
	}

	pop, err := noise.MulScalar(sigma).AddRow(e.center.Get())
	if err != nil {
		return err
	}
	fit, err := eval(pop)
	if err != nil {
		return err
	}
	if fit.Ndim() != 1 || fit.Shape()[0] != e.popSize {
		return fmt.Errorf("open-es: fitness shape %v does not cover population of %d", fit.Shape(), e.popSize)
	}

	// Score-function gradient estimate on centered fitness; descend, since
	// problems minimize.
	centered := fit.AddScalar(-fit.MeanAll())
	grad, err := noise.WeightedColumnSum(centered)
	if err != nil {
		return err
	}
	grad = grad.MulScalar(1 / (float64(e.popSize) * sigma))
	center, err := e.center.Get().Sub(grad.MulScalar(lr))
	if err != nil {
		return err
	}

	e.center.Set(center)
	e.pop.Set(pop)
	e.fit.Set(fit)
	e.key.Set(next)
	return nil
}

func (e *OpenES) Fitness() tensor.Tensor {
	return e.fit.Get()
}

// Center returns the current search distribution mean.
func (e *OpenES) Center() tensor.Tensor {
	return e.center.Get()
}
