package problem

import (
	"fmt"

	"hyperevo/internal/env"
	"hyperevo/internal/module"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
)

// EnvRollout scores candidates as linear control policies against an
// episodic environment. Each candidate row is a weight matrix, flattened
// action-major: action_j = sum_k(w[j*obs+k] * obs_k). Fitness is the
// negated average step reward, so lower is better like every other
// problem here.
type EnvRollout struct {
	module.Registry
	factory  func() env.Env
	steps    int
	obsSize  int
	actSize  int
	episodes *state.Value
}

type EnvRolloutConfig struct {
	// Factory builds a fresh environment per candidate evaluation.
	Factory func() env.Env
	// Steps bounds each episode. Defaults to the environment's own limit.
	Steps int
}

func NewEnvRollout(cfg EnvRolloutConfig) (*EnvRollout, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("env rollout: environment factory is required")
	}
	probe := cfg.Factory()
	if probe == nil {
		return nil, fmt.Errorf("env rollout: environment factory returned nil")
	}
	r := &EnvRollout{
		factory: cfg.Factory,
		steps:   cfg.Steps,
		obsSize: probe.ObsSize(),
		actSize: probe.ActionSize(),
	}
	if r.obsSize <= 0 || r.actSize <= 0 {
		return nil, fmt.Errorf("env rollout: environment reports obs=%d act=%d sizes", r.obsSize, r.actSize)
	}
	r.episodes = r.RegisterBuffer("episodes", tensor.Scalar(0))
	return r, nil
}

// WeightCount is the candidate dimension the rollout expects.
func (r *EnvRollout) WeightCount() int {
	return r.obsSize * r.actSize
}

func (r *EnvRollout) Evaluate(pop tensor.Tensor) (tensor.Tensor, error) {
	if pop.Ndim() != 2 {
		return tensor.Tensor{}, fmt.Errorf("env rollout: population must be rank 2, got shape %v", pop.Shape())
	}
	rows, dim := pop.Shape()[0], pop.Shape()[1]
	if dim != r.WeightCount() {
		return tensor.Tensor{}, fmt.Errorf("env rollout: candidate dimension %d, policy needs %d", dim, r.WeightCount())
	}

	fitness := make([]float64, rows)
	for i := 0; i < rows; i++ {
		weights, err := pop.Row(i)
		if err != nil {
			return tensor.Tensor{}, err
		}
		fitness[i] = -r.rollout(weights.Data())
	}
	r.episodes.Set(r.episodes.Get().AddScalar(float64(rows)))
	return tensor.Vector(fitness), nil
}

func (r *EnvRollout) rollout(weights []float64) float64 {
	e := r.factory()
	obs := e.Reset()
	total := 0.0
	steps := 0
	for {
		if r.steps > 0 && steps >= r.steps {
			break
		}
		action := make([]float64, r.actSize)
		for j := 0; j < r.actSize; j++ {
			for k := 0; k < r.obsSize && k < len(obs); k++ {
				action[j] += weights[j*r.obsSize+k] * obs[k]
			}
		}
		next, reward, done := e.Step(action)
		total += reward
		steps++
		obs = next
		if done {
			break
		}
	}
	if steps == 0 {
		return 0
	}
	return total / float64(steps)
}
