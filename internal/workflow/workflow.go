// Package workflow composes an algorithm, a problem evaluator, and an
// optional monitor into a steppable unit. One Step advances the algorithm
// by a generation; the algorithm scores candidate populations through an
// evaluator closure that routes fitness through the problem and the
// monitor.
package workflow

import (
	"fmt"

	"hyperevo/internal/module"
	"hyperevo/internal/tensor"
)

// EvalFn scores a population, one fitness row per candidate.
type EvalFn func(pop tensor.Tensor) (tensor.Tensor, error)

// Algorithm is a population-based optimizer. Step draws the next
// population, scores it through eval, and updates the algorithm's own
// handles. All mutation must flow through registered handles so the step
// can be traced.
type Algorithm interface {
	module.Module
	Step(eval EvalFn) error
}

// Problem evaluates candidate solutions. Rows of pop are candidates; the
// result carries one fitness value (or objective vector) per row.
type Problem interface {
	module.Module
	Evaluate(pop tensor.Tensor) (tensor.Tensor, error)
}

// Monitor observes fitness as it is produced. PreTell runs inside the
// workflow's evaluator, before fitness reaches the algorithm.
type Monitor interface {
	module.Module
	PreTell(fitness tensor.Tensor) error
}

// Workflow is the steppable composition the tracer and the HPO wrapper
// consume.
type Workflow interface {
	module.Module
	Step() error
}

// InitStepper marks a workflow with a distinct one-time first step. A
// workflow that does not implement it uses the ordinary step for the
// first call too.
type InitStepper interface {
	InitStep() error
}

// StdWorkflow is the standard composition. Submodules are registered as
// "algorithm", "problem" and "monitor".
type StdWorkflow struct {
	module.Registry
	algorithm Algorithm
	problem   Problem
	monitor   Monitor
}

func NewStdWorkflow(algorithm Algorithm, problem Problem, monitor Monitor) (*StdWorkflow, error) {
	if algorithm == nil {
		return nil, fmt.Errorf("workflow: algorithm is required")
	}
	if problem == nil {
		return nil, fmt.Errorf("workflow: problem is required")
	}
	w := &StdWorkflow{algorithm: algorithm, problem: problem, monitor: monitor}
	w.RegisterModule("algorithm", algorithm)
	w.RegisterModule("problem", problem)
	if monitor != nil {
		w.RegisterModule("monitor", monitor)
	}
	return w, nil
}

func (w *StdWorkflow) Step() error {
	return w.algorithm.Step(w.evaluate)
}

func (w *StdWorkflow) evaluate(pop tensor.Tensor) (tensor.Tensor, error) {
	fitness, err := w.problem.Evaluate(pop)
	if err != nil {
		return tensor.Tensor{}, err
	}
	if w.monitor != nil {
		if err := w.monitor.PreTell(fitness); err != nil {
			return tensor.Tensor{}, err
		}
	}
	return fitness, nil
}

func (w *StdWorkflow) Monitor() Monitor {
	return w.monitor
}
