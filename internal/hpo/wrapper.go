package hpo

import (
	"fmt"
	"slices"
	"sort"

	"hyperevo/internal/jit"
	"hyperevo/internal/module"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
	"hyperevo/internal/trace"
	"hyperevo/internal/vmap"
	"hyperevo/internal/workflow"
)

// Config controls how the wrapper executes its batched rollout.
type Config struct {
	// Workers bounds concurrent instances per batched step. Parallelism
	// beyond 1 needs Workflows, because a traced workflow is scratch
	// space for exactly one in-flight instance.
	Workers int
	// Workflows builds additional scratch workflows, structurally
	// identical to the one passed to Setup. Their live contents never
	// matter; state is installed before every traced step.
	Workflows func() (workflow.Workflow, error)
}

// ProblemWrapper exposes a whole workflow rollout as a black-box problem:
// Evaluate maps one hyperparameter set per instance to the best fitness
// each instance reached after the configured number of iterations.
//
// Setup freezes a snapshot of the workflow; evaluation runs against clones
// of that snapshot and never mutates the live workflow afterwards.
type ProblemWrapper struct {
	iterations   int
	numInstances int
	cfg          Config

	cache       *jit.Cache
	initState   *state.State
	step        *jit.Compiled
	initStep    *jit.Compiled
	readFitness *jit.CompiledEval
}

func NewProblemWrapper(iterations, numInstances int, cfg Config) (*ProblemWrapper, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("%w: iterations must be > 0, got %d", ErrConfig, iterations)
	}
	if numInstances <= 0 {
		return nil, fmt.Errorf("%w: num instances must be > 0, got %d", ErrConfig, numInstances)
	}
	return &ProblemWrapper{
		iterations:   iterations,
		numInstances: numInstances,
		cfg:          cfg,
		cache:        jit.NewCache(),
	}, nil
}

// Setup traces, batches, and compiles the workflow's step (and distinct
// init step, if any) plus a fitness readout over the monitor's resolved
// state keys. It must be called exactly once.
func (w *ProblemWrapper) Setup(wf workflow.Workflow) error {
	if w.initState != nil {
		return fmt.Errorf("%w: wrapper already set up", ErrConfig)
	}
	if wf == nil {
		return fmt.Errorf("%w: workflow is required", ErrConfig)
	}

	monModule, ok := module.Submodule(wf, "monitor")
	if !ok {
		return fmt.Errorf("%w: workflow has no \"monitor\" submodule", ErrConfig)
	}
	monitor, ok := monModule.(Monitor)
	if !ok {
		return fmt.Errorf("%w: monitor %T does not expose TellFitness", ErrConfig, monModule)
	}

	aliases, err := module.AliasKeys(wf, monModule)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	traced, err := trace.New(wf, wf.Step)
	if err != nil {
		return err
	}
	batched, err := vmap.Lift(traced, w.numInstances, vmap.Config{
		Workers: w.cfg.Workers,
		Scratch: w.scratchFactory(func(scratch workflow.Workflow) (*trace.Traced, error) {
			return trace.New(scratch, scratch.Step)
		}),
	})
	if err != nil {
		return err
	}
	initState, err := batched.InitState()
	if err != nil {
		return err
	}
	w.step, err = w.cache.GetOrCompile("step", batched.Step, initState)
	if err != nil {
		return err
	}

	w.readFitness, err = w.compileFitnessReader(monModule, monitor, aliases, initState)
	if err != nil {
		return err
	}

	// A workflow without a distinct one-time first step reuses the
	// ordinary compiled step for the first call.
	initStepper, ok := wf.(workflow.InitStepper)
	if !ok {
		w.initStep = w.step
		w.initState = initState
		return nil
	}

	tracedInit, err := trace.New(wf, initStepper.InitStep)
	if err != nil {
		return err
	}
	batchedInit, err := vmap.Lift(tracedInit, w.numInstances, vmap.Config{
		Workers: w.cfg.Workers,
		Scratch: w.scratchFactory(func(scratch workflow.Workflow) (*trace.Traced, error) {
			is, ok := scratch.(workflow.InitStepper)
			if !ok {
				return nil, fmt.Errorf("scratch workflow %T lacks the init step", scratch)
			}
			return trace.New(scratch, is.InitStep)
		}),
	})
	if err != nil {
		return err
	}
	w.initState, err = batchedInit.InitState()
	if err != nil {
		return err
	}
	w.initStep, err = w.cache.GetOrCompile("init_step", batchedInit.Step, w.initState)
	if err != nil {
		return err
	}
	return nil
}

func (w *ProblemWrapper) scratchFactory(bind func(workflow.Workflow) (*trace.Traced, error)) vmap.ScratchFactory {
	if w.cfg.Workflows == nil {
		return nil
	}
	return func() (*trace.Traced, error) {
		scratch, err := w.cfg.Workflows()
		if err != nil {
			return nil, err
		}
		return bind(scratch)
	}
}

// compileFitnessReader builds the pure readout: reconstruct the monitor's
// state per instance from the resolved keys, install it, and collect
// TellFitness into one row per instance.
func (w *ProblemWrapper) compileFitnessReader(monModule module.Module, monitor Monitor, aliases map[string]string, example *state.State) (*jit.CompiledEval, error) {
	rootKeys := make([]string, 0, len(aliases))
	for rk := range aliases {
		rootKeys = append(rootKeys, rk)
	}
	sort.Strings(rootKeys)

	tell, err := trace.NewWithOutput(monModule, monitor.TellFitness)
	if err != nil {
		return nil, err
	}
	monKeys := tell.Keys()

	read := func(s *state.State) (tensor.Tensor, error) {
		rows := make([]tensor.Tensor, w.numInstances)
		for i := 0; i < w.numInstances; i++ {
			monState := state.New()
			for _, rk := range rootKeys {
				e, ok := s.Get(rk)
				if !ok {
					return tensor.Tensor{}, fmt.Errorf("hpo: state missing resolved key %q", rk)
				}
				row, err := e.Tensor.Row(i)
				if err != nil {
					return tensor.Tensor{}, err
				}
				monState.Set(aliases[rk], state.Entry{Tensor: row, Kind: e.Kind})
			}
			// Reorder to the monitor's own snapshot order.
			ordered := state.New()
			for _, mk := range monKeys {
				e, ok := monState.Get(mk)
				if !ok {
					return tensor.Tensor{}, fmt.Errorf("hpo: resolved keys miss monitor entry %q", mk)
				}
				ordered.Set(mk, e)
			}
			_, fitness, err := tell.StepOutput(ordered)
			if err != nil {
				return tensor.Tensor{}, err
			}
			rows[i] = fitness
		}
		return tensor.Stack(rows)
	}
	return jit.CompileEval(read, example)
}

// Evaluate rolls every instance forward from the stored initial state with
// its hyperparameters injected, and returns the per-instance best fitness,
// shape [num_instances] (or [num_instances, num_objectives]).
func (w *ProblemWrapper) Evaluate(hyperParameters *state.State) (tensor.Tensor, error) {
	if w.initState == nil {
		return tensor.Tensor{}, fmt.Errorf("%w: wrapper is not set up", ErrConfig)
	}
	if hyperParameters == nil {
		hyperParameters = state.New()
	}
	for _, k := range hyperParameters.Keys() {
		supplied, _ := hyperParameters.Get(k)
		stored, ok := w.initState.Get(k)
		if !ok {
			return tensor.Tensor{}, fmt.Errorf("%w: %q is not a workflow state key", ErrConfig, k)
		}
		if stored.Kind != state.KindParameter {
			return tensor.Tensor{}, fmt.Errorf("%w: %q is a %s, not a parameter", ErrConfig, k, stored.Kind)
		}
		if supplied.Kind != state.KindParameter {
			return tensor.Tensor{}, fmt.Errorf("%w: supplied %q is a %s, not a parameter", ErrConfig, k, supplied.Kind)
		}
		if !slices.Equal(supplied.Tensor.Shape(), stored.Tensor.Shape()) {
			return tensor.Tensor{}, fmt.Errorf("%w: %q has shape %v, expected %v", ErrConfig, k, supplied.Tensor.Shape(), stored.Tensor.Shape())
		}
	}

	s := w.initState.Clone()
	if err := s.Update(hyperParameters); err != nil {
		return tensor.Tensor{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	s, err := w.initStep.Call(s)
	if err != nil {
		return tensor.Tensor{}, err
	}
	for i := 1; i < w.iterations; i++ {
		s, err = w.step.Call(s)
		if err != nil {
			return tensor.Tensor{}, err
		}
	}
	return w.readFitness.Call(s)
}

// InitState returns a clone of the stored batched initial state, for
// callers that want to inspect legal hyperparameter keys and shapes.
func (w *ProblemWrapper) InitState() *state.State {
	if w.initState == nil {
		return nil
	}
	return w.initState.Clone()
}

func (w *ProblemWrapper) NumInstances() int { return w.numInstances }

func (w *ProblemWrapper) Iterations() int { return w.iterations }

// ExtractParameters filters a state snapshot down to its learnable
// parameter entries, exactly the keys Evaluate accepts.
func ExtractParameters(s *state.State) *state.State {
	return s.Filter(func(_ string, e state.Entry) bool {
		return e.Kind == state.KindParameter
	})
}
