package hpo

import (
	"errors"
	"math"
	"testing"

	"hyperevo/internal/module"
	"hyperevo/internal/problem"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
	"hyperevo/internal/workflow"
)

// descender shrinks a scalar position by a tunable rate each generation and
// scores it through the evaluator, so the best reachable fitness is a
// closed-form function of the rate.
type descender struct {
	module.Registry
	rate *state.Value
	pos  *state.Value
}

func newDescender(start, rate float64) *descender {
	d := &descender{}
	d.rate = d.RegisterParameter("rate", tensor.Scalar(rate))
	d.pos = d.RegisterBuffer("pos", tensor.Vector([]float64{start}))
	return d
}

func (d *descender) Step(eval workflow.EvalFn) error {
	r, err := d.rate.Get().Item()
	if err != nil {
		return err
	}
	p := d.pos.Get().Data()[0] * (1 - r)
	d.pos.Set(tensor.Vector([]float64{p}))

	pop, err := tensor.New([]int{1, 1}, []float64{p})
	if err != nil {
		return err
	}
	_, err = eval(pop)
	return err
}

func descenderWorkflow(t *testing.T, start, rate float64) *workflow.StdWorkflow {
	t.Helper()
	wf, err := workflow.NewStdWorkflow(newDescender(start, rate), problem.NewSphere(), NewFitnessMonitor())
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	return wf
}

// expectedBest is the monitor's value after iters descender generations.
func expectedBest(start, rate float64, iters int) float64 {
	p := start * math.Pow(1-rate, float64(iters))
	return p * p
}

func TestEvaluateMatchesClosedForm(t *testing.T) {
	const (
		iterations   = 9
		numInstances = 7
		start        = 2.0
	)
	w, err := NewProblemWrapper(iterations, numInstances, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	if err := w.Setup(descenderWorkflow(t, start, 0.5)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	rates := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	params := state.New()
	params.Set("algorithm.rate", state.Entry{Tensor: tensor.Vector(rates), Kind: state.KindParameter})

	fitness, err := w.Evaluate(params)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fitness.Ndim() != 1 || fitness.Shape()[0] != numInstances {
		t.Fatalf("fitness shape = %v, want [%d]", fitness.Shape(), numInstances)
	}
	for i, got := range fitness.Data() {
		want := expectedBest(start, rates[i], iterations)
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("instance %d: fitness %g, want %g", i, got, want)
		}
	}
}

func TestEvaluateWithoutOverridesUsesStoredParameters(t *testing.T) {
	w, err := NewProblemWrapper(4, 3, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	if err := w.Setup(descenderWorkflow(t, 2.0, 0.25)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	fitness, err := w.Evaluate(nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := expectedBest(2.0, 0.25, 4)
	for i, got := range fitness.Data() {
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("instance %d: fitness %g, want %g", i, got, want)
		}
	}
}

func TestSingleInstanceReproducesBatchEntry(t *testing.T) {
	const iterations = 6
	batch, err := NewProblemWrapper(iterations, 5, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	if err := batch.Setup(descenderWorkflow(t, 1.5, 0.5)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	rates := []float64{0.15, 0.3, 0.45, 0.6, 0.75}
	params := state.New()
	params.Set("algorithm.rate", state.Entry{Tensor: tensor.Vector(rates), Kind: state.KindParameter})
	batched, err := batch.Evaluate(params)
	if err != nil {
		t.Fatalf("batched evaluate: %v", err)
	}

	single, err := NewProblemWrapper(iterations, 1, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	if err := single.Setup(descenderWorkflow(t, 1.5, 0.5)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	soloParams := state.New()
	soloParams.Set("algorithm.rate", state.Entry{Tensor: tensor.Vector(rates[:1]), Kind: state.KindParameter})
	solo, err := single.Evaluate(soloParams)
	if err != nil {
		t.Fatalf("single evaluate: %v", err)
	}

	if math.Abs(batched.Data()[0]-solo.Data()[0]) > 1e-12 {
		t.Fatalf("instance 0: batched %g, single %g", batched.Data()[0], solo.Data()[0])
	}
}

func TestEvaluateIsRepeatable(t *testing.T) {
	w, err := NewProblemWrapper(5, 4, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	if err := w.Setup(descenderWorkflow(t, 2.0, 0.4)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	first, err := w.Evaluate(nil)
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := w.Evaluate(nil)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if !first.Equal(second) {
		t.Fatal("repeated evaluation must reproduce the same fitness")
	}
}

func TestParallelEvaluationMatchesSerial(t *testing.T) {
	build := func(workers int) *ProblemWrapper {
		w, err := NewProblemWrapper(7, 6, Config{
			Workers: workers,
			Workflows: func() (workflow.Workflow, error) {
				return workflow.NewStdWorkflow(newDescender(2.0, 0.5), problem.NewSphere(), NewFitnessMonitor())
			},
		})
		if err != nil {
			t.Fatalf("new wrapper: %v", err)
		}
		if err := w.Setup(descenderWorkflow(t, 2.0, 0.5)); err != nil {
			t.Fatalf("setup: %v", err)
		}
		return w
	}

	rates := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	params := state.New()
	params.Set("algorithm.rate", state.Entry{Tensor: tensor.Vector(rates), Kind: state.KindParameter})

	serial, err := build(1).Evaluate(params)
	if err != nil {
		t.Fatalf("serial evaluate: %v", err)
	}
	parallel, err := build(4).Evaluate(params)
	if err != nil {
		t.Fatalf("parallel evaluate: %v", err)
	}
	if !serial.Equal(parallel) {
		t.Fatalf("parallel fitness %v diverged from serial %v", parallel.Data(), serial.Data())
	}
}

// warmStartWorkflow runs two generations on its first step.
type warmStartWorkflow struct {
	*workflow.StdWorkflow
}

func (w *warmStartWorkflow) InitStep() error {
	if err := w.Step(); err != nil {
		return err
	}
	return w.Step()
}

func TestDistinctInitStepRunsOnce(t *testing.T) {
	const (
		iterations = 3
		start      = 2.0
		rate       = 0.5
	)
	w, err := NewProblemWrapper(iterations, 2, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	wf := &warmStartWorkflow{StdWorkflow: descenderWorkflow(t, start, rate)}
	if err := w.Setup(wf); err != nil {
		t.Fatalf("setup: %v", err)
	}

	fitness, err := w.Evaluate(nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// First call covers two generations, the remaining iterations-1 calls
	// one generation each.
	want := expectedBest(start, rate, iterations+1)
	for i, got := range fitness.Data() {
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("instance %d: fitness %g, want %g", i, got, want)
		}
	}
}

func TestWrapperValidatesConfig(t *testing.T) {
	if _, err := NewProblemWrapper(0, 3, Config{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero iterations, got %v", err)
	}
	if _, err := NewProblemWrapper(3, 0, Config{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero instances, got %v", err)
	}
}

func TestSetupRequiresMonitor(t *testing.T) {
	w, err := NewProblemWrapper(3, 2, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	bare, err := workflow.NewStdWorkflow(newDescender(1, 0.5), problem.NewSphere(), nil)
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	if err := w.Setup(bare); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for missing monitor, got %v", err)
	}
}

func TestSetupIsSingleUse(t *testing.T) {
	w, err := NewProblemWrapper(3, 2, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	if err := w.Setup(descenderWorkflow(t, 1, 0.5)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := w.Setup(descenderWorkflow(t, 1, 0.5)); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for second setup, got %v", err)
	}
}

func TestEvaluateRejectsBadHyperparameters(t *testing.T) {
	w, err := NewProblemWrapper(3, 2, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}

	if _, err := w.Evaluate(nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig before setup, got %v", err)
	}

	if err := w.Setup(descenderWorkflow(t, 1, 0.5)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	unknown := state.New()
	unknown.Set("algorithm.nope", state.Entry{Tensor: tensor.Vector([]float64{1, 2}), Kind: state.KindParameter})
	if _, err := w.Evaluate(unknown); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown key, got %v", err)
	}

	buffer := state.New()
	buffer.Set("algorithm.pos", state.Entry{Tensor: tensor.Zeros(2, 1), Kind: state.KindParameter})
	if _, err := w.Evaluate(buffer); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for non-parameter key, got %v", err)
	}

	wrongShape := state.New()
	wrongShape.Set("algorithm.rate", state.Entry{Tensor: tensor.Vector([]float64{0.1, 0.2, 0.3}), Kind: state.KindParameter})
	if _, err := w.Evaluate(wrongShape); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for wrong shape, got %v", err)
	}
}

func TestExtractParameters(t *testing.T) {
	w, err := NewProblemWrapper(3, 4, Config{})
	if err != nil {
		t.Fatalf("new wrapper: %v", err)
	}
	if err := w.Setup(descenderWorkflow(t, 1, 0.5)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	params := ExtractParameters(w.InitState())
	keys := params.Keys()
	if len(keys) != 1 || keys[0] != "algorithm.rate" {
		t.Fatalf("parameter keys = %v", keys)
	}
	e, _ := params.Get("algorithm.rate")
	if e.Tensor.Shape()[0] != 4 {
		t.Fatalf("batched parameter shape = %v", e.Tensor.Shape())
	}
}
