package workflow

import (
	"errors"
	"testing"

	"hyperevo/internal/module"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
)

// fixedAlgo proposes the same population every generation and records the
// fitness it gets back.
type fixedAlgo struct {
	module.Registry
	pop  tensor.Tensor
	last *state.Value
}

func newFixedAlgo(pop tensor.Tensor) *fixedAlgo {
	a := &fixedAlgo{pop: pop}
	a.last = a.RegisterBuffer("last", tensor.Full(0, pop.Shape()[0]))
	return a
}

func (a *fixedAlgo) Step(eval EvalFn) error {
	fit, err := eval(a.pop)
	if err != nil {
		return err
	}
	a.last.Set(fit)
	return nil
}

type sumProblem struct {
	module.Registry
	calls *state.Value
}

func newSumProblem() *sumProblem {
	p := &sumProblem{}
	p.calls = p.RegisterBuffer("calls", tensor.Scalar(0))
	return p
}

func (p *sumProblem) Evaluate(pop tensor.Tensor) (tensor.Tensor, error) {
	p.calls.Set(p.calls.Get().AddScalar(1))
	return pop.SumLast()
}

type recordingMonitor struct {
	module.Registry
	seen *state.Value
}

func newRecordingMonitor() *recordingMonitor {
	m := &recordingMonitor{}
	m.seen = m.RegisterBuffer("seen", tensor.Scalar(0))
	return m
}

func (m *recordingMonitor) PreTell(fitness tensor.Tensor) error {
	m.seen.Set(tensor.Scalar(fitness.MinAll()))
	return nil
}

func testPopulation(t *testing.T) tensor.Tensor {
	t.Helper()
	pop, err := tensor.New([]int{2, 2}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("new population: %v", err)
	}
	return pop
}

func TestStepRoutesFitnessThroughMonitor(t *testing.T) {
	algo := newFixedAlgo(testPopulation(t))
	prob := newSumProblem()
	mon := newRecordingMonitor()

	wf, err := NewStdWorkflow(algo, prob, mon)
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	if err := wf.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	if v := algo.last.Get().Data(); v[0] != 3 || v[1] != 7 {
		t.Fatalf("algorithm fitness = %v", v)
	}
	if v, _ := mon.seen.Get().Item(); v != 3 {
		t.Fatalf("monitor saw %g, want 3", v)
	}
	if v, _ := prob.calls.Get().Item(); v != 1 {
		t.Fatalf("problem called %g times", v)
	}
}

func TestMonitorIsOptional(t *testing.T) {
	wf, err := NewStdWorkflow(newFixedAlgo(testPopulation(t)), newSumProblem(), nil)
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	if err := wf.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if wf.Monitor() != nil {
		t.Fatal("monitor accessor should be nil")
	}
	if _, ok := module.Submodule(wf, "monitor"); ok {
		t.Fatal("nil monitor must not be registered")
	}
}

func TestWorkflowRequiresAlgorithmAndProblem(t *testing.T) {
	if _, err := NewStdWorkflow(nil, newSumProblem(), nil); err == nil {
		t.Fatal("expected error for nil algorithm")
	}
	if _, err := NewStdWorkflow(newFixedAlgo(testPopulation(t)), nil, nil); err == nil {
		t.Fatal("expected error for nil problem")
	}
}

type failingMonitor struct {
	module.Registry
}

func (m *failingMonitor) PreTell(tensor.Tensor) error {
	return errors.New("monitor rejected fitness")
}

func TestMonitorErrorStopsStep(t *testing.T) {
	mon := &failingMonitor{}
	mon.RegisterBuffer("pad", tensor.Scalar(0))
	wf, err := NewStdWorkflow(newFixedAlgo(testPopulation(t)), newSumProblem(), mon)
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	if err := wf.Step(); err == nil {
		t.Fatal("expected monitor error to propagate")
	}
}

func TestWorkflowStateKeys(t *testing.T) {
	wf, err := NewStdWorkflow(newFixedAlgo(testPopulation(t)), newSumProblem(), newRecordingMonitor())
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	keys, _, err := module.Flatten(wf)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	want := []string{"algorithm.last", "monitor.seen", "problem.calls"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}
