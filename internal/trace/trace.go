// Package trace converts an object's in-place mutating procedure into a
// pure state-transition function. The object stays around as scratch
// space: a traced call installs the input state into the object's handles,
// runs the procedure, snapshots the result, and restores the handles, so
// an isolated call leaves the object externally unchanged.
package trace

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"hyperevo/internal/module"
	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
)

var (
	// ErrStateMismatch reports an input state whose keys or kinds diverge
	// from the captured snapshot.
	ErrStateMismatch = errors.New("trace: state does not match captured snapshot")
	// ErrNewHandle reports a procedure that registered attributes outside
	// the captured snapshot.
	ErrNewHandle = errors.New("trace: step mutated attributes outside captured snapshot")
)

// StepFunc is a zero-argument bound mutating procedure.
type StepFunc func() error

// OutputStepFunc is a mutating procedure that also returns a value.
type OutputStepFunc func() (tensor.Tensor, error)

// Traced is the pure form of one object's procedure. Concurrent Step calls
// share the object as scratch space and are serialized internally; for
// parallel execution use independent objects (see vmap.Config).
type Traced struct {
	mu      sync.Mutex
	root    module.Module
	step    StepFunc
	output  OutputStepFunc
	keys    []string
	handles map[string]*state.Value
}

// New traces a procedure bound to root. Every attribute the procedure
// mutates must be reachable from root's handle tree at this point.
func New(root module.Module, step StepFunc) (*Traced, error) {
	if step == nil {
		return nil, fmt.Errorf("trace: step procedure is required")
	}
	return capture(root, step, nil)
}

// NewWithOutput traces a value-returning procedure bound to root.
func NewWithOutput(root module.Module, step OutputStepFunc) (*Traced, error) {
	if step == nil {
		return nil, fmt.Errorf("trace: step procedure is required")
	}
	return capture(root, nil, step)
}

func capture(root module.Module, step StepFunc, output OutputStepFunc) (*Traced, error) {
	keys, handles, err := module.Flatten(root)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("trace: object exposes no state handles")
	}
	return &Traced{root: root, step: step, output: output, keys: keys, handles: handles}, nil
}

// Keys returns the captured state keys in snapshot order.
func (t *Traced) Keys() []string {
	return append([]string(nil), t.keys...)
}

// InitState snapshots the object's current handle contents. With clone set
// the returned tensors share no storage with the live object.
func (t *Traced) InitState(clone bool) *state.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(clone)
}

func (t *Traced) snapshot(clone bool) *state.State {
	s := state.New()
	for _, k := range t.keys {
		h := t.handles[k]
		v := h.Get()
		if clone {
			v = v.Clone()
		}
		s.Set(k, state.Entry{Tensor: v, Kind: h.Kind()})
	}
	return s
}

// Step applies the traced procedure to s and returns the resulting state.
// The underlying object is left as it was before the call.
func (t *Traced) Step(s *state.State) (*state.State, error) {
	out, _, err := t.run(s)
	return out, err
}

// StepOutput is Step for procedures traced with NewWithOutput; it also
// returns the procedure's value.
func (t *Traced) StepOutput(s *state.State) (*state.State, tensor.Tensor, error) {
	if t.output == nil {
		return nil, tensor.Tensor{}, fmt.Errorf("trace: procedure returns no value")
	}
	return t.run(s)
}

func (t *Traced) run(s *state.State) (*state.State, tensor.Tensor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s == nil {
		return nil, tensor.Tensor{}, fmt.Errorf("%w: nil state", ErrStateMismatch)
	}
	if s.Len() != len(t.keys) {
		return nil, tensor.Tensor{}, fmt.Errorf("%w: state has %d entries, snapshot has %d", ErrStateMismatch, s.Len(), len(t.keys))
	}
	for _, k := range t.keys {
		e, ok := s.Get(k)
		if !ok {
			return nil, tensor.Tensor{}, fmt.Errorf("%w: missing key %q", ErrStateMismatch, k)
		}
		if e.Kind != t.handles[k].Kind() {
			return nil, tensor.Tensor{}, fmt.Errorf("%w: key %q has kind %s, snapshot has %s", ErrStateMismatch, k, e.Kind, t.handles[k].Kind())
		}
	}

	saved := make(map[string]tensor.Tensor, len(t.keys))
	for _, k := range t.keys {
		saved[k] = t.handles[k].Get()
	}
	restore := func() {
		for _, k := range t.keys {
			t.handles[k].Set(saved[k])
		}
	}

	for _, k := range t.keys {
		e, _ := s.Get(k)
		t.handles[k].Set(e.Tensor)
	}

	var value tensor.Tensor
	var err error
	if t.output != nil {
		value, err = t.output()
	} else {
		err = t.step()
	}
	if err != nil {
		restore()
		return nil, tensor.Tensor{}, err
	}

	// A procedure registering new handles (or removing any) would mutate
	// state the snapshot cannot carry.
	afterKeys, _, ferr := module.Flatten(t.root)
	if ferr != nil {
		restore()
		return nil, tensor.Tensor{}, ferr
	}
	if !slices.Equal(afterKeys, t.keys) {
		restore()
		return nil, tensor.Tensor{}, fmt.Errorf("%w: keys changed from %d to %d entries", ErrNewHandle, len(t.keys), len(afterKeys))
	}

	out := t.snapshot(true)
	restore()
	return out, value, nil
}
