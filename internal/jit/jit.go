// Package jit specializes a pure state function against a representative
// input. Compilation runs the function once at setup time (failures
// surface immediately), records the canonical input signature, and returns
// a callable that rejects any input outside the traced signature class.
// The compiled path never changes semantics; it only pins the shape class
// and skips revalidation work on the hot path.
package jit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
)

// ErrSignature reports a call whose input falls outside the compiled
// shape/kind signature. There is no silent fallback to uncompiled
// execution.
var ErrSignature = errors.New("jit: input signature mismatch")

// Fn is a pure state transition.
type Fn func(*state.State) (*state.State, error)

// EvalFn is a pure state reduction producing a tensor.
type EvalFn func(*state.State) (tensor.Tensor, error)

// SignatureOf renders the canonical key/kind/shape signature of a state.
func SignatureOf(s *state.State) string {
	keys := s.Keys()
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		e, _ := s.Get(k)
		shape := e.Tensor.Shape()
		dims := make([]string, len(shape))
		for i, d := range shape {
			dims[i] = fmt.Sprintf("%d", d)
		}
		parts = append(parts, fmt.Sprintf("%s:%s:[%s]", k, e.Kind, strings.Join(dims, "x")))
	}
	return strings.Join(parts, ";")
}

// Compiled is a state transition pinned to one input signature.
type Compiled struct {
	fn  Fn
	sig string
}

// Compile specializes fn against example. The example is traced through fn
// once; a trace failure is a compilation error.
func Compile(fn Fn, example *state.State) (*Compiled, error) {
	if fn == nil {
		return nil, fmt.Errorf("jit: function is required")
	}
	if example == nil {
		return nil, fmt.Errorf("jit: example input is required")
	}
	if _, err := fn(example.Clone()); err != nil {
		return nil, fmt.Errorf("jit: compile trace failed: %w", err)
	}
	return &Compiled{fn: fn, sig: SignatureOf(example)}, nil
}

func (c *Compiled) Signature() string {
	return c.sig
}

func (c *Compiled) Call(s *state.State) (*state.State, error) {
	if got := SignatureOf(s); got != c.sig {
		return nil, fmt.Errorf("%w: compiled for %q, called with %q", ErrSignature, c.sig, got)
	}
	return c.fn(s)
}

// CompiledEval is a state reduction pinned to one input signature.
type CompiledEval struct {
	fn  EvalFn
	sig string
}

func CompileEval(fn EvalFn, example *state.State) (*CompiledEval, error) {
	if fn == nil {
		return nil, fmt.Errorf("jit: function is required")
	}
	if example == nil {
		return nil, fmt.Errorf("jit: example input is required")
	}
	if _, err := fn(example.Clone()); err != nil {
		return nil, fmt.Errorf("jit: compile trace failed: %w", err)
	}
	return &CompiledEval{fn: fn, sig: SignatureOf(example)}, nil
}

func (c *CompiledEval) Signature() string {
	return c.sig
}

func (c *CompiledEval) Call(s *state.State) (tensor.Tensor, error) {
	if got := SignatureOf(s); got != c.sig {
		return tensor.Tensor{}, fmt.Errorf("%w: compiled for %q, called with %q", ErrSignature, c.sig, got)
	}
	return c.fn(s)
}

// Cache memoizes compiled artifacts by name and input signature.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Compiled
}

func NewCache() *Cache {
	return &Cache{entries: map[string]*Compiled{}}
}

// GetOrCompile returns the cached artifact for (name, signature of
// example), compiling on first use. Distinct functions must use distinct
// names: the cache trusts the name, not the function pointer.
func (c *Cache) GetOrCompile(name string, fn Fn, example *state.State) (*Compiled, error) {
	if example == nil {
		return nil, fmt.Errorf("jit: example input is required")
	}
	key := name + "|" + SignatureOf(example)

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	compiled, err := Compile(fn, example)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.entries[key]; ok {
		return cached, nil
	}
	c.entries[key] = compiled
	return compiled, nil
}
