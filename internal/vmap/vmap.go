// Package vmap lifts a traced state transition over a leading instance
// axis. The batched transition is equivalent to slicing the state per
// instance, applying the single-instance transition to each slice, and
// restacking; execution goes through a bounded parallel map over scratch
// execution contexts rather than a plain loop.
package vmap

import (
	"fmt"
	"slices"

	"github.com/sourcegraph/conc/pool"

	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
	"hyperevo/internal/trace"
)

// ScratchFactory builds an additional traced execution context that is
// structurally identical to the lifted one. Contexts are pure scratch: the
// state is installed before every transition, so the live contents of a
// factory-built object are irrelevant, but its flattened key set must
// match.
type ScratchFactory func() (*trace.Traced, error)

// Config controls parallel execution of the lifted transition.
type Config struct {
	// Workers bounds how many instances execute concurrently. Defaults
	// to 1. Values above the number of available scratch contexts gain
	// nothing: each in-flight instance needs its own context.
	Workers int
	// Scratch supplies extra execution contexts; without it the lift owns
	// a single context and instances execute serially.
	Scratch ScratchFactory
}

// Batched is a traced transition lifted over num-instances independent
// slots.
type Batched struct {
	n        int
	workers  int
	keys     []string
	contexts chan *trace.Traced
	base     *trace.Traced
}

// Lift wraps t so that it applies independently to every slice of a
// batched state.
func Lift(t *trace.Traced, numInstances int, cfg Config) (*Batched, error) {
	if t == nil {
		return nil, fmt.Errorf("vmap: traced transition is required")
	}
	if numInstances <= 0 {
		return nil, fmt.Errorf("vmap: instance count must be > 0, got %d", numInstances)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > numInstances {
		workers = numInstances
	}

	b := &Batched{
		n:       numInstances,
		workers: workers,
		keys:    t.Keys(),
		base:    t,
	}

	contextCount := 1
	if cfg.Scratch != nil {
		contextCount = workers
	}
	b.contexts = make(chan *trace.Traced, contextCount)
	b.contexts <- t
	for i := 1; i < contextCount; i++ {
		extra, err := cfg.Scratch()
		if err != nil {
			return nil, fmt.Errorf("vmap: scratch context %d: %w", i, err)
		}
		if !slices.Equal(extra.Keys(), b.keys) {
			return nil, fmt.Errorf("vmap: scratch context %d exposes different state keys", i)
		}
		b.contexts <- extra
	}
	return b, nil
}

func (b *Batched) NumInstances() int {
	return b.n
}

// InitState replicates the single-instance snapshot along a fresh leading
// axis. Every instance gets an independent copy; RNG-key entries are
// folded with the instance index so random draws never collapse across
// slots.
func (b *Batched) InitState() (*state.State, error) {
	single := b.base.InitState(true)
	out := state.New()
	for _, k := range b.keys {
		e, _ := single.Get(k)
		var batched tensor.Tensor
		if e.Kind == state.KindRNGKey {
			rows := make([]tensor.Tensor, b.n)
			for i := 0; i < b.n; i++ {
				folded, err := tensor.Fold(e.Tensor, uint64(i))
				if err != nil {
					return nil, fmt.Errorf("vmap: fold rng key %q: %w", k, err)
				}
				rows[i] = folded
			}
			stacked, err := tensor.Stack(rows)
			if err != nil {
				return nil, err
			}
			batched = stacked
		} else {
			replicated, err := tensor.Replicate(e.Tensor, b.n)
			if err != nil {
				return nil, err
			}
			batched = replicated
		}
		out.Set(k, state.Entry{Tensor: batched, Kind: e.Kind})
	}
	return out, nil
}

// Step applies the lifted transition to a batched state. Instance slices
// are processed by a bounded worker pool; each slice's result writes into
// a disjoint row of the output tensors.
func (b *Batched) Step(s *state.State) (*state.State, error) {
	if s == nil {
		return nil, fmt.Errorf("vmap: nil state")
	}
	if s.Len() != len(b.keys) {
		return nil, fmt.Errorf("vmap: state has %d entries, lift has %d", s.Len(), len(b.keys))
	}
	out := state.New()
	for _, k := range b.keys {
		e, ok := s.Get(k)
		if !ok {
			return nil, fmt.Errorf("vmap: state missing key %q", k)
		}
		if e.Tensor.Ndim() == 0 || e.Tensor.Shape()[0] != b.n {
			return nil, fmt.Errorf("vmap: key %q has shape %v, leading dimension must be %d", k, e.Tensor.Shape(), b.n)
		}
		out.Set(k, state.Entry{Tensor: e.Tensor.Clone(), Kind: e.Kind})
	}

	p := pool.New().WithMaxGoroutines(b.workers).WithErrors()
	for i := 0; i < b.n; i++ {
		i := i
		p.Go(func() error {
			ctx := <-b.contexts
			defer func() { b.contexts <- ctx }()

			slice, err := b.sliceInstance(s, i)
			if err != nil {
				return err
			}
			res, err := ctx.Step(slice)
			if err != nil {
				return fmt.Errorf("vmap: instance %d: %w", i, err)
			}
			return b.writeInstance(out, i, res)
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Batched) sliceInstance(s *state.State, i int) (*state.State, error) {
	slice := state.New()
	for _, k := range b.keys {
		e, _ := s.Get(k)
		row, err := e.Tensor.Row(i)
		if err != nil {
			return nil, fmt.Errorf("vmap: slice key %q instance %d: %w", k, i, err)
		}
		slice.Set(k, state.Entry{Tensor: row, Kind: e.Kind})
	}
	return slice, nil
}

func (b *Batched) writeInstance(out *state.State, i int, res *state.State) error {
	for _, k := range b.keys {
		oe, _ := out.Get(k)
		re, ok := res.Get(k)
		if !ok {
			return fmt.Errorf("vmap: transition dropped key %q", k)
		}
		if err := oe.Tensor.SetRow(i, re.Tensor); err != nil {
			return fmt.Errorf("vmap: key %q changed shape across the transition: %w", k, err)
		}
	}
	return nil
}
