// Package state holds the two building blocks of stateful modules: Value,
// a shared handle cell that a module allocates once per buffer, and State,
// an ordered snapshot mapping dotted keys to tensor entries.
//
// Handle identity is the aliasing mechanism: when a workflow and its
// monitor hold the same *Value, they observe the same buffer, and the
// resolver can map monitor attributes to workflow state keys by comparing
// handle pointers instead of guessing from values.
package state

import (
	"fmt"

	"hyperevo/internal/tensor"
)

// Kind classifies a state entry.
type Kind int

const (
	// KindBuffer is plain mutable bookkeeping.
	KindBuffer Kind = iota
	// KindParameter marks a learnable entry, the only kind the HPO wrapper
	// accepts as a hyperparameter.
	KindParameter
	// KindRNGKey marks a functional randomness key; the batch lifter folds
	// the instance index into these when replicating a state.
	KindRNGKey
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindParameter:
		return "parameter"
	case KindRNGKey:
		return "rng-key"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a handle cell: one mutable slot holding a tensor. Modules
// allocate each buffer exactly once and share the handle with any
// sub-object that needs to observe it.
type Value struct {
	kind Kind
	t    tensor.Tensor
}

func NewBuffer(t tensor.Tensor) *Value {
	return &Value{kind: KindBuffer, t: t}
}

func NewParameter(t tensor.Tensor) *Value {
	return &Value{kind: KindParameter, t: t}
}

func NewRNGKey(seed uint64) *Value {
	return &Value{kind: KindRNGKey, t: tensor.NewKey(seed)}
}

func (v *Value) Kind() Kind {
	return v.kind
}

func (v *Value) Get() tensor.Tensor {
	return v.t
}

func (v *Value) Set(t tensor.Tensor) {
	v.t = t
}

// Entry is one snapshotted state value.
type Entry struct {
	Tensor tensor.Tensor
	Kind   Kind
}

// State is an ordered mapping from dotted attribute keys to entries. It is
// a pure value: Clone produces a snapshot whose tensors share no storage
// with the original.
type State struct {
	keys    []string
	entries map[string]Entry
}

func New() *State {
	return &State{entries: map[string]Entry{}}
}

// Set inserts or overwrites key. Insertion order is preserved across
// overwrites.
func (s *State) Set(key string, e Entry) {
	if _, ok := s.entries[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.entries[key] = e
}

func (s *State) Get(key string) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

func (s *State) Keys() []string {
	return append([]string(nil), s.keys...)
}

func (s *State) Len() int {
	return len(s.keys)
}

func (s *State) Clone() *State {
	out := &State{
		keys:    append([]string(nil), s.keys...),
		entries: make(map[string]Entry, len(s.entries)),
	}
	for k, e := range s.entries {
		out.entries[k] = Entry{Tensor: e.Tensor.Clone(), Kind: e.Kind}
	}
	return out
}

// Update overwrites entries of s with those of o. Every key of o must
// already exist in s.
func (s *State) Update(o *State) error {
	for _, k := range o.keys {
		if _, ok := s.entries[k]; !ok {
			return fmt.Errorf("update key %q not present in state", k)
		}
		s.entries[k] = o.entries[k]
	}
	return nil
}

// Filter returns the entries for which keep is true, preserving order.
func (s *State) Filter(keep func(key string, e Entry) bool) *State {
	out := New()
	for _, k := range s.keys {
		e := s.entries[k]
		if keep(k, e) {
			out.Set(k, e)
		}
	}
	return out
}
