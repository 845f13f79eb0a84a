// Package module defines the stateful-object contract the tracer works
// against. A module declares named buffer handles and named submodules;
// flattening the tree yields dotted state keys ("algorithm.pop",
// "monitor.best_fitness") that stay stable across calls.
package module

import (
	"fmt"
	"sort"
	"strings"

	"hyperevo/internal/state"
	"hyperevo/internal/tensor"
)

// Module is any object whose mutable attributes are exposed as registered
// handles. All mutation a traced procedure performs must flow through
// these handles.
type Module interface {
	Handles() map[string]*state.Value
	Submodules() map[string]Module
}

// Registry is the embeddable default implementation of Module. Its zero
// value is ready to use. Register calls panic on empty or duplicate names,
// matching net/http mux conventions for programmer misuse.
type Registry struct {
	handles  map[string]*state.Value
	children map[string]Module
}

func (r *Registry) register(name string, v *state.Value) *state.Value {
	if name == "" || strings.Contains(name, ".") {
		panic(fmt.Sprintf("module: invalid handle name %q", name))
	}
	if r.handles == nil {
		r.handles = map[string]*state.Value{}
	}
	if _, ok := r.handles[name]; ok {
		panic(fmt.Sprintf("module: duplicate handle %q", name))
	}
	if _, ok := r.children[name]; ok {
		panic(fmt.Sprintf("module: handle %q collides with submodule", name))
	}
	r.handles[name] = v
	return v
}

func (r *Registry) RegisterBuffer(name string, t tensor.Tensor) *state.Value {
	return r.register(name, state.NewBuffer(t))
}

func (r *Registry) RegisterParameter(name string, t tensor.Tensor) *state.Value {
	return r.register(name, state.NewParameter(t))
}

func (r *Registry) RegisterRNGKey(name string, seed uint64) *state.Value {
	return r.register(name, state.NewRNGKey(seed))
}

func (r *Registry) RegisterModule(name string, m Module) {
	if name == "" || strings.Contains(name, ".") {
		panic(fmt.Sprintf("module: invalid submodule name %q", name))
	}
	if m == nil {
		panic(fmt.Sprintf("module: nil submodule %q", name))
	}
	if r.children == nil {
		r.children = map[string]Module{}
	}
	if _, ok := r.children[name]; ok {
		panic(fmt.Sprintf("module: duplicate submodule %q", name))
	}
	if _, ok := r.handles[name]; ok {
		panic(fmt.Sprintf("module: submodule %q collides with handle", name))
	}
	r.children[name] = m
}

func (r *Registry) Handles() map[string]*state.Value {
	out := make(map[string]*state.Value, len(r.handles))
	for k, v := range r.handles {
		out[k] = v
	}
	return out
}

func (r *Registry) Submodules() map[string]Module {
	out := make(map[string]Module, len(r.children))
	for k, v := range r.children {
		out[k] = v
	}
	return out
}

// Flatten walks the module tree and returns the dotted keys in
// deterministic order (own handles sorted, then submodules sorted,
// recursively) along with the handle for each key.
func Flatten(root Module) ([]string, map[string]*state.Value, error) {
	if root == nil {
		return nil, nil, fmt.Errorf("module: nil root")
	}
	keys := []string{}
	handles := map[string]*state.Value{}
	visiting := map[Module]bool{}

	var walk func(m Module, prefix string) error
	walk = func(m Module, prefix string) error {
		if visiting[m] {
			return fmt.Errorf("module: cycle detected at %q", strings.TrimSuffix(prefix, "."))
		}
		visiting[m] = true
		defer delete(visiting, m)

		own := m.Handles()
		names := make([]string, 0, len(own))
		for name := range own {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			key := prefix + name
			if _, ok := handles[key]; ok {
				return fmt.Errorf("module: duplicate state key %q", key)
			}
			keys = append(keys, key)
			handles[key] = own[name]
		}

		children := m.Submodules()
		childNames := make([]string, 0, len(children))
		for name := range children {
			childNames = append(childNames, name)
		}
		sort.Strings(childNames)
		for _, name := range childNames {
			if err := walk(children[name], prefix+name+"."); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, ""); err != nil {
		return nil, nil, err
	}
	return keys, handles, nil
}

// Snapshot captures the current handle contents of the tree as a State.
// With clone set, the snapshot's tensors share no storage with the
// handles.
func Snapshot(root Module, clone bool) (*state.State, error) {
	keys, handles, err := Flatten(root)
	if err != nil {
		return nil, err
	}
	s := state.New()
	for _, k := range keys {
		h := handles[k]
		t := h.Get()
		if clone {
			t = t.Clone()
		}
		s.Set(k, state.Entry{Tensor: t, Kind: h.Kind()})
	}
	return s, nil
}

// Load installs s into the tree's handles. The key sets must match exactly
// and every entry's kind must match its handle's kind.
func Load(root Module, s *state.State) error {
	keys, handles, err := Flatten(root)
	if err != nil {
		return err
	}
	if s.Len() != len(keys) {
		return fmt.Errorf("module: state has %d entries, tree has %d", s.Len(), len(keys))
	}
	for _, k := range keys {
		e, ok := s.Get(k)
		if !ok {
			return fmt.Errorf("module: state missing key %q", k)
		}
		if e.Kind != handles[k].Kind() {
			return fmt.Errorf("module: kind mismatch for %q: state has %s, handle is %s", k, e.Kind, handles[k].Kind())
		}
		handles[k].Set(e.Tensor)
	}
	return nil
}

// Submodule resolves a dotted path ("monitor", "algorithm.inner") from
// root.
func Submodule(root Module, path string) (Module, bool) {
	m := root
	for _, part := range strings.Split(path, ".") {
		children := m.Submodules()
		child, ok := children[part]
		if !ok {
			return nil, false
		}
		m = child
	}
	return m, true
}

// AliasKeys maps every state key of sub to the key it appears under in
// root's flattened state, by handle identity. Each sub handle must be
// matched exactly once; a sub buffer unreachable from root is a
// configuration error, because its mutations would never flow through the
// traced root state.
func AliasKeys(root, sub Module) (map[string]string, error) {
	rootKeys, rootHandles, err := Flatten(root)
	if err != nil {
		return nil, err
	}
	subKeys, subHandles, err := Flatten(sub)
	if err != nil {
		return nil, err
	}

	byHandle := map[*state.Value]string{}
	for _, sk := range subKeys {
		byHandle[subHandles[sk]] = sk
	}

	aliases := map[string]string{}
	matched := map[string]bool{}
	for _, rk := range rootKeys {
		sk, ok := byHandle[rootHandles[rk]]
		if !ok || matched[sk] {
			continue
		}
		aliases[rk] = sk
		matched[sk] = true
	}
	if len(matched) != len(subKeys) {
		missing := []string{}
		for _, sk := range subKeys {
			if !matched[sk] {
				missing = append(missing, sk)
			}
		}
		return nil, fmt.Errorf("module: submodule buffers not reachable from root state: %s", strings.Join(missing, ", "))
	}
	return aliases, nil
}
