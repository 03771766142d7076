package anvil

import (
	"slices"
	"sync"
)

// namedTypesRegistry records which names are registered for each type. A
// child registry falls back to its parent on every query.
type namedTypesRegistry struct {
	parent *namedTypesRegistry
	byType map[Type][]string
	mu     sync.RWMutex
}

func newNamedTypesRegistry(parent *namedTypesRegistry) *namedTypesRegistry {
	return &namedTypesRegistry{
		parent: parent,
		byType: make(map[Type][]string),
	}
}

// register records name for t, keeping first registration order.
func (r *namedTypesRegistry) register(t Type, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !slices.Contains(r.byType[t], name) {
		r.byType[t] = append(r.byType[t], name)
	}
}

// has reports whether (t, name) is registered here or in an ancestor. A closed
// generic type is also registered when its open definition is.
func (r *namedTypesRegistry) has(t Type, name string) bool {
	open, isClosed := openOf(t)

	for level := r; level != nil; level = level.parent {
		level.mu.RLock()
		found := slices.Contains(level.byType[t], name) ||
			(isClosed && slices.Contains(level.byType[open], name))
		level.mu.RUnlock()

		if found {
			return true
		}
	}

	return false
}

// names returns every name registered for t in the chain, ancestors first.
func (r *namedTypesRegistry) names(t Type) []string {
	var out []string

	if r.parent != nil {
		out = r.parent.names(t)
	}

	open, isClosed := openOf(t)

	r.mu.RLock()
	defer r.mu.RUnlock()

	local := r.byType[t]
	if isClosed {
		local = append(slices.Clone(local), r.byType[open]...)
	}

	for _, n := range local {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}

	return out
}

func openOf(t Type) (Type, bool) {
	if !IsClosedGeneric(t) {
		return nil, false
	}

	def, _, _ := genericArgs(t)

	return def.Open(), true
}
