package anvil

import (
	"maps"
	"reflect"
	"sync"
)

// policyKey addresses one policy slot. kind is the policy interface type;
// key is usually a BuildKey but any comparable value is accepted.
type policyKey struct {
	kind reflect.Type
	key  any
}

// PolicyList is a hierarchical policy store.
//
// Lookups walk each level from the local list up through its parents. At every
// level the exact key is tried first, then (for a closed generic BuildKey) the
// key of the open generic registration, then the default registered for the
// policy kind. Mutations are always local.
type PolicyList struct {
	parent   *PolicyList
	policies map[policyKey]any
	defaults map[reflect.Type]any
	mu       sync.RWMutex
}

// NewPolicyList creates a policy list chained to parent, which may be nil.
func NewPolicyList(parent *PolicyList) *PolicyList {
	return &PolicyList{
		parent:   parent,
		policies: make(map[policyKey]any),
		defaults: make(map[reflect.Type]any),
	}
}

// Parent returns the list consulted on a local miss.
func (l *PolicyList) Parent() *PolicyList {
	return l.parent
}

// Get looks up the policy of the given kind for key. It returns the policy and
// the list that holds it, or (nil, nil) when no level has one.
func (l *PolicyList) Get(kind reflect.Type, key any) (any, *PolicyList) {
	for level := l; level != nil; level = level.parent {
		if p, ok := level.GetLocal(kind, key); ok {
			return p, level
		}
	}

	return nil, nil
}

// GetLocal looks up a policy on this level only, applying the open generic and
// default fallbacks.
func (l *PolicyList) GetLocal(kind reflect.Type, key any) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.policies[policyKey{kind: kind, key: key}]; ok {
		return p, true
	}

	if bk, ok := key.(BuildKey); ok {
		if open, ok := bk.openKey(); ok {
			if p, ok := l.policies[policyKey{kind: kind, key: open}]; ok {
				return p, true
			}
		}
	}

	p, ok := l.defaults[kind]

	return p, ok
}

// GetExact looks up a policy on this level only, without any fallback.
func (l *PolicyList) GetExact(kind reflect.Type, key any) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.policies[policyKey{kind: kind, key: key}]

	return p, ok
}

// Set stores a policy for key on this level.
func (l *PolicyList) Set(kind reflect.Type, key any, policy any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.policies[policyKey{kind: kind, key: key}] = policy
}

// SetDefault stores the default policy of a kind on this level.
func (l *PolicyList) SetDefault(kind reflect.Type, policy any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.defaults[kind] = policy
}

// Clear removes the policy for key from this level.
func (l *PolicyList) Clear(kind reflect.Type, key any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.policies, policyKey{kind: kind, key: key})
}

// ClearDefault removes the default of a kind from this level.
func (l *PolicyList) ClearDefault(kind reflect.Type) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.defaults, kind)
}

// ClearAll removes every policy and default from this level.
func (l *PolicyList) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.policies = make(map[policyKey]any)
	l.defaults = make(map[reflect.Type]any)
}

// mergeInto copies every keyed policy of this level into dst.
func (l *PolicyList) mergeInto(dst *PolicyList) {
	l.mu.RLock()
	staged := maps.Clone(l.policies)
	l.mu.RUnlock()

	dst.mu.Lock()
	defer dst.mu.Unlock()

	maps.Copy(dst.policies, staged)
}

// Len returns the number of keyed policies on this level.
func (l *PolicyList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.policies)
}

// kindOf returns the policy kind used for policies of interface type P.
func kindOf[P any]() reflect.Type {
	return reflect.TypeFor[P]()
}

// GetPolicy is the typed form of PolicyList.Get.
func GetPolicy[P any](l *PolicyList, key any) (P, *PolicyList, bool) {
	var zero P

	v, containing := l.Get(kindOf[P](), key)
	if containing == nil {
		return zero, nil, false
	}

	p, ok := v.(P)
	if !ok {
		return zero, nil, false
	}

	return p, containing, true
}

// SetPolicy is the typed form of PolicyList.Set.
func SetPolicy[P any](l *PolicyList, key any, policy P) {
	l.Set(kindOf[P](), key, policy)
}

// SetDefaultPolicy is the typed form of PolicyList.SetDefault.
func SetDefaultPolicy[P any](l *PolicyList, policy P) {
	l.SetDefault(kindOf[P](), policy)
}

// ClearPolicy is the typed form of PolicyList.Clear.
func ClearPolicy[P any](l *PolicyList, key any) {
	l.Clear(kindOf[P](), key)
}
