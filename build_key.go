package anvil

import "fmt"

// BuildKey identifies a registration, a policy slot and a cached build plan:
// the requested type plus an optional name. The empty name is the default
// registration.
type BuildKey struct {
	Type Type
	Name string
}

// NewBuildKey creates a build key.
func NewBuildKey(t Type, name string) BuildKey {
	return BuildKey{Type: t, Name: name}
}

// KeyOf returns the build key of the Go type T with the given name.
func KeyOf[T any](name string) BuildKey {
	return BuildKey{Type: TypeOf[T](), Name: name}
}

// String returns a human-readable representation of the build key.
func (k BuildKey) String() string {
	typeName := "<nil>"
	if k.Type != nil {
		typeName = k.Type.String()
	}

	if k.Name == "" {
		return typeName
	}

	return fmt.Sprintf("%s[name=%s]", typeName, k.Name)
}

// displayName is used in error messages.
func (k BuildKey) displayName() string {
	if k.Name == "" {
		return "(none)"
	}

	return k.Name
}

// openKey returns the key of the open generic registration a closed generic
// key may fall back to.
func (k BuildKey) openKey() (BuildKey, bool) {
	def, _, ok := genericArgs(k.Type)
	if !ok || !IsClosedGeneric(k.Type) {
		return BuildKey{}, false
	}

	return BuildKey{Type: def.Open(), Name: k.Name}, true
}
