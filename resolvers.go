package anvil

import (
	"reflect"
)

// DependencyResolver produces the value of one dependency.
type DependencyResolver interface {
	Resolve(ctx *BuilderContext) (any, error)
}

// NamedTypeResolver builds Key in a child context.
type NamedTypeResolver struct {
	Key BuildKey
}

func (r NamedTypeResolver) Resolve(ctx *BuilderContext) (any, error) {
	return ctx.NewBuildUp(r.Key)
}

// LiteralResolver returns a fixed value.
type LiteralResolver struct {
	Value any
}

func (r LiteralResolver) Resolve(*BuilderContext) (any, error) {
	return r.Value, nil
}

// OptionalResolver builds Key when it can be resolved and yields nil otherwise.
// Failures of a resolvable key are still reported.
type OptionalResolver struct {
	Key BuildKey
}

func (r OptionalResolver) Resolve(ctx *BuilderContext) (any, error) {
	if !isResolvable(ctx, r.Key) {
		return nil, nil
	}

	return ctx.NewBuildUp(r.Key)
}

// Resolved returns a resolver for the registration (t, name). Use it as an
// injection member argument.
func Resolved(t Type, name string) DependencyResolver {
	return NamedTypeResolver{Key: BuildKey{Type: t, Name: name}}
}

// ResolvedOf is the typed form of Resolved.
func ResolvedOf[T any](name string) DependencyResolver {
	return Resolved(TypeOf[T](), name)
}

// Optional returns a resolver for (t, name) that yields nil when nothing can
// build it.
func Optional(t Type, name string) DependencyResolver {
	return OptionalResolver{Key: BuildKey{Type: t, Name: name}}
}

// Literal wraps v so it is injected as is, even when v is itself a
// DependencyResolver.
func Literal(v any) DependencyResolver {
	return LiteralResolver{Value: v}
}

// resolverFor returns the default resolver for a dependency.
func resolverFor(t Type, name string, optional bool) DependencyResolver {
	key := BuildKey{Type: t, Name: name}
	if optional {
		return OptionalResolver{Key: key}
	}

	return NamedTypeResolver{Key: key}
}

// isResolvable reports whether key can be built without overrides: something
// is registered for it in the container chain or its type can be constructed
// from its shape alone.
func isResolvable(ctx *BuilderContext, key BuildKey) bool {
	if key.Type == nil {
		return false
	}

	if _, _, ok := GetPolicy[BuildKeyMappingPolicy](ctx.Policies, key); ok {
		return true
	}

	if _, _, ok := GetPolicy[LifetimePolicy](ctx.Policies, key); ok {
		return true
	}

	if _, _, ok := GetPolicy[LifetimeFactoryPolicy](ctx.Policies, key); ok {
		return true
	}

	if ctx.container.registry.has(key.Type, key.Name) {
		return true
	}

	if hasConstructorCandidates(ctx.Policies, key.Type) {
		return true
	}

	return constructibleShape(key.Type)
}

// constructibleShape reports whether t can be built with no registration:
// structs and pointers to structs (zero value), slices (resolve all),
// deferred funcs and *Lazy[T].
func constructibleShape(t Type) bool {
	g, ok := t.(goType)
	if !ok {
		return false
	}

	rt := g.rt

	switch {
	case rt.Kind() == reflect.Struct:
		return true
	case rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Struct:
		return true
	case rt.Kind() == reflect.Slice:
		return true
	case isDeferredFunc(rt):
		return true
	}

	return false
}

var errorType = reflect.TypeFor[error]()

// isDeferredFunc matches func() T and func() (T, error).
func isDeferredFunc(rt reflect.Type) bool {
	if rt.Kind() != reflect.Func || rt.NumIn() != 0 || rt.IsVariadic() {
		return false
	}

	switch rt.NumOut() {
	case 1:
		return rt.Out(0) != errorType
	case 2:
		return rt.Out(1) == errorType && rt.Out(0) != errorType
	}

	return false
}
