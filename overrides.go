package anvil

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// ResolverOverride supplies a resolver for a dependency in place of the one
// chosen by the build plan. Overrides apply at every depth of a resolve.
type ResolverOverride interface {
	Resolver(ctx *BuilderContext, dependency Type) (DependencyResolver, bool)
}

// ConstructorArgument is the operation of resolving a constructor parameter.
type ConstructorArgument struct {
	Target      Type
	Constructor string
	Index       int
	ParamType   Type
}

func (o ConstructorArgument) String() string {
	return fmt.Sprintf("resolving parameter %d (%s) of constructor %s for %s", o.Index, o.ParamType, o.Constructor, o.Target)
}

// PropertyValue is the operation of resolving an injected field.
type PropertyValue struct {
	Target       Type
	Property     string
	PropertyType Type
}

func (o PropertyValue) String() string {
	return fmt.Sprintf("resolving field %s (%s) of %s", o.Property, o.PropertyType, o.Target)
}

// MethodArgument is the operation of resolving an injection method parameter.
type MethodArgument struct {
	Target    Type
	Method    string
	Index     int
	ParamType Type
}

func (o MethodArgument) String() string {
	return fmt.Sprintf("resolving parameter %d (%s) of method %s on %s", o.Index, o.ParamType, o.Method, o.Target)
}

// operationString renders free-form operations such as "calling constructor".
type operationString string

func (o operationString) String() string { return string(o) }

func resolverForValue(v any) DependencyResolver {
	if r, ok := v.(DependencyResolver); ok {
		return r
	}

	return LiteralResolver{Value: v}
}

type parameterOverride struct {
	index    int
	resolver DependencyResolver
}

// ParameterOverride overrides constructor parameter index of every build in
// the graph whose parameter accepts the value; use OnType to target one type.
// The value may be a DependencyResolver.
func ParameterOverride(index int, value any) ResolverOverride {
	return parameterOverride{index: index, resolver: resolverForValue(value)}
}

func (o parameterOverride) Resolver(ctx *BuilderContext, dependency Type) (DependencyResolver, bool) {
	op, ok := ctx.CurrentOperation.(ConstructorArgument)
	if !ok || op.Index != o.index {
		return nil, false
	}

	if lit, ok := o.resolver.(LiteralResolver); ok && !literalFits(lit.Value, dependency) {
		return nil, false
	}

	return o.resolver, true
}

// literalFits reports whether v can be passed where t is expected.
func literalFits(v any, t Type) bool {
	rt := t.Reflect()
	if v == nil || rt == nil {
		return true
	}

	return reflect.TypeOf(v).AssignableTo(rt)
}

type propertyOverride struct {
	name     string
	resolver DependencyResolver
}

// PropertyOverride overrides the injected field with the given name.
func PropertyOverride(name string, value any) ResolverOverride {
	return propertyOverride{name: name, resolver: resolverForValue(value)}
}

func (o propertyOverride) Resolver(ctx *BuilderContext, _ Type) (DependencyResolver, bool) {
	op, ok := ctx.CurrentOperation.(PropertyValue)
	if !ok || op.Property != o.name {
		return nil, false
	}

	return o.resolver, true
}

type dependencyOverride struct {
	typ      Type
	resolver DependencyResolver
}

// DependencyOverride overrides every dependency of type t, whether it is
// requested by a constructor, a field or a method.
func DependencyOverride(t Type, value any) ResolverOverride {
	return dependencyOverride{typ: t, resolver: resolverForValue(value)}
}

func (o dependencyOverride) Resolver(_ *BuilderContext, dependency Type) (DependencyResolver, bool) {
	if dependency != o.typ {
		return nil, false
	}

	return o.resolver, true
}

type typedOverride struct {
	target Type
	inner  ResolverOverride
}

// OnType restricts an override to builds whose current type is t.
func OnType(t Type, o ResolverOverride) ResolverOverride {
	return typedOverride{target: t, inner: o}
}

func (o typedOverride) Resolver(ctx *BuilderContext, dependency Type) (DependencyResolver, bool) {
	if ctx.BuildKey.Type != o.target {
		return nil, false
	}

	return o.inner.Resolver(ctx, dependency)
}

// Overrides is a helper to pass a fixed set of overrides around.
type Overrides []ResolverOverride

// Resolver implements ResolverOverride; later entries win.
func (os Overrides) Resolver(ctx *BuilderContext, dependency Type) (DependencyResolver, bool) {
	for i := len(os) - 1; i >= 0; i-- {
		if r, ok := os[i].Resolver(ctx, dependency); ok {
			return r, true
		}
	}

	return nil, false
}

// valueFor converts a resolved dependency to a reflect.Value of type want.
func valueFor(v any, want reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(want), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(want) {
		if rv.Type() != want {
			out := reflect.New(want).Elem()
			out.Set(rv)

			return out, nil
		}

		return rv, nil
	}

	if rv.Type().ConvertibleTo(want) && rv.Kind() == want.Kind() {
		return rv.Convert(want), nil
	}

	return reflect.Value{}, errors.Errorf("value of type %s is not assignable to %s", rv.Type(), want)
}
