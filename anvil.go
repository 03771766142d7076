// Package anvil is a dependency injection runtime built around a staged
// strategy pipeline.
//
// A Container holds registrations (type mappings, instances, lifetime managers
// and injection members) as policies. Resolving a BuildKey runs the strategy
// chain: type mapping, lifetime lookup, construction through a cached build
// plan, then property and method injection. Dependencies are built
// recursively in child build contexts.
//
// Containers form a hierarchy: a child container inherits its parent's
// policies, strategies and registrations by reference, and local
// registrations take precedence.
//
//	c := anvil.New()
//	_ = anvil.Register[Logger, *ConsoleLogger](c, anvil.WithLifetime(anvil.NewContainerControlled()))
//	log, err := anvil.Resolve[Logger](c)
package anvil

// Disposable is implemented by values that release resources when their
// owning container is disposed.
type Disposable interface {
	Dispose() error
}

// BuilderAware is implemented by values that want to be notified when the
// container finishes building them or tears them down.
type BuilderAware interface {
	OnBuiltUp(key BuildKey) error
	OnTearingDown() error
}
