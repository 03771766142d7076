package anvil

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Lazy wraps a dependency that is resolved on first access.
// This is useful for breaking circular dependencies or deferring
// resolution of expensive services until they're actually needed.
//
// A *Lazy[T] dependency is built by the container without resolving T.
type Lazy[T any] struct {
	container *Container
	name      string
	mu        sync.Once
	value     T
	err       error
	resolved  atomic.Bool
}

// NewLazy creates a new lazy dependency wrapper for (T, name).
func NewLazy[T any](c *Container, name string) *Lazy[T] {
	l := &Lazy[T]{}
	l.bind(c, name)

	return l
}

func (l *Lazy[T]) bind(c *Container, name string) {
	l.container = c
	l.name = name
}

// Get resolves the dependency and returns it.
// The resolution happens only once; subsequent calls return the cached value.
func (l *Lazy[T]) Get() (T, error) {
	l.mu.Do(func() {
		l.value, l.err = resolveAs[T](l.container, KeyOf[T](l.name))
		l.resolved.Store(l.err == nil)
	})

	return l.value, l.err
}

// MustGet resolves the dependency and returns it, panicking on error.
func (l *Lazy[T]) MustGet() T {
	value, err := l.Get()
	if err != nil {
		panic(fmt.Sprintf("lazy dependency %s failed: %v", KeyOf[T](l.name), err))
	}

	return value
}

// IsResolved returns true if the dependency has been resolved.
func (l *Lazy[T]) IsResolved() bool {
	return l.resolved.Load()
}

// Name returns the name of the dependency.
func (l *Lazy[T]) Name() string {
	return l.name
}

// OptionalLazy wraps an optional dependency that is resolved on first access.
// Returns the zero value without error if the dependency is not registered.
type OptionalLazy[T any] struct {
	container *Container
	name      string
	mu        sync.Once
	value     T
	err       error
	resolved  atomic.Bool
	found     atomic.Bool
}

// NewOptionalLazy creates a new optional lazy dependency wrapper.
func NewOptionalLazy[T any](c *Container, name string) *OptionalLazy[T] {
	l := &OptionalLazy[T]{}
	l.bind(c, name)

	return l
}

func (l *OptionalLazy[T]) bind(c *Container, name string) {
	l.container = c
	l.name = name
}

// Get resolves the dependency and returns it.
// Returns the zero value without error if the dependency is not registered.
func (l *OptionalLazy[T]) Get() (T, error) {
	l.mu.Do(func() {
		if !l.container.IsRegistered(TypeOf[T](), l.name) {
			l.resolved.Store(true)

			return
		}

		l.value, l.err = resolveAs[T](l.container, KeyOf[T](l.name))
		if l.err == nil {
			l.found.Store(true)
			l.resolved.Store(true)
		}
	})

	return l.value, l.err
}

// MustGet resolves the dependency and returns it, panicking on error.
// Returns the zero value if the dependency is not registered (does not panic).
func (l *OptionalLazy[T]) MustGet() T {
	value, err := l.Get()
	if err != nil {
		panic(fmt.Sprintf("optional lazy dependency %s failed: %v", KeyOf[T](l.name), err))
	}

	return value
}

// IsResolved returns true if the dependency has been resolved.
func (l *OptionalLazy[T]) IsResolved() bool {
	return l.resolved.Load()
}

// IsFound returns true if the dependency was found (only valid after resolution).
func (l *OptionalLazy[T]) IsFound() bool {
	return l.found.Load()
}

// Name returns the name of the dependency.
func (l *OptionalLazy[T]) Name() string {
	return l.name
}

// Provider resolves its dependency on every call. With a transient
// registration every call returns a fresh instance.
type Provider[T any] struct {
	container *Container
	name      string
}

// NewProvider creates a new provider for (T, name).
func NewProvider[T any](c *Container, name string) *Provider[T] {
	p := &Provider[T]{}
	p.bind(c, name)

	return p
}

func (p *Provider[T]) bind(c *Container, name string) {
	p.container = c
	p.name = name
}

// Provide resolves and returns an instance of the dependency.
func (p *Provider[T]) Provide() (T, error) {
	return resolveAs[T](p.container, KeyOf[T](p.name))
}

// MustProvide resolves and returns an instance, panicking on error.
func (p *Provider[T]) MustProvide() T {
	value, err := p.Provide()
	if err != nil {
		panic(fmt.Sprintf("provider %s failed: %v", KeyOf[T](p.name), err))
	}

	return value
}

// Name returns the name of the dependency.
func (p *Provider[T]) Name() string {
	return p.name
}

// resolveAs resolves key and asserts the result to T.
func resolveAs[T any](c *Container, key BuildKey, overrides ...ResolverOverride) (T, error) {
	var zero T

	if c == nil {
		return zero, errors.Wrapf(ErrNilArgument, "no container bound for %s", key)
	}

	instance, err := c.Resolve(key, overrides...)
	if err != nil {
		return zero, err
	}

	if instance == nil {
		return zero, nil
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, errors.Wrapf(ErrIncompatibleTypes, "%s resolved to %T", key, instance)
	}

	return typed, nil
}
