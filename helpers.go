package anvil

import (
	"fmt"

	"github.com/pkg/errors"
)

// Resolve with type safety.
func Resolve[T any](c *Container, overrides ...ResolverOverride) (T, error) {
	return resolveAs[T](c, KeyOf[T](""), overrides...)
}

// ResolveNamed resolves the registration of T under name.
func ResolveNamed[T any](c *Container, name string, overrides ...ResolverOverride) (T, error) {
	return resolveAs[T](c, KeyOf[T](name), overrides...)
}

// Must resolves or panics - use only during startup.
func Must[T any](c *Container, overrides ...ResolverOverride) T {
	instance, err := Resolve[T](c, overrides...)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s: %v", TypeOf[T](), err))
	}

	return instance
}

// MustNamed resolves the named registration of T or panics.
func MustNamed[T any](c *Container, name string, overrides ...ResolverOverride) T {
	instance, err := ResolveNamed[T](c, name, overrides...)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s: %v", KeyOf[T](name), err))
	}

	return instance
}

// ResolveAllOf resolves every named registration of T.
func ResolveAllOf[T any](c *Container, overrides ...ResolverOverride) ([]T, error) {
	values, err := c.ResolveAll(TypeOf[T](), overrides...)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(values))

	for _, v := range values {
		typed, ok := v.(T)
		if !ok {
			return nil, errors.Wrapf(ErrIncompatibleTypes, "%T is not %s", v, TypeOf[T]())
		}

		out = append(out, typed)
	}

	return out, nil
}

// BuildUpOf injects the members configured for (T, name) into existing.
func BuildUpOf[T any](c *Container, existing T, name string, overrides ...ResolverOverride) (T, error) {
	var zero T

	v, err := c.BuildUp(KeyOf[T](name), existing, overrides...)
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, errors.Wrapf(ErrIncompatibleTypes, "build up returned %T", v)
	}

	return typed, nil
}

// Register maps From to To.
//
// Usage:
//
//	anvil.Register[Logger, *ConsoleLogger](c, anvil.AsSingleton())
func Register[From, To any](c *Container, opts ...RegisterOption) error {
	cfg := newRegisterConfig(opts)

	if err := c.RegisterType(Registration{
		From:     TypeOf[From](),
		To:       TypeOf[To](),
		Name:     cfg.name,
		Lifetime: cfg.lifetime,
		Members:  cfg.members,
	}); err != nil {
		return err
	}

	for _, t := range cfg.as {
		if err := c.RegisterType(Registration{From: t, To: TypeOf[To](), Name: cfg.name}); err != nil {
			return err
		}
	}

	return nil
}

// RegisterSelf registers T under its own type.
func RegisterSelf[T any](c *Container, opts ...RegisterOption) error {
	return Register[T, T](c, opts...)
}

// RegisterSingleton is a convenience wrapper for container-controlled
// registrations of T.
func RegisterSingleton[T any](c *Container, opts ...RegisterOption) error {
	return RegisterSelf[T](c, append(opts, AsSingleton())...)
}

// RegisterTransient is a convenience wrapper for transient registrations of T.
func RegisterTransient[T any](c *Container, opts ...RegisterOption) error {
	return RegisterSelf[T](c, append(opts, AsTransient())...)
}

// RegisterInterface maps the interface I to T with the given options.
func RegisterInterface[I, T any](c *Container, opts ...RegisterOption) error {
	return Register[I, T](c, opts...)
}

// RegisterValue registers a pre-built instance under T, owned by the
// container unless WithLifetime says otherwise.
func RegisterValue[T any](c *Container, instance T, opts ...RegisterOption) error {
	cfg := newRegisterConfig(opts)

	if err := c.RegisterInstance(TypeOf[T](), cfg.name, instance, cfg.lifetime); err != nil {
		return err
	}

	for _, t := range cfg.as {
		if err := c.RegisterType(Registration{From: t, To: TypeOf[T](), Name: cfg.name}); err != nil {
			return err
		}
	}

	return nil
}

// RegisterFactory registers a typed factory function for T. The factory's
// parameters are resolved like constructor parameters.
//
// Usage:
//
//	anvil.RegisterFactory(c, func(db *Database) (*UserService, error) {
//	    return &UserService{db: db}, nil
//	}, anvil.AsSingleton())
func RegisterFactory[T any](c *Container, factory any, opts ...RegisterOption) error {
	ci, err := analyzeConstructor(factory)
	if err != nil {
		return configError(CodeInvalidConstructor, err, "register factory for %s", TypeOf[T]())
	}

	if ci.Result != TypeOf[T]() {
		return configError(CodeIncompatibleTypes, ErrIncompatibleTypes, "factory returns %s, want %s", ci.Result, TypeOf[T]())
	}

	return c.RegisterConstructor(factory, opts...)
}
