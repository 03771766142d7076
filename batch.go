package anvil

import "go.uber.org/multierr"

// Mapping creates a Registration for batch registration.
//
// Example:
//
//	anvil.RegisterTypes(c,
//	    anvil.Mapping(anvil.TypeOf[Store](), anvil.TypeOf[*PostgresStore](), anvil.AsSingleton()),
//	    anvil.Mapping(nil, anvil.TypeOf[*Cache]()),
//	)
func Mapping(from, to Type, opts ...RegisterOption) Registration {
	cfg := newRegisterConfig(opts)

	return Registration{
		From:     from,
		To:       to,
		Name:     cfg.name,
		Lifetime: cfg.lifetime,
		Members:  cfg.members,
	}
}

// RegisterTypes registers multiple types in a single call.
// It stops at the first failing registration and returns its error.
func RegisterTypes(c *Container, regs ...Registration) error {
	for _, r := range regs {
		if err := c.RegisterType(r); err != nil {
			return err
		}
	}

	return nil
}

// RegisterTypesIfAbsent registers every registration whose key is not yet
// mapped elsewhere. Unlike RegisterTypes it continues past failures and
// returns all of them combined.
func RegisterTypesIfAbsent(c *Container, regs ...Registration) error {
	var err error

	for _, r := range regs {
		err = multierr.Append(err, c.RegisterTypeIfAbsent(r))
	}

	return err
}

// ConstructorRegistration holds a constructor and its options for batch
// registration.
type ConstructorRegistration struct {
	Constructor any
	Options     []RegisterOption
}

// Constructor creates a ConstructorRegistration.
//
// Example:
//
//	anvil.RegisterConstructors(c,
//	    anvil.Constructor(NewDatabase, anvil.AsSingleton()),
//	    anvil.Constructor(NewUserService),
//	)
func Constructor(fn any, opts ...RegisterOption) ConstructorRegistration {
	return ConstructorRegistration{Constructor: fn, Options: opts}
}

// RegisterConstructors registers multiple constructors in a single call.
func RegisterConstructors(c *Container, ctors ...ConstructorRegistration) error {
	for _, r := range ctors {
		if err := c.RegisterConstructor(r.Constructor, r.Options...); err != nil {
			return err
		}
	}

	return nil
}
