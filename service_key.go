package anvil

// ServiceKey provides type-safe service identification.
// Use NewServiceKey to create typed keys for your services.
type ServiceKey[T any] struct {
	name string
}

// NewServiceKey creates a new typed service key.
// The type parameter T ensures type safety when registering and resolving services.
//
// Example:
//
//	var PrimaryDB = NewServiceKey[*Database]("primary")
//	var ReplicaDB = NewServiceKey[*Database]("replica")
func NewServiceKey[T any](name string) ServiceKey[T] {
	return ServiceKey[T]{name: name}
}

// Name returns the registration name of the service key.
func (k ServiceKey[T]) Name() string {
	return k.name
}

// Key returns the build key the service key addresses.
func (k ServiceKey[T]) Key() BuildKey {
	return KeyOf[T](k.name)
}

// String implements fmt.Stringer.
func (k ServiceKey[T]) String() string {
	return k.Key().String()
}

// RegisterWithKey maps the key to the implementation type To.
//
// Example:
//
//	var PrimaryDB = NewServiceKey[Store]("primary")
//	RegisterWithKey[Store, *PostgresStore](c, PrimaryDB, AsSingleton())
func RegisterWithKey[T, To any](c *Container, key ServiceKey[T], opts ...RegisterOption) error {
	return Register[T, To](c, append(opts, WithName(key.name))...)
}

// RegisterInstanceWithKey registers instance under the key.
func RegisterInstanceWithKey[T any](c *Container, key ServiceKey[T], instance T, opts ...RegisterOption) error {
	return RegisterValue(c, instance, append(opts, WithName(key.name))...)
}

// ResolveWithKey resolves a service using a typed service key.
//
// Example:
//
//	db, err := ResolveWithKey(c, PrimaryDB)
func ResolveWithKey[T any](c *Container, key ServiceKey[T], overrides ...ResolverOverride) (T, error) {
	return resolveAs[T](c, key.Key(), overrides...)
}

// MustWithKey resolves a service using a typed service key and panics on error.
//
// Example:
//
//	db := MustWithKey(c, PrimaryDB)
func MustWithKey[T any](c *Container, key ServiceKey[T]) T {
	result, err := ResolveWithKey(c, key)
	if err != nil {
		panic(err)
	}

	return result
}

// HasKey checks if a service is registered using a typed service key.
func HasKey[T any](c *Container, key ServiceKey[T]) bool {
	return c.IsRegistered(TypeOf[T](), key.name)
}
