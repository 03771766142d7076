package anvil

import "go.uber.org/zap"

// Option configures a root container.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	settings Settings
	invoker  Invoker
	marker   InjectionMarker
}

func defaultOptions() options {
	return options{
		logger:   zap.NewNop(),
		settings: DefaultSettings(),
		invoker:  ReflectInvoker{},
		marker:   TagMarker{Key: "inject"},
	}
}

// WithLogger sets the container logger. Child containers share it.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSettings replaces the container settings.
func WithSettings(s Settings) Option {
	return func(o *options) {
		o.settings = s
	}
}

// WithMaxDepth limits how deeply builds may nest. Zero disables the limit.
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		o.settings.MaxDepth = depth
	}
}

// WithInvoker replaces the reflection based Invoker.
func WithInvoker(inv Invoker) Option {
	return func(o *options) {
		if inv != nil {
			o.invoker = inv
		}
	}
}

// WithInjectionMarker replaces the struct tag based field selection.
func WithInjectionMarker(m InjectionMarker) Option {
	return func(o *options) {
		if m != nil {
			o.marker = m
		}
	}
}

// RegisterOption configures a registration made through the typed helpers
// and RegisterConstructor.
type RegisterOption interface {
	applyRegister(*registerConfig)
}

type registerConfig struct {
	name     string
	lifetime LifetimeManager
	members  []InjectionMember
	as       []Type
}

type registerOptionFunc func(*registerConfig)

func (f registerOptionFunc) applyRegister(c *registerConfig) { f(c) }

func newRegisterConfig(opts []RegisterOption) registerConfig {
	var cfg registerConfig
	for _, opt := range opts {
		opt.applyRegister(&cfg)
	}

	return cfg
}

// WithName registers under a name instead of the default registration.
//
// Example:
//
//	c.RegisterConstructor(NewPrimaryDB, anvil.WithName("primary"))
//	c.RegisterConstructor(NewReplicaDB, anvil.WithName("replica"))
func WithName(name string) RegisterOption {
	return registerOptionFunc(func(c *registerConfig) {
		c.name = name
	})
}

// WithLifetime attaches a lifetime manager. A manager can only be attached
// once.
func WithLifetime(m LifetimeManager) RegisterOption {
	return registerOptionFunc(func(c *registerConfig) {
		c.lifetime = m
	})
}

// WithMembers adds injection members.
func WithMembers(members ...InjectionMember) RegisterOption {
	return registerOptionFunc(func(c *registerConfig) {
		c.members = append(c.members, members...)
	})
}

// As also maps the given types (usually interfaces) to the registered type.
//
// Example:
//
//	c.RegisterConstructor(NewFileStore, anvil.As(anvil.TypeOf[Reader](), anvil.TypeOf[Writer]()))
func As(types ...Type) RegisterOption {
	return registerOptionFunc(func(c *registerConfig) {
		c.as = append(c.as, types...)
	})
}

// AsSingleton keeps one instance per owning container.
func AsSingleton() RegisterOption {
	return registerOptionFunc(func(c *registerConfig) {
		c.lifetime = NewContainerControlled()
	})
}

// AsTransient builds a new instance on every resolve (the default).
func AsTransient() RegisterOption {
	return registerOptionFunc(func(c *registerConfig) {
		c.lifetime = NewTransient()
	})
}

// AsHierarchical keeps one instance per resolving container.
func AsHierarchical() RegisterOption {
	return registerOptionFunc(func(c *registerConfig) {
		c.lifetime = NewHierarchical()
	})
}

// AsPerResolve shares one instance within each top-level resolve.
func AsPerResolve() RegisterOption {
	return registerOptionFunc(func(c *registerConfig) {
		c.lifetime = NewPerResolve()
	})
}
