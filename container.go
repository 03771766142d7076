package anvil

import (
	"iter"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Container is the composition root: it owns policies, a staged strategy
// chain, a lifetime container and the named-type registry. Child containers
// chain all of them to their parent.
type Container struct {
	id     uuid.UUID
	parent *Container

	defaults   *PolicyList
	policies   *PolicyList
	strategies *StagedStrategyChain
	lifetime   *LifetimeContainer
	registry   *namedTypesRegistry
	middleware *middlewareChain
	events     *containerEvents

	settings Settings
	logger   *zap.Logger
	invoker  Invoker
	marker   InjectionMarker

	infos      map[BuildKey]RegistrationInfo
	order      []BuildKey
	extensions []Extension

	version    atomic.Uint64
	lifetimeMu sync.Mutex
	disposed   atomic.Bool
	// regMu serializes registrations; mu guards infos, order and extensions.
	regMu sync.Mutex
	mu    sync.RWMutex
}

// RegistrationInfo describes one registration for introspection.
type RegistrationInfo struct {
	// From is the registered type; it equals To for self registrations.
	From     Type
	To       Type
	Name     string
	Lifetime string
	// Instance reports a RegisterInstance registration.
	Instance  bool
	Container uuid.UUID
}

// Registration is the input of RegisterType. A nil From registers To under
// its own type.
type Registration struct {
	From     Type
	To       Type
	Name     string
	Lifetime LifetimeManager
	Members  []InjectionMember
}

// New creates a root container.
func New(opts ...Option) *Container {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	defaults := NewPolicyList(nil)

	c := &Container{
		id:         uuid.New(),
		defaults:   defaults,
		policies:   NewPolicyList(defaults),
		strategies: NewStagedStrategyChain(nil),
		lifetime:   NewLifetimeContainer(),
		registry:   newNamedTypesRegistry(nil),
		middleware: newMiddlewareChain(nil),
		events:     &containerEvents{},
		settings:   o.settings,
		logger:     o.logger,
		invoker:    o.invoker,
		marker:     o.marker,
		infos:      make(map[BuildKey]RegistrationInfo),
	}
	c.logger = c.logger.With(zap.String("container", c.id.String()))

	c.init(defaultStrategies{})
	c.logger.Debug("container created")

	return c
}

func (c *Container) init(builtins ...Extension) {
	for _, e := range append(builtins, &defaultBehavior{c: c}) {
		// built-in extensions never fail
		_ = e.Initialize(c.extensionContext())
	}

	self := NewExternallyControlled()
	self.MarkInUse()
	_ = c.events.fireRegisteringInstance(RegisterInstanceEvent{
		Type:     TypeOf[*Container](),
		Instance: c,
		Lifetime: self,
	})
	c.registry.register(TypeOf[*Container](), "")
}

func (c *Container) extensionContext() *ExtensionContext {
	return &ExtensionContext{
		Container:  c,
		Strategies: c.strategies,
		Policies:   c.policies,
		Lifetime:   c.lifetime,
		Logger:     c.logger,
		events:     c.events,
	}
}

// ID identifies the container in logs and registration info.
func (c *Container) ID() uuid.UUID {
	return c.id
}

// Parent returns the parent container, or nil for a root container.
func (c *Container) Parent() *Container {
	return c.parent
}

// Logger returns the container logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Settings returns the container settings.
func (c *Container) Settings() Settings {
	return c.settings
}

// CreateChildContainer creates a container that inherits this container's
// registrations, policies, strategies and middleware by reference. The child
// is disposed with its parent.
func (c *Container) CreateChildContainer() *Container {
	child := &Container{
		id:         uuid.New(),
		parent:     c,
		defaults:   c.defaults,
		policies:   NewPolicyList(c.policies),
		strategies: NewStagedStrategyChain(c.strategies),
		lifetime:   NewLifetimeContainer(),
		registry:   newNamedTypesRegistry(c.registry),
		middleware: newMiddlewareChain(c.middleware),
		events:     &containerEvents{},
		settings:   c.settings,
		logger:     c.logger,
		invoker:    c.invoker,
		marker:     c.marker,
		infos:      make(map[BuildKey]RegistrationInfo),
	}
	child.logger = c.logger.With(zap.String("child", child.id.String()))

	child.init()
	c.lifetime.Add(child)

	c.events.fireChildCreated(ChildContainerEvent{Parent: c, Child: child})
	c.logger.Debug("child container created", zap.String("child", child.id.String()))

	return child
}

// chainVersion changes whenever a registration is made on this container or
// an ancestor.
func (c *Container) chainVersion() uint64 {
	var v uint64
	for level := c; level != nil; level = level.parent {
		v += level.version.Load()
	}

	return v
}

// owning returns the container in this chain whose policies are list.
func (c *Container) owning(list *PolicyList) *Container {
	for level := c; level != nil; level = level.parent {
		if level.policies == list {
			return level
		}
	}

	return nil
}

// invalidate drops cached plans of the given keys and bumps the version so
// descendants rebuild theirs.
func (c *Container) invalidate(keys ...BuildKey) {
	for _, k := range keys {
		c.policies.Clear(kindOf[*cachedPlan](), k)
	}

	c.version.Add(1)
}

// =============================================================================
// REGISTRATION
// =============================================================================

// RegisterType registers a type mapping, lifetime and injection members.
// Registering an existing key replaces its mapping; a registration without a
// lifetime keeps the lifetime already configured for the target.
//
// Registration handlers run while registrations on c are serialized and must
// not register on c themselves. A failed registration leaves the container
// unchanged and the lifetime manager free to attach again.
func (c *Container) RegisterType(r Registration) error {
	return c.registerType(r, true)
}

// RegisterTypeIfAbsent is RegisterType that refuses to replace a mapping of
// the same key to a different target with a DuplicateMappingError.
func (c *Container) RegisterTypeIfAbsent(r Registration) error {
	return c.registerType(r, false)
}

func (c *Container) registerType(r Registration, overwrite bool) error {
	if c.disposed.Load() {
		return configError(CodeContainerDisposed, ErrContainerDisposed, "cannot register on a disposed container")
	}

	if r.To == nil {
		return configError(CodeInvalidRegistration, ErrNilArgument, "registration target type is nil")
	}

	from := r.From
	if from == nil {
		from = r.To
	}

	if err := validateMapping(from, r.To); err != nil {
		return err
	}

	key := BuildKey{Type: from, Name: r.Name}
	target := BuildKey{Type: r.To, Name: r.Name}

	if IsOpenGeneric(from) && len(r.Members) > 0 {
		return configError(CodeInvalidRegistration, nil, "injection members cannot be configured on open generic %s", from)
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	if !overwrite {
		if existing, ok := c.mappedTarget(key); ok && existing != target {
			return &DuplicateMappingError{Key: key, Existing: existing, Requested: target}
		}
	}

	lifetime := r.Lifetime
	if lifetime == nil && !c.hasLocalLifetime(target) {
		m, err := lifetimeByName(c.settings.DefaultLifetime)
		if err != nil {
			return configError(CodeInvalidRegistration, err, "default lifetime")
		}

		lifetime = m
	}

	if lifetime != nil && !lifetime.MarkInUse() {
		return configError(CodeLifetimeInUse, ErrLifetimeManagerInUse, "lifetime manager for %s", target)
	}

	err := c.events.fireRegistering(RegisterEvent{
		From:     from,
		To:       r.To,
		Name:     r.Name,
		Lifetime: lifetime,
		Members:  r.Members,
	})
	if err != nil {
		if lifetime != nil {
			releaseInUse(lifetime)
		}

		return err
	}

	c.registry.register(from, r.Name)
	c.record(RegistrationInfo{From: from, To: r.To, Name: r.Name, Lifetime: c.lifetimeLabel(target, lifetime)})
	c.invalidate(key, target)

	c.logger.Debug("registered type",
		zap.Stringer("from", key),
		zap.Stringer("to", target),
	)

	return nil
}

// validateMapping checks that to can stand in for from.
func validateMapping(from, to Type) error {
	fromOpen, toOpen := IsOpenGeneric(from), IsOpenGeneric(to)

	switch {
	case fromOpen && toOpen:
		fdef, _, _ := genericArgs(from)
		tdef, _, _ := genericArgs(to)

		if from != fdef.Open() || to != tdef.Open() {
			return configError(CodeIncompatibleTypes, ErrIncompatibleTypes, "generic mappings must use open definitions, got %s -> %s", from, to)
		}

		if fdef.Arity() != tdef.Arity() {
			return configError(CodeIncompatibleTypes, ErrIncompatibleTypes, "%s and %s have different numbers of type parameters", from, to)
		}
	case fromOpen || toOpen:
		return configError(CodeIncompatibleTypes, ErrIncompatibleTypes, "cannot map %s to %s: both types must be open generic definitions", from, to)
	case !assignableTo(to, from):
		return configError(CodeIncompatibleTypes, ErrIncompatibleTypes, "%s is not assignable to %s", to, from)
	}

	return nil
}

// mappedTarget returns the target the chain currently maps key to.
func (c *Container) mappedTarget(key BuildKey) (BuildKey, bool) {
	policy, _, ok := GetPolicy[BuildKeyMappingPolicy](c.policies, key)
	if !ok {
		return BuildKey{}, false
	}

	switch m := policy.(type) {
	case *BuildKeyMapping:
		return m.Target, true
	case *GenericMappingPolicy:
		return BuildKey{Type: m.To.Open(), Name: m.Name}, true
	}

	return BuildKey{}, false
}

func (c *Container) hasLocalLifetime(target BuildKey) bool {
	if _, ok := c.policies.GetExact(kindOf[LifetimePolicy](), target); ok {
		return true
	}

	_, ok := c.policies.GetExact(kindOf[LifetimeFactoryPolicy](), target)

	return ok
}

func (c *Container) lifetimeLabel(target BuildKey, m LifetimeManager) string {
	if m != nil {
		return lifetimeName(m)
	}

	if p, _, ok := GetPolicy[LifetimePolicy](c.policies, target); ok {
		return lifetimeName(p)
	}

	if f, _, ok := GetPolicy[LifetimeFactoryPolicy](c.policies, target); ok {
		if p, ok := f.(LifetimePolicy); ok {
			return lifetimeName(p)
		}
	}

	return lifetimeName(nil)
}

func (c *Container) record(info RegistrationInfo) {
	info.Container = c.id
	key := BuildKey{Type: info.From, Name: info.Name}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.infos[key]; !ok {
		c.order = append(c.order, key)
	}

	c.infos[key] = info
}

// RegisterInstance registers an existing instance for (t, name). A nil t uses
// the dynamic type of instance; a nil manager makes the container own the
// instance.
func (c *Container) RegisterInstance(t Type, name string, instance any, m LifetimeManager) error {
	if c.disposed.Load() {
		return configError(CodeContainerDisposed, ErrContainerDisposed, "cannot register on a disposed container")
	}

	if instance == nil {
		return configError(CodeInvalidRegistration, ErrNilArgument, "instance for %s is nil", BuildKey{Type: t, Name: name})
	}

	if t == nil {
		t = TypeOfValue(instance)
	}

	if rt := t.Reflect(); rt != nil && !reflect.TypeOf(instance).AssignableTo(rt) {
		return configError(CodeIncompatibleTypes, ErrIncompatibleTypes, "instance of %T is not assignable to %s", instance, t)
	}

	if m == nil {
		m = NewContainerControlled()
	}

	if !m.MarkInUse() {
		return configError(CodeLifetimeInUse, ErrLifetimeManagerInUse, "lifetime manager for %s", BuildKey{Type: t, Name: name})
	}

	key := BuildKey{Type: t, Name: name}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	if err := c.events.fireRegisteringInstance(RegisterInstanceEvent{Type: t, Name: name, Instance: instance, Lifetime: m}); err != nil {
		releaseInUse(m)

		return err
	}

	c.registry.register(t, name)
	c.record(RegistrationInfo{From: t, To: t, Name: name, Lifetime: lifetimeName(m), Instance: true})
	c.invalidate(key)

	c.logger.Debug("registered instance", zap.Stringer("key", key))

	return nil
}

// RegisterConstructor registers fn as a constructor candidate of its result
// type and registers that type under the configured name. As maps further
// types to it.
//
// Example:
//
//	func NewUserService(db *Database, logger Logger) *UserService { ... }
//	c.RegisterConstructor(NewUserService, anvil.AsSingleton())
func (c *Container) RegisterConstructor(fn any, opts ...RegisterOption) error {
	ci, err := analyzeConstructor(fn)
	if err != nil {
		return configError(CodeInvalidConstructor, err, "register constructor")
	}

	cfg := newRegisterConfig(opts)

	c.addConstructor(ci.Result, ci)

	err = c.RegisterType(Registration{
		To:       ci.Result,
		Name:     cfg.name,
		Lifetime: cfg.lifetime,
		Members:  cfg.members,
	})
	if err != nil {
		return err
	}

	for _, t := range cfg.as {
		if err := c.RegisterType(Registration{From: t, To: ci.Result, Name: cfg.name}); err != nil {
			return err
		}
	}

	return nil
}

// addConstructor appends a candidate, replacing the list so plans holding the
// old one are unaffected.
func (c *Container) addConstructor(t Type, ci *ConstructorInfo) {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	var ctors []*ConstructorInfo
	if existing, ok := c.policies.GetExact(kindOf[*constructorList](), t); ok {
		ctors = slices.Clone(existing.(*constructorList).ctors)
	} else if inherited, _, ok := GetPolicy[*constructorList](c.policies, t); ok {
		ctors = slices.Clone(inherited.ctors)
	}

	SetPolicy(c.policies, t, &constructorList{ctors: append(ctors, ci)})
	c.invalidate(BuildKey{Type: t})
}

// RegisterGenericConstructor adds a constructor for every instantiation of
// def. Parameter types may mention def's type parameters.
func (c *Container) RegisterGenericConstructor(def *GenericDefinition, ctor GenericConstructor) error {
	if def == nil || ctor.New == nil {
		return configError(CodeInvalidConstructor, ErrNilArgument, "generic constructor needs a definition and a New function")
	}

	for i, p := range ctor.Params {
		if p == nil {
			return configError(CodeInvalidConstructor, ErrNilArgument, "parameter %d of generic constructor for %s", i, def)
		}
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	var ctors []*GenericConstructor
	if existing, ok := c.policies.GetExact(kindOf[*genericConstructorList](), def); ok {
		ctors = slices.Clone(existing.(*genericConstructorList).ctors)
	} else if inherited, _, ok := GetPolicy[*genericConstructorList](c.policies, def); ok {
		ctors = slices.Clone(inherited.ctors)
	}

	gc := ctor
	SetPolicy(c.policies, def, &genericConstructorList{ctors: append(ctors, &gc)})
	c.registry.register(def.Open(), "")
	c.invalidate()

	return nil
}

// AddStrategy adds a strategy to a stage of this container's chain. Child
// containers see it too.
func (c *Container) AddStrategy(s BuilderStrategy, stage Stage) {
	c.strategies.Add(s, stage)
}

// AddPolicy sets a policy on this container.
func (c *Container) AddPolicy(kind reflect.Type, key any, value any) {
	c.policies.Set(kind, key, value)
	c.invalidate()
}

// AddExtension initializes e against this container.
func (c *Container) AddExtension(e Extension) error {
	if e == nil {
		return configError(CodeInvalidRegistration, ErrNilArgument, "extension is nil")
	}

	if err := e.Initialize(c.extensionContext()); err != nil {
		return configError(CodeInvalidRegistration, err, "initialize extension %T", e)
	}

	c.mu.Lock()
	c.extensions = append(c.extensions, e)
	c.mu.Unlock()

	c.invalidate()

	return nil
}

// Use adds resolve middleware. Middleware runs in the order added, parent
// container middleware first.
func (c *Container) Use(m Middleware) {
	c.middleware.add(m)
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve builds or returns the instance registered for key.
func (c *Container) Resolve(key BuildKey, overrides ...ResolverOverride) (any, error) {
	if err := c.middleware.beforeResolve(key); err != nil {
		return nil, err
	}

	instance, err := c.build(key, nil, overrides, nil)

	if mwErr := c.middleware.afterResolve(key, instance, err); mwErr != nil {
		return nil, mwErr
	}

	return instance, err
}

// ResolveAll resolves every named registration of t in registration order.
// The default (unnamed) registration is not included.
func (c *Container) ResolveAll(t Type, overrides ...ResolverOverride) ([]any, error) {
	var out []any

	for v, err := range c.All(t, overrides...) {
		if err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	return out, nil
}

// All iterates over the named registrations of t, resolving each one as the
// iteration reaches it.
func (c *Container) All(t Type, overrides ...ResolverOverride) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for _, name := range c.registry.names(t) {
			if name == "" {
				continue
			}

			if !yield(c.Resolve(BuildKey{Type: t, Name: name}, overrides...)) {
				return
			}
		}
	}
}

// BuildUp injects fields and calls injection methods on existing, running
// only the Setup, Initialization and PostInitialization stages. An interface
// key is replaced by the dynamic type of existing.
func (c *Container) BuildUp(key BuildKey, existing any, overrides ...ResolverOverride) (any, error) {
	if existing == nil {
		return nil, &ResolutionFailedError{Key: key, FailedKey: key, Err: errors.Wrap(ErrNilArgument, "existing instance")}
	}

	if key.Type == nil {
		key.Type = TypeOfValue(existing)
	} else if rt := key.Type.Reflect(); rt != nil && rt.Kind() == reflect.Interface {
		key.Type = TypeOfValue(existing)
	}

	return c.build(key, existing, overrides, []Stage{StageSetup, StageInitialization, StagePostInitialization})
}

// TearDown runs the teardown hooks of the pipeline on o.
func (c *Container) TearDown(o any) error {
	if o == nil {
		return nil
	}

	key := BuildKey{Type: TypeOfValue(o)}

	if c.disposed.Load() {
		return &ResolutionFailedError{Key: key, FailedKey: key, Err: ErrContainerDisposed}
	}

	chain := c.strategies.MakeStrategyChain()
	ctx := newRootContext(c, chain, key, o, nil)

	if err := chain.ExecuteTearDown(ctx); err != nil {
		return resolutionFailed(ctx, key, err)
	}

	return nil
}

func (c *Container) build(key BuildKey, existing any, overrides []ResolverOverride, stages []Stage) (any, error) {
	if c.disposed.Load() {
		return nil, &ResolutionFailedError{Key: key, FailedKey: key, Err: ErrContainerDisposed}
	}

	if key.Type == nil {
		return nil, &ResolutionFailedError{Key: key, FailedKey: key, Err: errors.Wrap(ErrNilArgument, "build key type")}
	}

	// dependencies always go through the full chain; stages only restrict
	// the top-level build
	full := c.strategies.MakeStrategyChain()
	run := full
	if stages != nil {
		run = full.only(stages...)
	}

	ctx := newRootContext(c, full, key, existing, overrides)

	instance, err := run.ExecuteBuildUp(ctx)
	if err != nil {
		c.logger.Debug("resolution failed", zap.Stringer("key", key), zap.Error(err))

		return nil, resolutionFailed(ctx, key, err)
	}

	return instance, nil
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// IsRegistered reports whether (t, name) is registered on this container or
// an ancestor.
func (c *Container) IsRegistered(t Type, name string) bool {
	return c.registry.has(t, name)
}

// Registrations lists the registrations visible from this container,
// ancestors first. A local registration replaces an inherited one of the same
// key.
func (c *Container) Registrations() []RegistrationInfo {
	var out []RegistrationInfo
	if c.parent != nil {
		out = c.parent.Registrations()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.order {
		info := c.infos[key]

		if i := slices.IndexFunc(out, func(r RegistrationInfo) bool { return r.From == info.From && r.Name == info.Name }); i >= 0 {
			out[i] = info

			continue
		}

		out = append(out, info)
	}

	return out
}

// =============================================================================
// DISPOSAL
// =============================================================================

// Dispose disposes child containers, then every instance owned by this
// container, and detaches the container from its parent. Failures of
// individual instances are combined into the returned error. Calling Dispose
// again is a no-op.
func (c *Container) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.lifetime.Dispose()

	if c.parent != nil {
		c.parent.lifetime.Remove(c)
	}

	c.policies.ClearAll()

	if err != nil {
		c.logger.Warn("container disposed with errors", zap.Error(err))
	} else {
		c.logger.Debug("container disposed")
	}

	return err
}
