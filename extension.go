package anvil

import (
	"sync"

	"go.uber.org/zap"
)

// Extension adds strategies, policies or registration behaviour to a
// container. Initialize is called once, when the extension is added.
type Extension interface {
	Initialize(ctx *ExtensionContext) error
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc func(ctx *ExtensionContext) error

func (f ExtensionFunc) Initialize(ctx *ExtensionContext) error { return f(ctx) }

// RegisterEvent describes a RegisterType call. From is never nil.
type RegisterEvent struct {
	From     Type
	To       Type
	Name     string
	Lifetime LifetimeManager
	Members  []InjectionMember
}

// RegisterInstanceEvent describes a RegisterInstance call.
type RegisterInstanceEvent struct {
	Type     Type
	Name     string
	Instance any
	Lifetime LifetimeManager
}

// ChildContainerEvent describes a newly created child container.
type ChildContainerEvent struct {
	Parent *Container
	Child  *Container
}

// ExtensionContext is what an extension may touch: the container's local
// strategy chain, policies and lifetime container, plus typed registration
// events.
type ExtensionContext struct {
	Container  *Container
	Strategies *StagedStrategyChain
	Policies   *PolicyList
	Lifetime   *LifetimeContainer
	Logger     *zap.Logger

	events *containerEvents
}

// OnRegistering subscribes to RegisterType calls. Handlers run before the
// container applies the registration; a handler error aborts it and is
// returned to the caller.
func (x *ExtensionContext) OnRegistering(fn func(RegisterEvent) error) {
	x.events.mu.Lock()
	defer x.events.mu.Unlock()

	x.events.registering = append(x.events.registering, fn)
}

// OnRegisteringInstance subscribes to RegisterInstance calls.
func (x *ExtensionContext) OnRegisteringInstance(fn func(RegisterInstanceEvent) error) {
	x.events.mu.Lock()
	defer x.events.mu.Unlock()

	x.events.instances = append(x.events.instances, fn)
}

// OnChildContainerCreated subscribes to CreateChildContainer calls.
func (x *ExtensionContext) OnChildContainerCreated(fn func(ChildContainerEvent)) {
	x.events.mu.Lock()
	defer x.events.mu.Unlock()

	x.events.children = append(x.events.children, fn)
}

type containerEvents struct {
	registering []func(RegisterEvent) error
	instances   []func(RegisterInstanceEvent) error
	children    []func(ChildContainerEvent)

	// applied after every handler accepted the registration
	applyType     func(RegisterEvent) error
	applyInstance func(RegisterInstanceEvent) error

	mu sync.RWMutex
}

func (e *containerEvents) fireRegistering(ev RegisterEvent) error {
	e.mu.RLock()
	handlers, apply := e.registering, e.applyType
	e.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ev); err != nil {
			return err
		}
	}

	if apply == nil {
		return nil
	}

	return apply(ev)
}

func (e *containerEvents) fireRegisteringInstance(ev RegisterInstanceEvent) error {
	e.mu.RLock()
	handlers, apply := e.instances, e.applyInstance
	e.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ev); err != nil {
			return err
		}
	}

	if apply == nil {
		return nil
	}

	return apply(ev)
}

func (e *containerEvents) fireChildCreated(ev ChildContainerEvent) {
	e.mu.RLock()
	handlers := e.children
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// defaultStrategies installs the built-in pipeline and the default selector
// policies. Only root containers install it; children inherit the chain.
type defaultStrategies struct{}

func (defaultStrategies) Initialize(x *ExtensionContext) error {
	x.Strategies.Add(diagnosticsStrategy{}, StageSetup)
	x.Strategies.Add(buildKeyMappingStrategy{}, StageTypeMapping)
	x.Strategies.Add(hierarchicalLifetimeStrategy{}, StageLifetime)
	x.Strategies.Add(lifetimeStrategy{}, StageLifetime)
	x.Strategies.Add(arrayResolutionStrategy{}, StagePreCreation)
	x.Strategies.Add(deferredStrategy{}, StagePreCreation)
	x.Strategies.Add(lazyStrategy{}, StagePreCreation)
	x.Strategies.Add(buildPlanStrategy{}, StageCreation)
	x.Strategies.Add(initializationStrategy{}, StageInitialization)
	x.Strategies.Add(builderAwareStrategy{}, StagePostInitialization)

	defaults := x.Container.defaults
	SetDefaultPolicy[ConstructorSelectorPolicy](defaults, DefaultConstructorSelector{})
	SetDefaultPolicy[PropertySelectorPolicy](defaults, DefaultPropertySelector{})
	SetDefaultPolicy[MethodSelectorPolicy](defaults, DefaultMethodSelector{})
	SetDefaultPolicy[BuildPlanCreatorPolicy](defaults, DefaultBuildPlanCreator())

	return nil
}

// DefaultBuildPlanCreator returns the creator used when no other is set.
func DefaultBuildPlanCreator() BuildPlanCreatorPolicy {
	return DynamicBuildPlanCreator{}
}

// defaultBehavior turns registration events into policies on its container.
// It runs after every extension handler, and writes nothing unless the whole
// registration is valid.
type defaultBehavior struct {
	c *Container
}

func (b *defaultBehavior) Initialize(x *ExtensionContext) error {
	x.events.mu.Lock()
	defer x.events.mu.Unlock()

	x.events.applyType = b.onRegistering
	x.events.applyInstance = b.onRegisteringInstance

	return nil
}

func (b *defaultBehavior) onRegistering(ev RegisterEvent) error {
	c := b.c
	key := BuildKey{Type: ev.From, Name: ev.Name}
	target := BuildKey{Type: ev.To, Name: ev.Name}
	generic := IsOpenGeneric(ev.From)

	members := NewPolicyList(nil)
	for _, m := range ev.Members {
		if err := m.addPolicies(target, members); err != nil {
			return err
		}
	}

	switch {
	case generic:
		fdef, _, _ := genericArgs(ev.From)
		tdef, _, _ := genericArgs(ev.To)
		SetPolicy[BuildKeyMappingPolicy](c.policies, key, BuildKeyMappingPolicy(&GenericMappingPolicy{From: fdef, To: tdef, Name: ev.Name}))
	case ev.From != ev.To:
		SetPolicy[BuildKeyMappingPolicy](c.policies, key, BuildKeyMappingPolicy(&BuildKeyMapping{Target: target}))
	default:
		ClearPolicy[BuildKeyMappingPolicy](c.policies, key)
	}

	if ev.Lifetime != nil {
		if generic {
			ClearPolicy[LifetimePolicy](c.policies, target)
			SetPolicy[LifetimeFactoryPolicy](c.policies, target, LifetimeFactoryPolicy(ev.Lifetime))
		} else {
			ClearPolicy[LifetimeFactoryPolicy](c.policies, target)
			ClearPolicy[*closedLifetime](c.policies, target)
			SetPolicy[LifetimePolicy](c.policies, target, LifetimePolicy(ev.Lifetime))
			c.lifetime.Add(ev.Lifetime)
		}
	}

	if len(ev.Members) > 0 {
		clearMembers(target, c.policies)
		members.mergeInto(c.policies)
	}

	return nil
}

func (b *defaultBehavior) onRegisteringInstance(ev RegisterInstanceEvent) error {
	c := b.c
	key := BuildKey{Type: ev.Type, Name: ev.Name}

	ev.Lifetime.SetValue(ev.Instance)

	SetPolicy[BuildKeyMappingPolicy](c.policies, key, BuildKeyMappingPolicy(&BuildKeyMapping{Target: key}))
	ClearPolicy[LifetimeFactoryPolicy](c.policies, key)
	ClearPolicy[*closedLifetime](c.policies, key)
	SetPolicy[LifetimePolicy](c.policies, key, LifetimePolicy(ev.Lifetime))
	c.lifetime.Add(ev.Lifetime)

	return nil
}
