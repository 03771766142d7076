package anvil

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// =============================================================================
// TYPE MAPPING
// =============================================================================

// BuildKeyMappingPolicy rewrites a build key during the TypeMapping stage.
type BuildKeyMappingPolicy interface {
	Map(key BuildKey, ctx *BuilderContext) (BuildKey, error)
}

// BuildKeyMapping maps a key to a fixed target. A mapping whose target is its
// own key marks an identity registration and stops further mapping.
type BuildKeyMapping struct {
	Target BuildKey
}

func (m *BuildKeyMapping) Map(BuildKey, *BuilderContext) (BuildKey, error) {
	return m.Target, nil
}

type buildKeyMappingStrategy struct {
	BuilderStrategyBase
}

func (buildKeyMappingStrategy) PreBuildUp(ctx *BuilderContext) error {
	seen := []BuildKey{ctx.BuildKey}

	for {
		policy, _, ok := GetPolicy[BuildKeyMappingPolicy](ctx.Policies, ctx.BuildKey)
		if !ok {
			return nil
		}

		next, err := policy.Map(ctx.BuildKey, ctx)
		if err != nil {
			return err
		}

		if next == ctx.BuildKey {
			return nil
		}

		for _, k := range seen {
			if k == next {
				return errors.Wrapf(ErrCyclicTypeMapping, "%s", mappingPath(append(seen, next)))
			}
		}

		seen = append(seen, next)
		ctx.BuildKey = next
	}
}

func mappingPath(keys []BuildKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}

	return strings.Join(parts, " -> ")
}

// =============================================================================
// LIFETIME
// =============================================================================

// hierarchicalLifetimeStrategy gives each container that resolves a key with
// a hierarchical manager its own manager.
type hierarchicalLifetimeStrategy struct {
	BuilderStrategyBase
}

func (hierarchicalLifetimeStrategy) PreBuildUp(ctx *BuilderContext) error {
	policy, containing, ok := GetPolicy[LifetimePolicy](ctx.Policies, ctx.BuildKey)
	if !ok || containing == ctx.PersistentPolicies {
		return nil
	}

	if _, ok := policy.(*HierarchicalLifetimeManager); !ok {
		return nil
	}

	// factory made managers are placed by lifetimeFor
	if _, made := lifetimeOrigin(containing, ctx.BuildKey); made {
		return nil
	}

	c := ctx.container

	c.lifetimeMu.Lock()
	defer c.lifetimeMu.Unlock()

	if _, ok := ctx.PersistentPolicies.GetExact(kindOf[LifetimePolicy](), ctx.BuildKey); ok {
		return nil
	}

	local := NewHierarchical()
	local.MarkInUse()
	SetPolicy[LifetimePolicy](ctx.PersistentPolicies, ctx.BuildKey, LifetimePolicy(local))
	c.lifetime.Add(local)

	return nil
}

// heldLock is implemented by managers that keep a lock between a miss in
// GetValue and the matching SetValue.
type heldLock interface {
	heldRecovery() RequiresRecovery
}

type lifetimeStrategy struct {
	BuilderStrategyBase
}

func (lifetimeStrategy) PreBuildUp(ctx *BuilderContext) error {
	if ctx.Existing != nil {
		return nil
	}

	policy := lifetimeFor(ctx)
	if policy == nil {
		return nil
	}

	if pr, ok := policy.(*PerResolveLifetimeManager); ok {
		if v, ok := ctx.root.perResolve[pr]; ok {
			ctx.Existing = v
			ctx.BuildComplete = true

			return nil
		}

		ctx.pendingLifetime = pr

		return nil
	}

	if ctx.inProgress(ctx.BuildKey) {
		return errors.Wrap(ErrCircularDependency, ctx.pathTo(ctx.BuildKey))
	}

	if v, ok := policy.GetValue(); ok {
		ctx.Existing = v
		ctx.BuildComplete = true

		return nil
	}

	switch p := policy.(type) {
	case heldLock:
		ctx.Recovery.Add(p.heldRecovery())
	case RequiresRecovery:
		ctx.Recovery.Add(p)
	}

	ctx.pendingLifetime = policy

	return nil
}

func (lifetimeStrategy) PostBuildUp(ctx *BuilderContext) error {
	policy := ctx.pendingLifetime
	if policy == nil {
		return nil
	}

	ctx.pendingLifetime = nil

	if pr, ok := policy.(*PerResolveLifetimeManager); ok {
		ctx.root.perResolve[pr] = ctx.Existing

		return nil
	}

	policy.SetValue(ctx.Existing)

	return nil
}

// closedLifetime marks a manager created from a lifetime factory for one
// closed key, recording the factory that made it.
type closedLifetime struct {
	factory LifetimeFactoryPolicy
}

func lifetimeOrigin(list *PolicyList, key BuildKey) (LifetimeFactoryPolicy, bool) {
	v, ok := list.GetExact(kindOf[*closedLifetime](), key)
	if !ok {
		return nil, false
	}

	return v.(*closedLifetime).factory, true
}

// lifetimeFor returns the lifetime policy of ctx.BuildKey. Keys covered by a
// lifetime factory (open generic registrations) get their own manager on
// first use, owned by the container that holds the factory, or by the
// resolving container for hierarchical managers. A manager made by a factory
// that has since been replaced is stale and gets replaced too.
func lifetimeFor(ctx *BuilderContext) LifetimePolicy {
	key := ctx.BuildKey

	policy, holder, ok := GetPolicy[LifetimePolicy](ctx.Policies, key)
	if ok {
		if _, made := lifetimeOrigin(holder, key); !made {
			return policy
		}
	}

	factory, containing, found := GetPolicy[LifetimeFactoryPolicy](ctx.Policies, key)
	if !found {
		if ok {
			return policy
		}

		return nil
	}

	owner := ctx.container.owning(containing)
	if _, ok := factory.(*HierarchicalLifetimeManager); ok || owner == nil {
		owner, containing = ctx.container, ctx.PersistentPolicies
	}

	owner.lifetimeMu.Lock()
	defer owner.lifetimeMu.Unlock()

	if p, ok := containing.GetExact(kindOf[LifetimePolicy](), key); ok {
		if origin, made := lifetimeOrigin(containing, key); !made || origin == factory {
			return p.(LifetimePolicy)
		}
	}

	m := factory.CreateLifetimePolicy()
	m.MarkInUse()
	containing.Set(kindOf[*closedLifetime](), key, &closedLifetime{factory: factory})
	SetPolicy[LifetimePolicy](containing, key, LifetimePolicy(m))
	owner.lifetime.Add(m)

	return m
}

// =============================================================================
// PRE-CREATION SHAPES
// =============================================================================

// arrayResolutionStrategy builds slice types with no registered constructor
// from every named registration of the element type.
type arrayResolutionStrategy struct {
	BuilderStrategyBase
}

func (arrayResolutionStrategy) PreBuildUp(ctx *BuilderContext) error {
	if ctx.Existing != nil {
		return nil
	}

	t := ctx.BuildKey.Type

	var elem Type

	switch v := t.(type) {
	case goType:
		if v.rt.Kind() != reflect.Slice || hasConstructorCandidates(ctx.Policies, t) {
			return nil
		}

		elem = TypeFromReflect(v.rt.Elem())
	case *arrayType:
		if v.rank != 1 || containsTypeParams(v.elem) {
			return errors.Wrapf(ErrNotConstructible, "array shape %s", v)
		}

		elem = v.elem
	default:
		return nil
	}

	items := reflect.MakeSlice(sliceOf(t), 0, 0)

	for _, name := range ctx.container.registry.names(elem) {
		if name == "" {
			continue
		}

		v, err := ctx.NewBuildUp(BuildKey{Type: elem, Name: name})
		if err != nil {
			return err
		}

		rv, err := valueFor(v, items.Type().Elem())
		if err != nil {
			return err
		}

		items = reflect.Append(items, rv)
	}

	ctx.Existing = items.Interface()
	ctx.BuildComplete = true

	return nil
}

func sliceOf(t Type) reflect.Type {
	if rt := t.Reflect(); rt != nil {
		return rt
	}

	return reflect.TypeFor[[]any]()
}

// deferredStrategy builds func() T and func() (T, error) values that resolve
// T from the building container when called.
type deferredStrategy struct {
	BuilderStrategyBase
}

func (deferredStrategy) PreBuildUp(ctx *BuilderContext) error {
	g, ok := ctx.BuildKey.Type.(goType)
	if ctx.Existing != nil || !ok || !isDeferredFunc(g.rt) || hasConstructorCandidates(ctx.Policies, g) {
		return nil
	}

	fnType := g.rt
	key := BuildKey{Type: TypeFromReflect(fnType.Out(0)), Name: ctx.BuildKey.Name}
	c := ctx.container

	fn := reflect.MakeFunc(fnType, func([]reflect.Value) []reflect.Value {
		v, err := c.Resolve(key)

		out := reflect.Zero(fnType.Out(0))
		if err == nil {
			if rv, verr := valueFor(v, fnType.Out(0)); verr == nil {
				out = rv
			} else {
				err = verr
			}
		}

		if fnType.NumOut() == 1 {
			if err != nil {
				panic(err)
			}

			return []reflect.Value{out}
		}

		errVal := reflect.Zero(errorType)
		if err != nil {
			errVal = reflect.ValueOf(&err).Elem()
		}

		return []reflect.Value{out, errVal}
	})

	ctx.Existing = fn.Interface()
	ctx.BuildComplete = true

	return nil
}

// lazyBinder is implemented by the lazy dependency wrappers.
type lazyBinder interface {
	bind(c *Container, name string)
}

var lazyBinderType = reflect.TypeFor[lazyBinder]()

// lazyStrategy builds *Lazy[T], *OptionalLazy[T] and *Provider[T] values bound
// to the building container.
type lazyStrategy struct {
	BuilderStrategyBase
}

func (lazyStrategy) PreBuildUp(ctx *BuilderContext) error {
	g, ok := ctx.BuildKey.Type.(goType)
	if ctx.Existing != nil || !ok || g.rt.Kind() != reflect.Pointer || !g.rt.Implements(lazyBinderType) {
		return nil
	}

	v := reflect.New(g.rt.Elem())
	v.Interface().(lazyBinder).bind(ctx.container, ctx.BuildKey.Name)

	ctx.Existing = v.Interface()
	ctx.BuildComplete = true

	return nil
}

// =============================================================================
// CREATION AND INITIALIZATION
// =============================================================================

type buildPlanStrategy struct {
	BuilderStrategyBase
}

func (buildPlanStrategy) PreBuildUp(ctx *BuilderContext) error {
	if ctx.Existing != nil {
		return nil
	}

	plan, err := planFor(ctx)
	if err != nil {
		return err
	}

	ctx.plan = plan

	return plan.Create(ctx)
}

type initializationStrategy struct {
	BuilderStrategyBase
}

func (initializationStrategy) PreBuildUp(ctx *BuilderContext) error {
	if ctx.Existing == nil {
		return nil
	}

	plan := ctx.plan
	if plan == nil {
		var err error
		if plan, err = planFor(ctx); err != nil {
			return err
		}
	}

	return plan.Initialize(ctx)
}

type builderAwareStrategy struct {
	BuilderStrategyBase
}

func (builderAwareStrategy) PreBuildUp(ctx *BuilderContext) error {
	if aware, ok := ctx.Existing.(BuilderAware); ok {
		return aware.OnBuiltUp(ctx.BuildKey)
	}

	return nil
}

func (builderAwareStrategy) PreTearDown(ctx *BuilderContext) error {
	if aware, ok := ctx.Existing.(BuilderAware); ok {
		return aware.OnTearingDown()
	}

	return nil
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

type diagnosticsStrategy struct {
	BuilderStrategyBase
}

func (diagnosticsStrategy) PreBuildUp(ctx *BuilderContext) error {
	if log := ctx.container.logger; log.Core().Enabled(zap.DebugLevel) {
		log.Debug("building",
			zap.Stringer("key", ctx.OriginalBuildKey),
			zap.Int("depth", ctx.depth),
		)
	}

	return nil
}

func (diagnosticsStrategy) PostBuildUp(ctx *BuilderContext) error {
	if log := ctx.container.logger; log.Core().Enabled(zap.DebugLevel) {
		log.Debug("built",
			zap.Stringer("key", ctx.OriginalBuildKey),
			zap.Stringer("target", ctx.BuildKey),
			zap.String("type", fmt.Sprintf("%T", ctx.Existing)),
		)
	}

	return nil
}

func (diagnosticsStrategy) PreTearDown(ctx *BuilderContext) error {
	if log := ctx.container.logger; log.Core().Enabled(zap.DebugLevel) {
		log.Debug("tearing down", zap.Stringer("key", ctx.BuildKey))
	}

	return nil
}
