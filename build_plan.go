package anvil

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// BuildPlan constructs and initializes instances of one build key.
type BuildPlan interface {
	// Create sets ctx.Existing to a new instance.
	Create(ctx *BuilderContext) error
	// Initialize injects fields and calls injection methods on ctx.Existing.
	Initialize(ctx *BuilderContext) error
}

// BuildPlanCreatorPolicy creates the plan of a key on a cache miss.
type BuildPlanCreatorPolicy interface {
	CreatePlan(ctx *BuilderContext, key BuildKey) (BuildPlan, error)
}

// DynamicBuildPlanCreator creates interpreted plans that consult the selector
// policies once and replay the selection on every build.
type DynamicBuildPlanCreator struct{}

func (DynamicBuildPlanCreator) CreatePlan(_ *BuilderContext, key BuildKey) (BuildPlan, error) {
	return &dynamicPlan{key: key}, nil
}

// cachedPlan is stored in the resolving container's own policies, stamped
// with the registration version of its container chain.
type cachedPlan struct {
	plan    BuildPlan
	version uint64
}

// planFor returns the cached plan of ctx.BuildKey, creating it when missing or
// stale.
func planFor(ctx *BuilderContext) (BuildPlan, error) {
	key := ctx.BuildKey
	version := ctx.container.chainVersion()
	kind := kindOf[*cachedPlan]()

	if v, ok := ctx.PersistentPolicies.GetExact(kind, key); ok {
		if cp := v.(*cachedPlan); cp.version == version {
			return cp.plan, nil
		}
	}

	creator, _, ok := GetPolicy[BuildPlanCreatorPolicy](ctx.Policies, key)
	if !ok {
		creator = DynamicBuildPlanCreator{}
	}

	plan, err := creator.CreatePlan(ctx, key)
	if err != nil {
		return nil, err
	}

	ctx.PersistentPolicies.Set(kind, key, &cachedPlan{plan: plan, version: version})

	return plan, nil
}

type dynamicPlan struct {
	key BuildKey

	mu      sync.Mutex
	ctor    *SelectedConstructor
	props   []SelectedProperty
	methods []SelectedMethod
	members bool
}

func (p *dynamicPlan) constructor(ctx *BuilderContext) (*SelectedConstructor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// a build with overrides may select differently, so it selects afresh
	// and never reuses or stores an override-driven choice
	overrides := ctx.hasOverrides()
	if p.ctor != nil && !overrides {
		return p.ctor, nil
	}

	selector, _, ok := GetPolicy[ConstructorSelectorPolicy](ctx.Policies, p.key)
	if !ok {
		selector = DefaultConstructorSelector{}
	}

	sel, err := selector.SelectConstructor(ctx)
	if err != nil {
		return nil, err
	}

	if !sel.byOverride {
		p.ctor = sel
	}

	return sel, nil
}

func (p *dynamicPlan) selectMembers(ctx *BuilderContext) ([]SelectedProperty, []SelectedMethod, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.members {
		return p.props, p.methods, nil
	}

	ps, _, ok := GetPolicy[PropertySelectorPolicy](ctx.Policies, p.key)
	if !ok {
		ps = DefaultPropertySelector{}
	}

	props, err := ps.SelectProperties(ctx)
	if err != nil {
		return nil, nil, err
	}

	ms, _, ok := GetPolicy[MethodSelectorPolicy](ctx.Policies, p.key)
	if !ok {
		ms = DefaultMethodSelector{}
	}

	methods, err := ms.SelectMethods(ctx)
	if err != nil {
		return nil, nil, err
	}

	p.props, p.methods, p.members = props, methods, true

	return props, methods, nil
}

func (p *dynamicPlan) Create(ctx *BuilderContext) error {
	if IsOpenGeneric(p.key.Type) {
		return errors.Wrapf(ErrGenericClosing, "cannot build open generic type %s", p.key.Type)
	}

	sel, err := p.constructor(ctx)
	if err != nil {
		return err
	}

	ci := sel.Constructor
	args := make([]any, len(ci.Params))

	for i, param := range ci.Params {
		ctx.CurrentOperation = ConstructorArgument{Target: p.key.Type, Constructor: ci.Name, Index: i, ParamType: param}

		v, err := resolveDependency(ctx, param, sel.Resolvers[i])
		if err != nil {
			return err
		}

		args[i] = v
	}

	ctx.CurrentOperation = operationString("calling constructor " + ci.Name)

	instance, err := ctx.container.invoker.Construct(ci, args)
	if err != nil {
		return errors.Wrapf(err, "constructor %s", ci.Name)
	}

	ctx.CurrentOperation = nil
	ctx.Existing = instance

	return nil
}

func (p *dynamicPlan) Initialize(ctx *BuilderContext) error {
	props, methods, err := p.selectMembers(ctx)
	if err != nil {
		return err
	}

	if len(props) == 0 && len(methods) == 0 {
		return nil
	}

	target, copied, ok := addressable(ctx.Existing)
	if !ok {
		return nil
	}

	invoker := ctx.container.invoker

	for _, sp := range props {
		ctx.CurrentOperation = PropertyValue{Target: p.key.Type, Property: sp.Property.Name, PropertyType: sp.Property.Type}

		v, err := resolveDependency(ctx, sp.Property.Type, sp.Resolver)
		if err != nil {
			return err
		}

		if err := invoker.SetProperty(target, sp.Property, v); err != nil {
			return err
		}
	}

	for _, sm := range methods {
		args := make([]any, len(sm.Method.Params))

		for i, param := range sm.Method.Params {
			ctx.CurrentOperation = MethodArgument{Target: p.key.Type, Method: sm.Method.Name, Index: i, ParamType: param}

			v, err := resolveDependency(ctx, param, sm.Resolvers[i])
			if err != nil {
				return err
			}

			args[i] = v
		}

		ctx.CurrentOperation = operationString("calling method " + sm.Method.Name)

		if err := invoker.Invoke(target, sm.Method, args); err != nil {
			return errors.Wrapf(err, "method %s", sm.Method.Name)
		}
	}

	ctx.CurrentOperation = nil

	if copied {
		ctx.Existing = target.Elem().Interface()
	}

	return nil
}

// resolveDependency resolves one dependency, preferring an override.
func resolveDependency(ctx *BuilderContext, dependency Type, r DependencyResolver) (any, error) {
	if o, ok := ctx.OverriddenResolver(dependency); ok {
		r = o
	}

	return r.Resolve(ctx)
}

// addressable returns a pointer to the struct instance. Struct values are
// copied and reported so the caller can store the initialized copy.
func addressable(instance any) (reflect.Value, bool, bool) {
	rv := reflect.ValueOf(instance)

	switch {
	case !rv.IsValid():
		return reflect.Value{}, false, false
	case rv.Kind() == reflect.Pointer && rv.Type().Elem().Kind() == reflect.Struct:
		return rv, false, !rv.IsNil()
	case rv.Kind() == reflect.Struct:
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)

		return p, true, true
	}

	return reflect.Value{}, false, false
}
