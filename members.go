package anvil

import (
	"reflect"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// PropertyInfo is an injectable struct field.
type PropertyInfo struct {
	Name  string
	Index []int
	Type  Type
}

// MethodInfo is an injection method, called on a pointer to the instance.
type MethodInfo struct {
	Name   string
	Params []Type
}

// InjectionMarker decides which struct fields are injected and under which
// registration name.
type InjectionMarker interface {
	Field(f reflect.StructField) (name string, optional bool, ok bool)
}

// TagMarker marks fields with a struct tag: `inject:""` injects the default
// registration, `inject:"name"` a named one and `inject:",optional"` leaves
// the field zero when nothing can build it. `inject:"-"` excludes a field.
type TagMarker struct {
	Key string
}

func (m TagMarker) Field(f reflect.StructField) (string, bool, bool) {
	key := m.Key
	if key == "" {
		key = "inject"
	}

	tag, ok := f.Tag.Lookup(key)
	if !ok || tag == "-" {
		return "", false, false
	}

	name, opts, _ := strings.Cut(tag, ",")

	optional := false
	for _, o := range strings.Split(opts, ",") {
		if strings.TrimSpace(o) == "optional" {
			optional = true
		}
	}

	return strings.TrimSpace(name), optional, true
}

// structShape returns the struct type behind t, for struct and
// pointer-to-struct Go types.
func structShape(t Type) (reflect.Type, bool) {
	g, ok := t.(goType)
	if !ok {
		return nil, false
	}

	rt := g.rt
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	if rt.Kind() != reflect.Struct {
		return nil, false
	}

	return rt, true
}

// settableField reports whether f can be set through an addressable struct:
// exported and not promoted through an embedded pointer.
func settableField(st reflect.Type, f reflect.StructField) bool {
	if !f.IsExported() {
		return false
	}

	cur := st
	for _, i := range f.Index[:len(f.Index)-1] {
		ft := cur.Field(i).Type
		if ft.Kind() != reflect.Struct {
			return false
		}

		cur = ft
	}

	return true
}

// findField looks up an injectable field by name.
func findField(t Type, name string) (*PropertyInfo, error) {
	st, ok := structShape(t)
	if !ok {
		return nil, errors.Wrapf(ErrMissingMember, "%s has no fields", t)
	}

	f, ok := st.FieldByName(name)
	if !ok || !settableField(st, f) {
		return nil, errors.Wrapf(ErrMissingMember, "%s has no settable field %s", t, name)
	}

	return &PropertyInfo{Name: f.Name, Index: f.Index, Type: TypeFromReflect(f.Type)}, nil
}

// findMethod looks up an injection method by name on the pointer type of t.
func findMethod(t Type, name string) (*MethodInfo, error) {
	st, ok := structShape(t)
	if !ok {
		return nil, errors.Wrapf(ErrMissingMember, "%s has no methods", t)
	}

	m, ok := reflect.PointerTo(st).MethodByName(name)
	if !ok || !m.IsExported() {
		return nil, errors.Wrapf(ErrMissingMember, "%s has no exported method %s", t, name)
	}

	// In(0) is the receiver.
	mt := m.Type
	if mt.IsVariadic() {
		return nil, errors.Errorf("variadic method %s.%s cannot be injected", t, name)
	}

	info := &MethodInfo{Name: name}
	for i := 1; i < mt.NumIn(); i++ {
		info.Params = append(info.Params, TypeFromReflect(mt.In(i)))
	}

	return info, nil
}

// =============================================================================
// SELECTION POLICIES
// =============================================================================

// SelectedConstructor is a constructor with one resolver per parameter.
type SelectedConstructor struct {
	Constructor *ConstructorInfo
	Resolvers   []DependencyResolver

	// set when only a resolver override made the constructor viable; such a
	// selection is not reused by builds without that override
	byOverride bool
}

// SelectedProperty is a field with its resolver.
type SelectedProperty struct {
	Property *PropertyInfo
	Resolver DependencyResolver
}

// SelectedMethod is an injection method with one resolver per parameter.
type SelectedMethod struct {
	Method    *MethodInfo
	Resolvers []DependencyResolver
}

// ConstructorSelectorPolicy chooses how ctx.BuildKey is constructed.
type ConstructorSelectorPolicy interface {
	SelectConstructor(ctx *BuilderContext) (*SelectedConstructor, error)
}

// PropertySelectorPolicy chooses the fields injected into ctx.BuildKey.
type PropertySelectorPolicy interface {
	SelectProperties(ctx *BuilderContext) ([]SelectedProperty, error)
}

// MethodSelectorPolicy chooses the methods called on ctx.BuildKey.
type MethodSelectorPolicy interface {
	SelectMethods(ctx *BuilderContext) ([]SelectedMethod, error)
}

// DefaultConstructorSelector picks the greediest constructor candidate whose
// parameters are all resolvable; candidates with the same number of
// parameters keep declaration order. Structs without candidates use their
// zero value.
type DefaultConstructorSelector struct{}

func (DefaultConstructorSelector) SelectConstructor(ctx *BuilderContext) (*SelectedConstructor, error) {
	t := ctx.BuildKey.Type

	candidates, err := constructorCandidates(ctx.Policies, t)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		if zc, ok := zeroConstructor(t); ok {
			return &SelectedConstructor{Constructor: zc}, nil
		}

		return nil, errors.Wrapf(ErrNotConstructible, "%s has no constructor and is not a struct type", t)
	}

	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b *ConstructorInfo) int {
		return len(b.Params) - len(a.Params)
	})

	for i, c := range sorted {
		ok, byOverride := allResolvable(ctx, c)
		if !ok {
			continue
		}

		for _, other := range sorted[i+1:] {
			if len(other.Params) != len(c.Params) {
				break
			}

			if ok, _ := allResolvable(ctx, other); ok && c.sameSignature(other) {
				return nil, errors.Wrapf(ErrAmbiguousConstructor, "%s: %s and %s take the same parameters", t, c.Name, other.Name)
			}
		}

		sel := selectConstructor(c, nil)
		sel.byOverride = byOverride

		return sel, nil
	}

	return nil, errors.Wrapf(ErrNoViableConstructor, "%s: none of %d constructors has all parameters resolvable", t, len(candidates))
}

// allResolvable reports whether every parameter of c is overridden or can be
// built, and whether an override was needed for that.
func allResolvable(ctx *BuilderContext, c *ConstructorInfo) (ok, byOverride bool) {
	prev := ctx.CurrentOperation
	defer func() { ctx.CurrentOperation = prev }()

	for i, p := range c.Params {
		if isResolvable(ctx, BuildKey{Type: p}) {
			continue
		}

		ctx.CurrentOperation = ConstructorArgument{Target: ctx.BuildKey.Type, Constructor: c.Name, Index: i, ParamType: p}

		if _, overridden := ctx.OverriddenResolver(p); !overridden {
			return false, false
		}

		byOverride = true
	}

	return true, byOverride
}

func selectConstructor(c *ConstructorInfo, args []DependencyResolver) *SelectedConstructor {
	sel := &SelectedConstructor{Constructor: c, Resolvers: args}
	if args == nil {
		sel.Resolvers = make([]DependencyResolver, len(c.Params))
		for i, p := range c.Params {
			sel.Resolvers[i] = resolverFor(p, "", false)
		}
	}

	return sel
}

// DefaultPropertySelector selects the fields marked by the container's
// InjectionMarker.
type DefaultPropertySelector struct{}

func (DefaultPropertySelector) SelectProperties(ctx *BuilderContext) ([]SelectedProperty, error) {
	return markedProperties(ctx.BuildKey.Type, ctx.container.marker), nil
}

func markedProperties(t Type, marker InjectionMarker) []SelectedProperty {
	st, ok := structShape(t)
	if !ok {
		return nil
	}

	var out []SelectedProperty

	for _, f := range reflect.VisibleFields(st) {
		if !settableField(st, f) {
			continue
		}

		name, optional, ok := marker.Field(f)
		if !ok {
			continue
		}

		ft := TypeFromReflect(f.Type)
		out = append(out, SelectedProperty{
			Property: &PropertyInfo{Name: f.Name, Index: f.Index, Type: ft},
			Resolver: resolverFor(ft, name, optional),
		})
	}

	return out
}

// DefaultMethodSelector selects no methods; injection methods are configured
// with InjectionMethod.
type DefaultMethodSelector struct{}

func (DefaultMethodSelector) SelectMethods(*BuilderContext) ([]SelectedMethod, error) {
	return nil, nil
}

type specifiedConstructor struct {
	sel *SelectedConstructor
}

func (s *specifiedConstructor) SelectConstructor(*BuilderContext) (*SelectedConstructor, error) {
	return s.sel, nil
}

// specifiedProperties adds configured fields to the marked ones; a configured
// field replaces a marked field of the same name.
type specifiedProperties struct {
	props []SelectedProperty
}

func (s *specifiedProperties) SelectProperties(ctx *BuilderContext) ([]SelectedProperty, error) {
	marked := markedProperties(ctx.BuildKey.Type, ctx.container.marker)

	out := make([]SelectedProperty, 0, len(marked)+len(s.props))
	for _, m := range marked {
		if !slices.ContainsFunc(s.props, func(p SelectedProperty) bool { return p.Property.Name == m.Property.Name }) {
			out = append(out, m)
		}
	}

	return append(out, s.props...), nil
}

type specifiedMethods struct {
	methods []SelectedMethod
}

func (s *specifiedMethods) SelectMethods(*BuilderContext) ([]SelectedMethod, error) {
	return s.methods, nil
}

// =============================================================================
// INJECTION MEMBERS
// =============================================================================

// InjectionMember configures how a registration is constructed or
// initialized.
type InjectionMember interface {
	addPolicies(key BuildKey, policies *PolicyList) error
}

// argResolver turns a configured argument into a resolver: resolvers are used
// as is, a Type resolves its default registration and anything else is a
// literal value.
func argResolver(v any) DependencyResolver {
	switch a := v.(type) {
	case DependencyResolver:
		return a
	case Type:
		return resolverFor(a, "", false)
	}

	return LiteralResolver{Value: v}
}

func argResolvers(params []Type, args []any, what string) ([]DependencyResolver, error) {
	if len(args) == 0 {
		return nil, nil
	}

	if len(args) != len(params) {
		return nil, errors.Errorf("%s takes %d arguments, %d given", what, len(params), len(args))
	}

	out := make([]DependencyResolver, len(args))
	for i, a := range args {
		out[i] = argResolver(a)
	}

	return out, nil
}

type injectionConstructor struct {
	fn   any
	args []any
}

// InjectionConstructor selects fn as the constructor. With no args each
// parameter is resolved by type; otherwise args supply one value, Type or
// DependencyResolver per parameter.
func InjectionConstructor(fn any, args ...any) InjectionMember {
	return &injectionConstructor{fn: fn, args: args}
}

func (m *injectionConstructor) addPolicies(key BuildKey, policies *PolicyList) error {
	ci, err := analyzeConstructor(m.fn)
	if err != nil {
		return configError(CodeInvalidConstructor, err, "injection constructor for %s", key)
	}

	if !assignableTo(ci.Result, key.Type) {
		return configError(CodeIncompatibleTypes, ErrIncompatibleTypes, "constructor %s returns %s, not %s", ci.Name, ci.Result, key.Type)
	}

	resolvers, err := argResolvers(ci.Params, m.args, "constructor "+ci.Name)
	if err != nil {
		return configError(CodeInvalidConstructor, err, "injection constructor for %s", key)
	}

	SetPolicy[ConstructorSelectorPolicy](policies, key, &specifiedConstructor{sel: selectConstructor(ci, resolvers)})

	return nil
}

type injectionProperty struct {
	name  string
	value []any
}

// InjectionProperty injects the named field. With no value the field is
// resolved by type; a single value may be a literal, a Type or a
// DependencyResolver.
func InjectionProperty(name string, value ...any) InjectionMember {
	return &injectionProperty{name: name, value: value}
}

func (m *injectionProperty) addPolicies(key BuildKey, policies *PolicyList) error {
	prop, err := findField(key.Type, m.name)
	if err != nil {
		return configError(CodeInvalidRegistration, err, "injection property of %s", key)
	}

	sp := SelectedProperty{Property: prop, Resolver: resolverFor(prop.Type, "", false)}

	switch len(m.value) {
	case 0:
	case 1:
		sp.Resolver = argResolver(m.value[0])
	default:
		return configError(CodeInvalidRegistration, nil, "injection property %s of %s takes one value, %d given", m.name, key, len(m.value))
	}

	var props []SelectedProperty
	if existing, ok := policies.GetExact(kindOf[PropertySelectorPolicy](), key); ok {
		if s, ok := existing.(*specifiedProperties); ok {
			props = slices.DeleteFunc(slices.Clone(s.props), func(p SelectedProperty) bool { return p.Property.Name == prop.Name })
		}
	}

	SetPolicy[PropertySelectorPolicy](policies, key, &specifiedProperties{props: append(props, sp)})

	return nil
}

type injectionMethod struct {
	name string
	args []any
}

// InjectionMethod calls the named method after construction. Methods are
// called in configuration order.
func InjectionMethod(name string, args ...any) InjectionMember {
	return &injectionMethod{name: name, args: args}
}

func (m *injectionMethod) addPolicies(key BuildKey, policies *PolicyList) error {
	method, err := findMethod(key.Type, m.name)
	if err != nil {
		return configError(CodeInvalidRegistration, err, "injection method of %s", key)
	}

	resolvers, err := argResolvers(method.Params, m.args, "method "+m.name)
	if err != nil {
		return configError(CodeInvalidRegistration, err, "injection method of %s", key)
	}

	if resolvers == nil {
		resolvers = make([]DependencyResolver, len(method.Params))
		for i, p := range method.Params {
			resolvers[i] = resolverFor(p, "", false)
		}
	}

	var methods []SelectedMethod
	if existing, ok := policies.GetExact(kindOf[MethodSelectorPolicy](), key); ok {
		if s, ok := existing.(*specifiedMethods); ok {
			methods = slices.Clone(s.methods)
		}
	}

	SetPolicy[MethodSelectorPolicy](policies, key, &specifiedMethods{
		methods: append(methods, SelectedMethod{Method: method, Resolvers: resolvers}),
	})

	return nil
}

// clearMembers removes configured members of key from policies.
func clearMembers(key BuildKey, policies *PolicyList) {
	ClearPolicy[ConstructorSelectorPolicy](policies, key)
	ClearPolicy[PropertySelectorPolicy](policies, key)
	ClearPolicy[MethodSelectorPolicy](policies, key)
}
