package anvil

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Type describes something the container can be asked to build.
//
// Concrete Go types are obtained with TypeOf or TypeFromReflect. Generic
// shapes (open and closed generic definitions, type parameters and array
// shapes) exist because Go cannot instantiate generic types at run time:
// they are described by the container's own descriptors and constructed
// through GenericConstructor callbacks.
//
// Every Type value is comparable and interned, so two descriptors of the
// same type are == and can be used as map keys.
type Type interface {
	fmt.Stringer

	// Reflect returns the Go type backing this descriptor, or nil for
	// generic shapes.
	Reflect() reflect.Type

	typeID() string
}

var (
	reflectIDs   sync.Map // reflect.Type -> uint64
	nextReflectN atomic.Uint64
	arrayShapes  sync.Map // arrayKey -> *arrayType
)

func reflectID(rt reflect.Type) uint64 {
	if v, ok := reflectIDs.Load(rt); ok {
		return v.(uint64)
	}

	v, _ := reflectIDs.LoadOrStore(rt, nextReflectN.Add(1))

	return v.(uint64)
}

// goType is a Type backed by a concrete Go type.
type goType struct {
	rt reflect.Type
}

func (g goType) String() string        { return g.rt.String() }
func (g goType) Reflect() reflect.Type { return g.rt }
func (g goType) typeID() string        { return fmt.Sprintf("g%d", reflectID(g.rt)) }

// TypeOf returns the descriptor of the Go type T.
// Interface types are supported: TypeOf[io.Reader]() describes io.Reader itself.
func TypeOf[T any]() Type {
	return goType{rt: reflect.TypeFor[T]()}
}

// TypeFromReflect wraps a reflect.Type. It returns nil for a nil input.
func TypeFromReflect(rt reflect.Type) Type {
	if rt == nil {
		return nil
	}

	return goType{rt: rt}
}

// TypeOfValue returns the descriptor of the dynamic type of v.
func TypeOfValue(v any) Type {
	return TypeFromReflect(reflect.TypeOf(v))
}

// GenericDefinition is a generic type definition such as Repository[T].
//
// Open() describes the definition with its own parameters as arguments;
// Of(args...) describes a closed instantiation.
type GenericDefinition struct {
	name   string
	params []*TypeParam

	mu        sync.Mutex
	instances map[string]*genericType
	open      *genericType
}

// DefineGeneric declares a generic definition with the given parameter names.
// It panics when no parameter is given.
func DefineGeneric(name string, params ...string) *GenericDefinition {
	if len(params) == 0 {
		panic(fmt.Sprintf("anvil: generic definition %s needs at least one type parameter", name))
	}

	d := &GenericDefinition{
		name:      name,
		instances: make(map[string]*genericType),
	}

	for i, p := range params {
		d.params = append(d.params, &TypeParam{def: d, name: p, ordinal: i})
	}

	args := make([]Type, len(d.params))
	for i, p := range d.params {
		args[i] = p
	}

	d.open = d.intern(args)

	return d
}

// Name returns the definition name.
func (d *GenericDefinition) Name() string { return d.name }

// Arity returns the number of type parameters.
func (d *GenericDefinition) Arity() int { return len(d.params) }

// Param returns the type parameter at ordinal i.
func (d *GenericDefinition) Param(i int) *TypeParam { return d.params[i] }

// Open returns the open type, i.e. the definition applied to its own parameters.
func (d *GenericDefinition) Open() Type { return d.open }

// Of returns the instantiation of d with args.
// It panics on an arity mismatch, like reflect.ArrayOf panics on bad input.
func (d *GenericDefinition) Of(args ...Type) Type {
	t, err := d.instantiate(args)
	if err != nil {
		panic(err.Error())
	}

	return t
}

func (d *GenericDefinition) String() string { return d.open.String() }

func (d *GenericDefinition) instantiate(args []Type) (Type, error) {
	if len(args) != len(d.params) {
		return nil, errors.Errorf("anvil: %s expects %d type arguments, got %d", d.name, len(d.params), len(args))
	}

	for i, a := range args {
		if a == nil {
			return nil, errors.Errorf("anvil: type argument %d of %s is nil", i, d.name)
		}
	}

	return d.intern(args), nil
}

func (d *GenericDefinition) intern(args []Type) *genericType {
	ids := make([]string, len(args))
	for i, a := range args {
		ids[i] = a.typeID()
	}

	key := strings.Join(ids, ",")

	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.instances[key]; ok {
		return t
	}

	t := &genericType{
		def:  d,
		args: append([]Type(nil), args...),
		id:   fmt.Sprintf("d%p[%s]", d, key),
	}
	d.instances[key] = t

	return t
}

// genericType is an instantiation of a GenericDefinition, open or closed.
type genericType struct {
	def  *GenericDefinition
	args []Type
	id   string
}

func (g *genericType) String() string {
	names := make([]string, len(g.args))
	for i, a := range g.args {
		names[i] = a.String()
	}

	return g.def.name + "[" + strings.Join(names, ", ") + "]"
}

func (g *genericType) Reflect() reflect.Type { return nil }
func (g *genericType) typeID() string        { return g.id }

// TypeParam is a type parameter of a GenericDefinition.
type TypeParam struct {
	def     *GenericDefinition
	name    string
	ordinal int
}

func (p *TypeParam) String() string        { return p.name }
func (p *TypeParam) Reflect() reflect.Type { return nil }
func (p *TypeParam) typeID() string        { return fmt.Sprintf("p%p", p) }

// Ordinal returns the declared position of p on its definition.
func (p *TypeParam) Ordinal() int { return p.ordinal }

// Definition returns the generic definition declaring p.
func (p *TypeParam) Definition() *GenericDefinition { return p.def }

type arrayKey struct {
	elem Type
	rank int
}

// arrayType is an array shape used in generic constructor signatures.
type arrayType struct {
	elem Type
	rank int
}

// ArrayOf returns an array shape of the given rank over elem.
// Rank 1 over a concrete Go type is the Go slice type; other shapes can only
// appear inside generic constructor signatures.
func ArrayOf(elem Type, rank int) Type {
	if rank < 1 {
		rank = 1
	}

	if g, ok := elem.(goType); ok && rank == 1 {
		return goType{rt: reflect.SliceOf(g.rt)}
	}

	key := arrayKey{elem: elem, rank: rank}
	if v, ok := arrayShapes.Load(key); ok {
		return v.(*arrayType)
	}

	v, _ := arrayShapes.LoadOrStore(key, &arrayType{elem: elem, rank: rank})

	return v.(*arrayType)
}

func (a *arrayType) String() string {
	return "[" + strings.Repeat(",", a.rank-1) + "]" + a.elem.String()
}

func (a *arrayType) Reflect() reflect.Type { return nil }
func (a *arrayType) typeID() string        { return fmt.Sprintf("a%d(%s)", a.rank, a.elem.typeID()) }

// genericArgs reports the definition and arguments of a generic instantiation.
func genericArgs(t Type) (*GenericDefinition, []Type, bool) {
	g, ok := t.(*genericType)
	if !ok {
		return nil, nil, false
	}

	return g.def, g.args, true
}

// containsTypeParams reports whether t mentions any type parameter.
func containsTypeParams(t Type) bool {
	switch v := t.(type) {
	case *TypeParam:
		return true
	case *genericType:
		for _, a := range v.args {
			if containsTypeParams(a) {
				return true
			}
		}
	case *arrayType:
		return containsTypeParams(v.elem)
	}

	return false
}

// IsOpenGeneric reports whether t is a generic instantiation that still has
// unbound type parameters.
func IsOpenGeneric(t Type) bool {
	_, ok := t.(*genericType)

	return ok && containsTypeParams(t)
}

// IsClosedGeneric reports whether t is a fully bound generic instantiation.
func IsClosedGeneric(t Type) bool {
	_, ok := t.(*genericType)

	return ok && !containsTypeParams(t)
}

// assignableTo reports whether values of to can be used where from is expected.
// Pairs involving generic shapes are not checked.
func assignableTo(to, from Type) bool {
	tg, ok1 := to.(goType)
	fg, ok2 := from.(goType)

	if !ok1 || !ok2 {
		return true
	}

	return tg.rt.AssignableTo(fg.rt)
}
