package anvil

import (
	"reflect"
	"runtime"

	"github.com/pkg/errors"
)

// ConstructorInfo describes one way to construct a type.
//
// It is either a Go constructor function, the zero-value constructor of a
// struct or pointer-to-struct type, or a closed GenericConstructor.
type ConstructorInfo struct {
	// Name identifies the constructor in error messages.
	Name string
	// Result is the type produced.
	Result Type
	// Params are the dependency types, in order.
	Params []Type

	fn       reflect.Value
	hasError bool

	zero reflect.Type

	generic  *GenericConstructor
	typeArgs []Type
}

// IsZeroValue reports whether this is the implicit zero-value constructor.
func (ci *ConstructorInfo) IsZeroValue() bool {
	return ci.zero != nil
}

// TypeArgs returns the closed type arguments of a generic constructor.
func (ci *ConstructorInfo) TypeArgs() []Type {
	return ci.typeArgs
}

func (ci *ConstructorInfo) String() string {
	return ci.Name
}

// sameSignature reports whether two constructors take the same parameter types.
func (ci *ConstructorInfo) sameSignature(other *ConstructorInfo) bool {
	if len(ci.Params) != len(other.Params) {
		return false
	}

	for i := range ci.Params {
		if ci.Params[i] != other.Params[i] {
			return false
		}
	}

	return true
}

// GenericConstructor constructs instantiations of a GenericDefinition.
//
// Params may mention the definition's type parameters, nested in other generic
// instantiations; they are closed positionally for each requested type. New
// receives the closed type arguments and the resolved parameter values.
type GenericConstructor struct {
	Name   string
	Params []Type
	New    func(typeArgs []Type, args []any) (any, error)
}

// constructorList is the policy holding constructor candidates of a type, in
// declaration order.
type constructorList struct {
	ctors []*ConstructorInfo
}

// genericConstructorList holds the constructors of a generic definition.
type genericConstructorList struct {
	ctors []*GenericConstructor
}

// analyzeConstructor inspects a constructor function: any number of
// parameters, one result, optionally followed by an error.
func analyzeConstructor(constructor any) (*ConstructorInfo, error) {
	if constructor == nil {
		return nil, errors.New("constructor cannot be nil")
	}

	fnValue := reflect.ValueOf(constructor)
	fnType := fnValue.Type()

	if fnType.Kind() != reflect.Func {
		return nil, errors.Errorf("constructor must be a function, got %s", fnType)
	}

	if fnValue.IsNil() {
		return nil, errors.New("constructor cannot be a nil function")
	}

	if fnType.IsVariadic() {
		return nil, errors.Errorf("variadic constructor %s cannot be injected", fnType)
	}

	info := &ConstructorInfo{
		Name: funcName(fnValue),
		fn:   fnValue,
	}

	for i := 0; i < fnType.NumIn(); i++ {
		info.Params = append(info.Params, TypeFromReflect(fnType.In(i)))
	}

	switch fnType.NumOut() {
	case 1:
		if fnType.Out(0) == errorType {
			return nil, errors.New("constructor must return a non-error value")
		}
	case 2:
		if fnType.Out(1) != errorType {
			return nil, errors.New("the second result of a constructor must be error")
		}

		info.hasError = true
	default:
		return nil, errors.Errorf("constructor must return a value and optionally an error, got %d results", fnType.NumOut())
	}

	info.Result = TypeFromReflect(fnType.Out(0))

	return info, nil
}

func funcName(fn reflect.Value) string {
	if f := runtime.FuncForPC(fn.Pointer()); f != nil {
		return f.Name()
	}

	return fn.Type().String()
}

// zeroConstructor returns the zero-value constructor of t when t is a struct
// or a pointer to a struct.
func zeroConstructor(t Type) (*ConstructorInfo, bool) {
	g, ok := t.(goType)
	if !ok {
		return nil, false
	}

	rt := g.rt
	if rt.Kind() != reflect.Struct && !(rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Struct) {
		return nil, false
	}

	return &ConstructorInfo{
		Name:   "zero value of " + rt.String(),
		Result: t,
		zero:   rt,
	}, true
}

// hasConstructorCandidates reports whether constructors are registered for t.
func hasConstructorCandidates(policies *PolicyList, t Type) bool {
	if def, _, ok := genericArgs(t); ok {
		list, _, ok := GetPolicy[*genericConstructorList](policies, def)

		return ok && len(list.ctors) > 0
	}

	list, _, ok := GetPolicy[*constructorList](policies, t)

	return ok && len(list.ctors) > 0
}

// constructorCandidates returns the constructors registered for t, closing
// generic constructors for a closed generic t.
func constructorCandidates(policies *PolicyList, t Type) ([]*ConstructorInfo, error) {
	if def, args, ok := genericArgs(t); ok {
		if containsTypeParams(t) {
			return nil, errors.Wrapf(ErrGenericClosing, "%s is an open generic type", t)
		}

		list, _, ok := GetPolicy[*genericConstructorList](policies, def)
		if !ok {
			return nil, nil
		}

		out := make([]*ConstructorInfo, 0, len(list.ctors))

		for _, gc := range list.ctors {
			ci, err := closeConstructor(def, gc, args, t)
			if err != nil {
				return nil, err
			}

			out = append(out, ci)
		}

		return out, nil
	}

	list, _, ok := GetPolicy[*constructorList](policies, t)
	if !ok {
		return nil, nil
	}

	return list.ctors, nil
}
