package anvil

import (
	"reflect"

	"github.com/pkg/errors"
)

// Invoker performs the host-level construction primitives a build plan
// orchestrates: calling constructors, setting fields and calling methods.
type Invoker interface {
	Construct(ctor *ConstructorInfo, args []any) (any, error)
	// SetProperty sets a field of the struct target points to.
	SetProperty(target reflect.Value, prop *PropertyInfo, value any) error
	// Invoke calls a method on target, a pointer to the instance.
	Invoke(target reflect.Value, method *MethodInfo, args []any) error
}

// ReflectInvoker is the default Invoker, built on package reflect.
type ReflectInvoker struct{}

func (ReflectInvoker) Construct(ctor *ConstructorInfo, args []any) (any, error) {
	switch {
	case ctor.zero != nil:
		if ctor.zero.Kind() == reflect.Pointer {
			return reflect.New(ctor.zero.Elem()).Interface(), nil
		}

		return reflect.New(ctor.zero).Elem().Interface(), nil
	case ctor.generic != nil:
		return ctor.generic.New(ctor.typeArgs, args)
	}

	fnType := ctor.fn.Type()
	in := make([]reflect.Value, len(args))

	for i, a := range args {
		v, err := valueFor(a, fnType.In(i))
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d of %s", i, ctor.Name)
		}

		in[i] = v
	}

	out := ctor.fn.Call(in)

	if ctor.hasError && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}

	return out[0].Interface(), nil
}

func (ReflectInvoker) SetProperty(target reflect.Value, prop *PropertyInfo, value any) error {
	field := target.Elem().FieldByIndex(prop.Index)

	v, err := valueFor(value, field.Type())
	if err != nil {
		return errors.Wrapf(err, "field %s", prop.Name)
	}

	field.Set(v)

	return nil
}

func (ReflectInvoker) Invoke(target reflect.Value, method *MethodInfo, args []any) error {
	m := target.MethodByName(method.Name)
	if !m.IsValid() {
		return errors.Wrapf(ErrMissingMember, "method %s not found on %s", method.Name, target.Type())
	}

	mt := m.Type()
	if mt.NumIn() != len(args) {
		return errors.Errorf("method %s takes %d arguments, got %d", method.Name, mt.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))

	for i, a := range args {
		v, err := valueFor(a, mt.In(i))
		if err != nil {
			return errors.Wrapf(err, "argument %d of method %s", i, method.Name)
		}

		in[i] = v
	}

	out := m.Call(in)

	if n := len(out); n > 0 && mt.Out(n-1) == errorType && !out[n-1].IsNil() {
		return out[n-1].Interface().(error)
	}

	return nil
}
