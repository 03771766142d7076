package anvil

import (
	"fmt"

	"github.com/pkg/errors"
)

// GenericMappingPolicy maps closed instantiations of an open generic
// registration to the matching instantiation of the target definition:
// From[A1..An] maps to To[A1..An] by position.
type GenericMappingPolicy struct {
	From *GenericDefinition
	To   *GenericDefinition
	Name string
}

// Map implements BuildKeyMappingPolicy.
func (p *GenericMappingPolicy) Map(key BuildKey, _ *BuilderContext) (BuildKey, error) {
	def, args, ok := genericArgs(key.Type)
	if !ok || def != p.From {
		return BuildKey{}, errors.Wrapf(ErrGenericClosing, "%s is not an instantiation of %s", key.Type, p.From)
	}

	if containsTypeParams(key.Type) {
		return BuildKey{}, errors.Wrapf(ErrGenericClosing, "cannot build open generic type %s", key.Type)
	}

	closed, err := p.To.instantiate(args)
	if err != nil {
		return BuildKey{}, errors.Wrap(ErrGenericClosing, err.Error())
	}

	return BuildKey{Type: closed, Name: p.Name}, nil
}

// closeType substitutes the type arguments of def into t.
//
// Each type parameter of def is replaced by the argument at its ordinal;
// nested generic instantiations are closed recursively. Array shapes over a
// type parameter and type parameters of other definitions are rejected.
func closeType(def *GenericDefinition, t Type, args []Type) (Type, error) {
	switch v := t.(type) {
	case *TypeParam:
		if v.def != def {
			return nil, errors.Wrapf(ErrGenericClosing, "type parameter %s belongs to %s, not %s", v.name, v.def.name, def.name)
		}

		return args[v.ordinal], nil
	case *genericType:
		if !containsTypeParams(v) {
			return v, nil
		}

		closedArgs := make([]Type, len(v.args))

		for i, a := range v.args {
			c, err := closeType(def, a, args)
			if err != nil {
				return nil, err
			}

			closedArgs[i] = c
		}

		return v.def.instantiate(closedArgs)
	case *arrayType:
		if containsTypeParams(v.elem) {
			return nil, errors.Wrapf(ErrGenericClosing, "array parameter %s over a generic parameter cannot be closed", v)
		}

		return v, nil
	default:
		return t, nil
	}
}

// closeConstructor closes a generic constructor of def for the closed type
// result with the given arguments.
func closeConstructor(def *GenericDefinition, gc *GenericConstructor, args []Type, result Type) (*ConstructorInfo, error) {
	name := gc.Name
	if name == "" {
		name = "constructor of " + def.name
	}

	ci := &ConstructorInfo{
		Name:     fmt.Sprintf("%s for %s", name, result),
		Result:   result,
		generic:  gc,
		typeArgs: append([]Type(nil), args...),
	}

	for i, p := range gc.Params {
		closed, err := closeType(def, p, args)
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %d of %s", i, ci.Name)
		}

		ci.Params = append(ci.Params, closed)
	}

	return ci, nil
}
