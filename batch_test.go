package anvil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestRegisterTypes(t *testing.T) {
	c := New()

	require.NoError(t, RegisterTypes(c,
		Mapping(TypeOf[Logger](), TypeOf[*consoleLogger](), AsSingleton()),
		Mapping(TypeOf[Logger](), TypeOf[*fileLogger](), WithName("file")),
		Mapping(nil, TypeOf[*memoryStore]()),
	))

	assert.Same(t, Must[Logger](c), Must[Logger](c))
	assert.IsType(t, &fileLogger{}, MustNamed[Logger](c, "file"))
	assert.True(t, c.IsRegistered(TypeOf[*memoryStore](), ""))
}

func TestRegisterTypes_StopsAtFirstError(t *testing.T) {
	c := New()

	err := RegisterTypes(c,
		Mapping(TypeOf[Logger](), TypeOf[*consoleLogger]()),
		Mapping(TypeOf[Logger](), TypeOf[*memoryStore](), WithName("bad")),
		Mapping(TypeOf[Store](), TypeOf[*memoryStore]()),
	)
	assert.ErrorIs(t, err, ErrIncompatibleTypes)

	assert.True(t, c.IsRegistered(TypeOf[Logger](), ""))
	assert.False(t, c.IsRegistered(TypeOf[Store](), ""))
}

func TestRegisterTypesIfAbsent(t *testing.T) {
	c := New()
	require.NoError(t, Register[Logger, *consoleLogger](c))

	err := RegisterTypesIfAbsent(c,
		Mapping(TypeOf[Logger](), TypeOf[*fileLogger]()),
		Mapping(TypeOf[Store](), TypeOf[*memoryStore]()),
		Mapping(nil, nil),
		Mapping(TypeOf[Logger](), TypeOf[*consoleLogger]()),
	)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], ErrDuplicateMapping)
	assert.ErrorIs(t, errs[1], ErrNilArgument)

	assert.IsType(t, &consoleLogger{}, Must[Logger](c))
	assert.True(t, c.IsRegistered(TypeOf[Store](), ""))
}

func TestRegisterConstructors(t *testing.T) {
	c := New()

	require.NoError(t, RegisterConstructors(c,
		Constructor(newMemoryStore, AsSingleton(), As(TypeOf[Store]())),
		Constructor(newUserService),
	))
	require.NoError(t, Register[Logger, *consoleLogger](c))

	assert.Same(t, Must[*memoryStore](c), Must[Store](c))

	svc := Must[*userService](c)
	assert.Same(t, Must[Store](c), svc.repo.Store)

	var cfgErr *ConfigurationError

	err := RegisterConstructors(c, Constructor(42))
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, CodeInvalidConstructor, cfgErr.Code)
}
