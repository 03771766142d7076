package anvil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportJob struct {
	Log     *Lazy[Logger]         `inject:""`
	File    *Lazy[Logger]         `inject:"file"`
	Store   *OptionalLazy[Store]  `inject:""`
	Loggers *Provider[Logger]     `inject:""`
	Factory func() Logger         `inject:""`
	Try     func() (Store, error) `inject:""`
}

type lazyA struct {
	B *Lazy[*lazyB] `inject:""`
}

type lazyB struct {
	A *lazyA `inject:""`
}

func TestLazy_InjectedAsDependency(t *testing.T) {
	c := New()

	require.NoError(t, Register[Logger, *consoleLogger](c))
	require.NoError(t, Register[Logger, *fileLogger](c, WithName("file")))

	job := Must[*reportJob](c)

	require.NotNil(t, job.Log)
	assert.False(t, job.Log.IsResolved())

	log, err := job.Log.Get()
	require.NoError(t, err)
	assert.IsType(t, &consoleLogger{}, log)
	assert.True(t, job.Log.IsResolved())
	assert.Same(t, log, job.Log.MustGet(), "a lazy resolves once")

	assert.Equal(t, "file", job.File.Name())
	assert.IsType(t, &fileLogger{}, job.File.MustGet())
}

func TestOptionalLazy(t *testing.T) {
	c := New()

	job := Must[*reportJob](c)

	store, err := job.Store.Get()
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.True(t, job.Store.IsResolved())
	assert.False(t, job.Store.IsFound())

	require.NoError(t, c.RegisterInstance(TypeOf[Store](), "", newMemoryStore(), nil))

	found := NewOptionalLazy[Store](c, "")
	assert.Equal(t, "hello", found.MustGet().Get("greeting"))
	assert.True(t, found.IsFound())
}

func TestProvider(t *testing.T) {
	c := New()
	require.NoError(t, Register[Logger, *consoleLogger](c))

	job := Must[*reportJob](c)

	a := job.Loggers.MustProvide()
	b := job.Loggers.MustProvide()
	assert.NotSame(t, a, b, "a provider resolves on every call")

	p := NewProvider[Store](c, "")
	_, err := p.Provide()
	assert.ErrorIs(t, err, ErrNotConstructible)
	assert.Panics(t, func() { p.MustProvide() })
}

func TestLazy_BreaksCycles(t *testing.T) {
	c := New()

	require.NoError(t, RegisterSingleton[*lazyA](c))
	require.NoError(t, RegisterSingleton[*lazyB](c))

	a := Must[*lazyA](c)
	b := a.B.MustGet()
	assert.Same(t, a, b.A)
}

func TestLazy_Standalone(t *testing.T) {
	c := New()
	require.NoError(t, Register[Logger, *consoleLogger](c, AsSingleton()))

	l := NewLazy[Logger](c, "")
	assert.Same(t, Must[Logger](c), l.MustGet())

	missing := NewLazy[Store](c, "")
	_, err := missing.Get()
	assert.ErrorIs(t, err, ErrNotConstructible)
	assert.False(t, missing.IsResolved())

	unbound := NewLazy[Logger](nil, "")
	_, err = unbound.Get()
	assert.ErrorIs(t, err, ErrNilArgument)
}

func TestDeferredFunc(t *testing.T) {
	c := New()
	require.NoError(t, Register[Logger, *consoleLogger](c))

	job := Must[*reportJob](c)

	assert.IsType(t, &consoleLogger{}, job.Factory())
	assert.NotSame(t, job.Factory(), job.Factory())

	_, err := job.Try()
	assert.ErrorIs(t, err, ErrNotConstructible)

	storeFactory := Must[func() Store](c)
	assert.Panics(t, func() { storeFactory() })

	require.NoError(t, c.RegisterInstance(TypeOf[Store](), "", newMemoryStore(), nil))

	store, err := job.Try()
	require.NoError(t, err)
	assert.Equal(t, "hello", store.Get("greeting"))
}
