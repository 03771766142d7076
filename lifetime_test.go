package anvil

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unitOfWork struct {
	ID int
}

type ordersRepo struct {
	UoW *unitOfWork `inject:""`
}

type customersRepo struct {
	UoW *unitOfWork `inject:""`
}

type checkoutHandler struct {
	Orders    *ordersRepo    `inject:""`
	Customers *customersRepo `inject:""`
}

func TestLifetimeManagerBase_MarkInUse(t *testing.T) {
	for _, m := range []LifetimeManager{
		NewTransient(),
		NewContainerControlled(),
		NewHierarchical(),
		NewPerThread(),
		NewPerResolve(),
		NewExternallyControlled(),
	} {
		assert.True(t, m.MarkInUse(), "%T", m)
		assert.False(t, m.MarkInUse(), "%T", m)
		assert.IsType(t, m, m.CreateLifetimePolicy())
	}
}

func TestContainerControlled_HoldsLockUntilSet(t *testing.T) {
	m := NewContainerControlled()

	_, ok := m.GetValue()
	require.False(t, ok)

	got := make(chan any)

	go func() {
		v, _ := m.GetValue()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("second GetValue returned while the first build was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	m.SetValue("value")

	select {
	case v := <-got:
		assert.Equal(t, "value", v)
	case <-time.After(time.Second):
		t.Fatal("GetValue did not return after SetValue")
	}
}

func TestContainerControlled_RecoverReleasesLock(t *testing.T) {
	m := NewContainerControlled()

	_, ok := m.GetValue()
	require.False(t, ok)

	m.Recover()
	m.Recover()

	done := make(chan bool)

	go func() {
		_, ok := m.GetValue()
		m.Recover()
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("lock was not released by Recover")
	}
}

func TestContainerControlled_DisposeValue(t *testing.T) {
	m := NewContainerControlled()
	d := &disposable{}

	m.SetValue(d)
	require.NoError(t, m.Dispose())
	assert.Equal(t, int32(1), d.disposed.Load())

	_, ok := m.GetValue()
	assert.False(t, ok)
	m.Recover()
}

func TestSingleton_ConcurrentResolve(t *testing.T) {
	c := New()

	var builds atomic.Int32

	require.NoError(t, c.RegisterConstructor(func() *counted {
		n := builds.Add(1)
		time.Sleep(5 * time.Millisecond)

		return &counted{N: n}
	}, AsSingleton()))

	const workers = 50

	var wg sync.WaitGroup

	results := make([]*counted, workers)
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i], errs[i] = Resolve[*counted](c)
		}()
	}

	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}

	assert.Equal(t, int32(1), builds.Load())
}

func TestSingleton_FailureThenRetry(t *testing.T) {
	c := New()

	var calls atomic.Int32

	require.NoError(t, c.RegisterConstructor(func() (*counted, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("not ready")
		}

		return &counted{N: calls.Load()}, nil
	}, AsSingleton()))

	_, err := Resolve[*counted](c)
	require.Error(t, err)

	var wg sync.WaitGroup

	results := make([]*counted, 10)

	for i := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i], _ = Resolve[*counted](c)
		}()
	}

	wg.Wait()

	require.NotNil(t, results[0])

	for _, r := range results {
		assert.Same(t, results[0], r)
	}

	assert.Equal(t, int32(2), calls.Load())
}

func TestSingleton_PanicReleasesLock(t *testing.T) {
	c := New()

	var calls atomic.Int32

	require.NoError(t, c.RegisterConstructor(func() *counted {
		if calls.Add(1) == 1 {
			panic("first build explodes")
		}

		return &counted{}
	}, AsSingleton()))

	_, err := Resolve[*counted](c)
	require.ErrorIs(t, err, ErrConstructorPanic)

	got, err := Resolve[*counted](c)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestChildContainer_ContainerControlledShared(t *testing.T) {
	parent := New()
	require.NoError(t, Register[Logger, *consoleLogger](parent, AsSingleton()))

	child := parent.CreateChildContainer()

	assert.Same(t, Must[Logger](parent), Must[Logger](child))
}

func TestChildContainer_Hierarchical(t *testing.T) {
	parent := New()
	require.NoError(t, Register[Logger, *consoleLogger](parent, AsHierarchical()))

	child := parent.CreateChildContainer()
	sibling := parent.CreateChildContainer()

	fromChild := Must[Logger](child)
	fromParent := Must[Logger](parent)

	assert.NotSame(t, fromParent, fromChild)
	assert.Same(t, fromChild, Must[Logger](child))
	assert.Same(t, fromParent, Must[Logger](parent))
	assert.NotSame(t, fromChild, Must[Logger](sibling))
}

func TestChildContainer_HierarchicalParentFirst(t *testing.T) {
	parent := New()
	require.NoError(t, RegisterSelf[*disposable](parent, AsHierarchical()))

	fromParent := Must[*disposable](parent)

	child := parent.CreateChildContainer()
	fromChild := Must[*disposable](child)

	assert.NotSame(t, fromParent, fromChild)

	require.NoError(t, child.Dispose())
	assert.Equal(t, int32(1), fromChild.disposed.Load())
	assert.Equal(t, int32(0), fromParent.disposed.Load())

	require.NoError(t, parent.Dispose())
	assert.Equal(t, int32(1), fromParent.disposed.Load())
	assert.Equal(t, int32(1), fromChild.disposed.Load())
}

func TestChildContainer_LiveInheritance(t *testing.T) {
	parent := New()
	child := parent.CreateChildContainer()

	require.NoError(t, Register[Logger, *consoleLogger](parent))
	assert.IsType(t, &consoleLogger{}, Must[Logger](child))

	require.NoError(t, Register[Logger, *fileLogger](parent))
	assert.IsType(t, &fileLogger{}, Must[Logger](child))
}

func TestChildContainer_Isolation(t *testing.T) {
	parent := New()
	require.NoError(t, Register[Logger, *consoleLogger](parent))

	child := parent.CreateChildContainer()
	require.NoError(t, Register[Logger, *fileLogger](child))

	assert.IsType(t, &fileLogger{}, Must[Logger](child))
	assert.IsType(t, &consoleLogger{}, Must[Logger](parent))
	assert.Same(t, parent, child.Parent())
}

func TestChildContainer_DisposedWithParent(t *testing.T) {
	parent := New()
	child := parent.CreateChildContainer()
	grandchild := child.CreateChildContainer()

	owned := &disposable{}
	require.NoError(t, grandchild.RegisterInstance(nil, "", owned, nil))

	require.NoError(t, parent.Dispose())
	assert.Equal(t, int32(1), owned.disposed.Load())

	require.NoError(t, grandchild.Dispose())
	assert.Equal(t, int32(1), owned.disposed.Load())

	_, err := Resolve[*disposable](child)
	assert.ErrorIs(t, err, ErrContainerDisposed)
}

func TestChildContainer_DisposeDetachesFromParent(t *testing.T) {
	parent := New()
	child := parent.CreateChildContainer()

	require.True(t, parent.lifetime.Contains(child))

	require.NoError(t, child.Dispose())
	assert.False(t, parent.lifetime.Contains(child))

	_, err := Resolve[*Container](parent)
	assert.NoError(t, err)
}

func TestPerResolve_SharedWithinGraph(t *testing.T) {
	c := New()

	var ids atomic.Int32

	require.NoError(t, c.RegisterConstructor(func() *unitOfWork {
		return &unitOfWork{ID: int(ids.Add(1))}
	}, AsPerResolve()))

	first := Must[*checkoutHandler](c)
	assert.Same(t, first.Orders.UoW, first.Customers.UoW)

	second := Must[*checkoutHandler](c)
	assert.Same(t, second.Orders.UoW, second.Customers.UoW)
	assert.NotSame(t, first.Orders.UoW, second.Orders.UoW)
}

func TestPerThread_GoroutineIsolation(t *testing.T) {
	c := New()
	require.NoError(t, RegisterSelf[*consoleLogger](c, WithLifetime(NewPerThread())))

	mine := Must[*consoleLogger](c)
	assert.Same(t, mine, Must[*consoleLogger](c))

	theirs := make(chan *consoleLogger, 2)

	go func() {
		a := Must[*consoleLogger](c)
		b := Must[*consoleLogger](c)

		theirs <- a
		theirs <- b
	}()

	a, b := <-theirs, <-theirs
	assert.Same(t, a, b)
	assert.NotSame(t, mine, a)
}

func TestPerThread_Dispose(t *testing.T) {
	m := NewPerThread()
	d := &disposable{}

	m.SetValue(d)
	require.NoError(t, m.Dispose())
	assert.Equal(t, int32(1), d.disposed.Load())

	_, ok := m.GetValue()
	assert.False(t, ok)
}

func TestPerThread_ReleaseCurrent(t *testing.T) {
	m := NewPerThread()
	mine := &disposable{}
	m.SetValue(mine)

	var wg sync.WaitGroup

	workers := make([]*disposable, 8)
	for i := range workers {
		workers[i] = &disposable{ID: i}

		wg.Add(1)

		go func(d *disposable) {
			defer wg.Done()

			m.SetValue(d)
			assert.NoError(t, m.ReleaseCurrent())
		}(workers[i])
	}

	wg.Wait()

	assert.Equal(t, 1, m.Len(), "finished goroutines leave nothing behind")

	for _, d := range workers {
		assert.Equal(t, int32(1), d.disposed.Load())
	}

	v, ok := m.GetValue()
	require.True(t, ok)
	assert.Same(t, mine, v)

	require.NoError(t, m.ReleaseCurrent())
	require.NoError(t, m.ReleaseCurrent())
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int32(1), mine.disposed.Load())
}

func TestExternallyControlled(t *testing.T) {
	m := NewExternallyControlled()

	_, ok := m.GetValue()
	assert.False(t, ok)

	l := &consoleLogger{}
	m.SetValue(l)

	v, ok := m.GetValue()
	require.True(t, ok)
	assert.Same(t, l, v)

	m.SetValue(42)

	v, ok = m.GetValue()
	require.True(t, ok)
	assert.Equal(t, 42, v)

	m.RemoveValue()

	_, ok = m.GetValue()
	assert.False(t, ok)
}

func TestLifetimeContainer_DisposeOrder(t *testing.T) {
	l := NewLifetimeContainer()

	var order []int

	for i := range 3 {
		l.Add(disposeFunc(func() error {
			order = append(order, i)

			return nil
		}))
	}

	l.Add("not disposable")
	assert.Equal(t, 4, l.Len())

	require.NoError(t, l.Dispose())
	assert.Equal(t, []int{2, 1, 0}, order)

	require.NoError(t, l.Dispose())
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestLifetimeContainer_PanicIsReported(t *testing.T) {
	l := NewLifetimeContainer()

	l.Add(disposeFunc(func() error { panic("bad dispose") }))

	err := l.Dispose()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad dispose")
}

type disposeFunc func() error

func (f disposeFunc) Dispose() error { return f() }
