package anvil

import (
	"bytes"
	"reflect"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"
	"weak"

	"go.uber.org/multierr"
)

// LifetimePolicy is a cell holding at most one value.
type LifetimePolicy interface {
	GetValue() (any, bool)
	SetValue(v any)
	RemoveValue()
}

// RequiresRecovery is implemented by policies that hold resources between
// the Lifetime stage and the end of a build. Recover is called when the build
// fails.
type RequiresRecovery interface {
	Recover()
}

// LifetimeFactoryPolicy creates a fresh lifetime manager. Open generic
// registrations use it to get one manager per closed type, and hierarchical
// managers use it to get one manager per container.
type LifetimeFactoryPolicy interface {
	CreateLifetimePolicy() LifetimeManager
}

// LifetimeManager controls reuse of built instances. A manager instance can be
// attached to a single key; MarkInUse reports false when it already is.
type LifetimeManager interface {
	LifetimePolicy
	LifetimeFactoryPolicy
	MarkInUse() bool
}

// LifetimeManagerBase implements the in-use marker. Embed it in custom managers.
type LifetimeManagerBase struct {
	inUse atomic.Bool
}

// MarkInUse flags the manager as attached and reports whether it was free.
func (b *LifetimeManagerBase) MarkInUse() bool {
	return b.inUse.CompareAndSwap(false, true)
}

// InUse reports whether the manager has been attached to a key.
func (b *LifetimeManagerBase) InUse() bool {
	return b.inUse.Load()
}

func (b *LifetimeManagerBase) release() {
	b.inUse.Store(false)
}

// releaseInUse detaches m after a failed registration so it can be attached
// again.
func releaseInUse(m LifetimeManager) {
	if r, ok := m.(interface{ release() }); ok {
		r.release()
	}
}

// TransientLifetimeManager never stores a value; every resolve builds anew.
type TransientLifetimeManager struct {
	LifetimeManagerBase
}

// NewTransient returns a transient lifetime manager.
func NewTransient() *TransientLifetimeManager {
	return &TransientLifetimeManager{}
}

func (m *TransientLifetimeManager) GetValue() (any, bool) { return nil, false }
func (m *TransientLifetimeManager) SetValue(any)          {}
func (m *TransientLifetimeManager) RemoveValue()          {}

func (m *TransientLifetimeManager) CreateLifetimePolicy() LifetimeManager {
	return NewTransient()
}

// synchronizedLifetime serializes first construction.
//
// GetValue returns with the build lock held when the cell is empty; the lock
// is released by SetValue, or by Recover when the build fails. The token
// identifies the acquisition so a late recovery cannot release a lock taken
// by another goroutine afterwards.
type synchronizedLifetime struct {
	LifetimeManagerBase

	lock   sync.Mutex
	token  atomic.Uint64
	tokens atomic.Uint64

	mu    sync.RWMutex
	value any
	has   bool
}

func (s *synchronizedLifetime) load() (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.value, s.has
}

func (s *synchronizedLifetime) GetValue() (any, bool) {
	if v, ok := s.load(); ok {
		return v, true
	}

	s.lock.Lock()

	if v, ok := s.load(); ok {
		s.lock.Unlock()

		return v, true
	}

	s.token.Store(s.tokens.Add(1))

	return nil, false
}

func (s *synchronizedLifetime) SetValue(v any) {
	s.mu.Lock()
	s.value, s.has = v, true
	s.mu.Unlock()

	s.release()
}

func (s *synchronizedLifetime) RemoveValue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value, s.has = nil, false
}

// Recover releases the build lock if it is held.
func (s *synchronizedLifetime) Recover() {
	s.release()
}

func (s *synchronizedLifetime) release() {
	if t := s.token.Swap(0); t != 0 {
		s.lock.Unlock()
	}
}

// heldRecovery returns a recovery bound to the current lock acquisition.
// It must be called by the goroutine that got a miss from GetValue.
func (s *synchronizedLifetime) heldRecovery() RequiresRecovery {
	return tokenRecovery{s: s, token: s.token.Load()}
}

// Dispose disposes the held value, if any, and empties the cell.
func (s *synchronizedLifetime) Dispose() error {
	s.mu.Lock()
	v := s.value
	s.value, s.has = nil, false
	s.mu.Unlock()

	if d, ok := v.(Disposable); ok {
		return d.Dispose()
	}

	return nil
}

type tokenRecovery struct {
	s     *synchronizedLifetime
	token uint64
}

func (r tokenRecovery) Recover() {
	if r.token != 0 && r.s.token.CompareAndSwap(r.token, 0) {
		r.s.lock.Unlock()
	}
}

// ContainerControlledLifetimeManager keeps one instance per owning container
// and disposes it with the container. Child containers that inherit the
// registration share the instance.
type ContainerControlledLifetimeManager struct {
	synchronizedLifetime
}

// NewContainerControlled returns a container-controlled (singleton) manager.
func NewContainerControlled() *ContainerControlledLifetimeManager {
	return &ContainerControlledLifetimeManager{}
}

func (m *ContainerControlledLifetimeManager) CreateLifetimePolicy() LifetimeManager {
	return NewContainerControlled()
}

// HierarchicalLifetimeManager keeps one instance per container level that
// resolves the key: a child resolving a key registered on its parent gets its
// own instance.
type HierarchicalLifetimeManager struct {
	synchronizedLifetime
}

// NewHierarchical returns a hierarchical lifetime manager.
func NewHierarchical() *HierarchicalLifetimeManager {
	return &HierarchicalLifetimeManager{}
}

func (m *HierarchicalLifetimeManager) CreateLifetimePolicy() LifetimeManager {
	return NewHierarchical()
}

// PerThreadLifetimeManager keeps one instance per goroutine. Instances are
// never shared between goroutines.
//
// Goroutine ids are never reused, so a value stays until Dispose unless its
// goroutine calls RemoveValue (or ReleaseCurrent) before it exits.
type PerThreadLifetimeManager struct {
	LifetimeManagerBase

	mu     sync.Mutex
	values map[uint64]any
}

// NewPerThread returns a per-goroutine lifetime manager.
func NewPerThread() *PerThreadLifetimeManager {
	return &PerThreadLifetimeManager{values: make(map[uint64]any)}
}

func (m *PerThreadLifetimeManager) GetValue() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[goroutineID()]

	return v, ok
}

func (m *PerThreadLifetimeManager) SetValue(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[goroutineID()] = v
}

func (m *PerThreadLifetimeManager) RemoveValue() {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, goroutineID())
}

// ReleaseCurrent removes and disposes the calling goroutine's value.
func (m *PerThreadLifetimeManager) ReleaseCurrent() error {
	m.mu.Lock()
	id := goroutineID()
	v, ok := m.values[id]
	delete(m.values, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	return disposeItem(v)
}

// Len returns the number of goroutines holding a value.
func (m *PerThreadLifetimeManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.values)
}

func (m *PerThreadLifetimeManager) CreateLifetimePolicy() LifetimeManager {
	return NewPerThread()
}

// Dispose disposes the values of every goroutine and empties the manager.
func (m *PerThreadLifetimeManager) Dispose() error {
	m.mu.Lock()
	values := m.values
	m.values = make(map[uint64]any)
	m.mu.Unlock()

	var err error

	for _, v := range values {
		if d, ok := v.(Disposable); ok {
			err = multierr.Append(err, d.Dispose())
		}
	}

	return err
}

// goroutineID parses the current goroutine id from the stack header
// ("goroutine 42 [running]:").
func goroutineID() uint64 {
	var buf [64]byte

	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))

	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}

	id, _ := strconv.ParseUint(string(b), 10, 64)

	return id
}

// PerResolveLifetimeManager shares one instance across the whole object graph
// of a single top-level Resolve call. The value lives in the build context,
// not in the manager.
type PerResolveLifetimeManager struct {
	LifetimeManagerBase
}

// NewPerResolve returns a per-resolve lifetime manager.
func NewPerResolve() *PerResolveLifetimeManager {
	return &PerResolveLifetimeManager{}
}

func (m *PerResolveLifetimeManager) GetValue() (any, bool) { return nil, false }
func (m *PerResolveLifetimeManager) SetValue(any)          {}
func (m *PerResolveLifetimeManager) RemoveValue()          {}

func (m *PerResolveLifetimeManager) CreateLifetimePolicy() LifetimeManager {
	return NewPerResolve()
}

// ExternallyControlledLifetimeManager holds a weak reference to a pointer
// value; the container never disposes it and the value disappears once the
// rest of the program drops it. Non-pointer values are held strongly.
type ExternallyControlledLifetimeManager struct {
	LifetimeManagerBase

	mu     sync.RWMutex
	ref    weak.Pointer[byte]
	ptrTyp reflect.Type
	strong any
	has    bool
}

// NewExternallyControlled returns an externally controlled lifetime manager.
func NewExternallyControlled() *ExternallyControlledLifetimeManager {
	return &ExternallyControlledLifetimeManager{}
}

func (m *ExternallyControlledLifetimeManager) GetValue() (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.has {
		return nil, false
	}

	if m.ptrTyp == nil {
		return m.strong, true
	}

	p := m.ref.Value()
	if p == nil {
		return nil, false
	}

	return reflect.NewAt(m.ptrTyp.Elem(), unsafe.Pointer(p)).Interface(), true
}

func (m *ExternallyControlledLifetimeManager) SetValue(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.has = true
	m.strong, m.ptrTyp, m.ref = nil, nil, weak.Pointer[byte]{}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Type().Elem().Size() > 0 {
		m.ptrTyp = rv.Type()
		m.ref = weak.Make((*byte)(rv.UnsafePointer()))

		return
	}

	m.strong = v
}

func (m *ExternallyControlledLifetimeManager) RemoveValue() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.has = false
	m.strong, m.ptrTyp, m.ref = nil, nil, weak.Pointer[byte]{}
}

func (m *ExternallyControlledLifetimeManager) CreateLifetimePolicy() LifetimeManager {
	return NewExternallyControlled()
}

// lifetimeName names a lifetime policy for diagnostics.
func lifetimeName(p LifetimePolicy) string {
	switch p.(type) {
	case nil:
		return "transient"
	case *TransientLifetimeManager:
		return "transient"
	case *ContainerControlledLifetimeManager:
		return "container-controlled"
	case *HierarchicalLifetimeManager:
		return "hierarchical"
	case *PerThreadLifetimeManager:
		return "per-thread"
	case *PerResolveLifetimeManager:
		return "per-resolve"
	case *ExternallyControlledLifetimeManager:
		return "externally-controlled"
	default:
		return reflect.TypeOf(p).String()
	}
}
