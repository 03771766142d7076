package anvil

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Test fixtures shared by the package tests.

type Logger interface {
	Log(msg string)
}

type consoleLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *consoleLogger) Log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, msg)
}

type fileLogger struct {
	Path string
}

func (l *fileLogger) Log(string) {}

type Store interface {
	Get(key string) string
}

type memoryStore struct {
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{"greeting": "hello"}}
}

func (s *memoryStore) Get(key string) string { return s.data[key] }

type repository struct {
	Log   Logger `inject:""`
	Store Store  `inject:",optional"`
}

type userService struct {
	repo *repository
	log  Logger
}

func newUserService(repo *repository, log Logger) *userService {
	return &userService{repo: repo, log: log}
}

type disposable struct {
	ID       int
	disposed atomic.Int32
	err      error
}

func (d *disposable) Dispose() error {
	d.disposed.Add(1)

	return d.err
}

type counted struct {
	N int32
}

// awareThing records BuilderAware callbacks.
type awareThing struct {
	Log      Logger `inject:""`
	builtKey BuildKey
	torn     bool
	failOn   bool
}

func (a *awareThing) OnBuiltUp(key BuildKey) error {
	if a.failOn {
		return errors.New("refused")
	}

	a.builtKey = key

	return nil
}

func (a *awareThing) OnTearingDown() error {
	a.torn = true

	return nil
}

// cycle fixtures
type cycleA struct{ B *cycleB }
type cycleB struct{ A *cycleA }

func newCycleA(b *cycleB) *cycleA { return &cycleA{B: b} }
func newCycleB(a *cycleA) *cycleB { return &cycleB{A: a} }
