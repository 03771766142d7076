package anvil

import "sync"

// Middleware provides hooks around the public resolve calls of a container
// and its children. Middleware can be used for logging, metrics, security,
// testing, etc.
type Middleware interface {
	// BeforeResolve is called before resolving a key.
	// Return error to abort resolution.
	BeforeResolve(key BuildKey) error

	// AfterResolve is called after resolving a key.
	// Called even if resolution failed (instance and err may both be set).
	AfterResolve(key BuildKey, instance any, err error) error
}

// middlewareChain runs the parent container's middleware before its own.
type middlewareChain struct {
	parent     *middlewareChain
	middleware []Middleware
	mu         sync.RWMutex
}

// newMiddlewareChain creates a new middleware chain.
func newMiddlewareChain(parent *middlewareChain) *middlewareChain {
	return &middlewareChain{parent: parent}
}

// add appends middleware to the chain.
func (m *middlewareChain) add(middleware Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.middleware = append(m.middleware, middleware)
}

func (m *middlewareChain) all() []Middleware {
	var out []Middleware
	if m.parent != nil {
		out = m.parent.all()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return append(out, m.middleware...)
}

// beforeResolve calls BeforeResolve on all middleware.
func (m *middlewareChain) beforeResolve(key BuildKey) error {
	for _, mw := range m.all() {
		if err := mw.BeforeResolve(key); err != nil {
			return err
		}
	}

	return nil
}

// afterResolve calls AfterResolve on all middleware.
func (m *middlewareChain) afterResolve(key BuildKey, instance any, err error) error {
	for _, mw := range m.all() {
		if mwErr := mw.AfterResolve(key, instance, err); mwErr != nil {
			return mwErr
		}
	}

	return nil
}

// FuncMiddleware wraps functions as Middleware.
type FuncMiddleware struct {
	BeforeResolveFunc func(key BuildKey) error
	AfterResolveFunc  func(key BuildKey, instance any, err error) error
}

// BeforeResolve implements Middleware.
func (f *FuncMiddleware) BeforeResolve(key BuildKey) error {
	if f.BeforeResolveFunc != nil {
		return f.BeforeResolveFunc(key)
	}

	return nil
}

// AfterResolve implements Middleware.
func (f *FuncMiddleware) AfterResolve(key BuildKey, instance any, err error) error {
	if f.AfterResolveFunc != nil {
		return f.AfterResolveFunc(key, instance, err)
	}

	return nil
}
