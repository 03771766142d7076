package anvil

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// LifetimeContainer tracks objects whose lifetime is owned by a container:
// lifetime managers holding disposable values and child containers.
type LifetimeContainer struct {
	items    []any
	disposed bool
	mu       sync.Mutex
}

// NewLifetimeContainer creates an empty lifetime container.
func NewLifetimeContainer() *LifetimeContainer {
	return &LifetimeContainer{}
}

// Add starts tracking item.
func (l *LifetimeContainer) Add(item any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, item)
}

// Remove stops tracking item.
func (l *LifetimeContainer) Remove(item any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, it := range l.items {
		if it == item {
			l.items = append(l.items[:i], l.items[i+1:]...)

			return
		}
	}
}

// Contains reports whether item is tracked.
func (l *LifetimeContainer) Contains(item any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, it := range l.items {
		if it == item {
			return true
		}
	}

	return false
}

// Len returns the number of tracked items.
func (l *LifetimeContainer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.items)
}

// Dispose disposes child containers first, then every other tracked item, each
// group in reverse insertion order. Every item is attempted; failures are
// combined. A second call is a no-op.
func (l *LifetimeContainer) Dispose() error {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()

		return nil
	}

	l.disposed = true
	items := l.items
	l.items = nil
	l.mu.Unlock()

	var children, others []any

	for _, it := range items {
		if _, ok := it.(*Container); ok {
			children = append(children, it)
		} else {
			others = append(others, it)
		}
	}

	var err error

	for _, group := range [][]any{children, others} {
		for i := len(group) - 1; i >= 0; i-- {
			err = multierr.Append(err, disposeItem(group[i]))
		}
	}

	return err
}

func disposeItem(item any) (err error) {
	d, ok := item.(Disposable)
	if !ok {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("dispose %T: panic: %v", item, r)
		}
	}()

	if derr := d.Dispose(); derr != nil {
		return errors.Wrapf(derr, "dispose %T", item)
	}

	return nil
}
