package objective

import (
	"sync"
)

// Observer receives the function's input values after every evaluation.
// The slice is a private copy; the function's output at that instant is
// available from Function.Output while Update runs.
type Observer interface {
	Update(inputValues []float64)
}

// ObserverFunc is a closure that can be turned into an Observer with
// NewObserverFunc.
type ObserverFunc func(inputValues []float64)

// funcObserver gives an ObserverFunc pointer identity.
type funcObserver struct{ fn ObserverFunc }

func (o *funcObserver) Update(inputValues []float64) { o.fn(inputValues) }

// NewObserverFunc returns a handle for fn that can be registered and later
// removed.
func NewObserverFunc(fn ObserverFunc) Observer {
	return &funcObserver{fn: fn}
}

// Notifier keeps a set of observers and delivers updates to them in
// registration order. It holds no ownership over observers. The zero value
// is ready to use.
type Notifier struct {
	mu        sync.RWMutex
	observers []Observer
}

// RegisterObserver adds o. Registering the same observer twice is a no-op.
// o must be comparable (a pointer or a comparable struct).
func (n *Notifier) RegisterObserver(o Observer) {
	if o == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.observers {
		if existing == o {
			return
		}
	}
	n.observers = append(n.observers, o)
}

// RemoveObserver removes o. Removing an unregistered observer is a no-op.
func (n *Notifier) RemoveObserver(o Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, existing := range n.observers {
		if existing == o {
			n.observers = append(n.observers[:i:i], n.observers[i+1:]...)
			return
		}
	}
}

// ObserverCount returns the number of registered observers.
func (n *Notifier) ObserverCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.observers)
}

// notify delivers values synchronously on the caller's goroutine. The
// observer list is snapshotted first so observers may register or remove
// observers from inside Update.
func (n *Notifier) notify(values []float64) {
	n.mu.RLock()
	observers := append([]Observer(nil), n.observers...)
	n.mu.RUnlock()

	for _, o := range observers {
		o.Update(append([]float64(nil), values...))
	}
}
