// Package lifecycle lets components observe the start of their hosting process.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// HostStartedFunc is called once the hosting process finished starting.
// It may be delivered more than once and must be idempotent.
type HostStartedFunc func(ctx context.Context)

// Source delivers host lifecycle signals to registered observers.
type Source interface {
	// OnHostStarted registers fn and returns a function removing the registration again.
	OnHostStarted(fn HostStartedFunc) (unsubscribe func())
}

// Notifier is an in-process Source. The host calls HostStarted when it is fully started.
type Notifier struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[uint64]HostStartedFunc
	order       []uint64
}

var _ Source = (*Notifier)(nil)

func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[uint64]HostStartedFunc)}
}

func (n *Notifier) OnHostStarted(fn HostStartedFunc) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subscribers[id] = fn
	n.order = append(n.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subscribers, id)
		})
	}
}

// Subscribers returns the number of current registrations.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}

// HostStarted synchronously notifies all current subscribers in registration order.
// A panicking subscriber is logged and does not prevent delivery to the others.
func (n *Notifier) HostStarted(ctx context.Context) {
	n.mu.Lock()
	fns := make([]HostStartedFunc, 0, len(n.subscribers))
	live := n.order[:0]
	for _, id := range n.order {
		if fn, ok := n.subscribers[id]; ok {
			fns = append(fns, fn)
			live = append(live, id)
		}
	}
	n.order = live
	n.mu.Unlock()

	for _, fn := range fns {
		deliver(ctx, fn)
	}
}

func deliver(ctx context.Context, fn HostStartedFunc) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "host started observer panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(ctx)
}
