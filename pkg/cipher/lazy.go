package cipher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Lazy holds a value built on first use. Concurrent first callers share one
// attempt; a failed attempt is not remembered, so the next caller retries.
type Lazy[T any] struct {
	init    func(ctx context.Context) (T, error)
	timeout time.Duration

	mu    sync.Mutex
	val   T
	ready bool

	group    singleflight.Group
	attempts int
}

// NewLazy wraps init. Each attempt runs detached from the caller's context
// and is bounded by timeout.
func NewLazy[T any](timeout time.Duration, init func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init, timeout: timeout}
}

func (l *Lazy[T]) load() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.ready
}

// Get returns the value, building it if needed.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	if v, ok := l.load(); ok {
		return v, nil
	}

	ch := l.group.DoChan("init", func() (any, error) {
		if v, ok := l.load(); ok {
			return v, nil
		}
		l.mu.Lock()
		l.attempts++
		l.mu.Unlock()

		initCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		v, err := l.init(initCtx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.val, l.ready = v, true
		l.mu.Unlock()
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Ready reports whether a value has been built.
func (l *Lazy[T]) Ready() bool {
	_, ok := l.load()
	return ok
}

// Attempts reports how many times init has run.
func (l *Lazy[T]) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}
