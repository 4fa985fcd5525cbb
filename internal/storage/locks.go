package storage

import (
	"context"
	"sync"
)

// lockSet holds one binary semaphore per collection. A channel is used
// instead of sync.Mutex so waiting can observe context cancellation.
type lockSet struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func newLockSet() *lockSet { return &lockSet{m: map[string]chan struct{}{}} }

func (l *lockSet) sem(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.m[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.m[name] = ch
	}
	return ch
}

// acquire blocks until the collection is free or ctx is done.
func (l *lockSet) acquire(ctx context.Context, name string) (release func(), err error) {
	ch := l.sem(name)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
