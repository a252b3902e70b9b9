package singleflight

import (
	"context"
	"sync"
)

// Group coalesces concurrent loads of the same key into one call.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*call[T]
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
	dups int
}

// New creates a new singleflight Group.
func New[T any]() *Group[T] {
	return &Group[T]{m: make(map[string]*call[T])}
}

// Do runs fn once per key at a time. Callers arriving while fn runs wait for
// and share its result; shared reports whether the result went to more than
// one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, err error, shared bool) {
	c, owner := g.join(key)
	if !owner {
		<-c.done
		return c.val, c.err, true
	}
	g.run(key, c, fn)
	return c.val, c.err, c.dups > 0
}

// DoContext is Do with a waiter that gives up when ctx is done. The owner
// call keeps running for the other waiters.
func (g *Group[T]) DoContext(ctx context.Context, key string, fn func() (T, error)) (T, error) {
	c, owner := g.join(key)
	if owner {
		go g.run(key, c, fn)
	}
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Forget drops the in-flight entry for key so the next caller starts a new call.
func (g *Group[T]) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

func (g *Group[T]) join(key string) (*call[T], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		c.dups++
		return c, false
	}
	c := &call[T]{done: make(chan struct{})}
	g.m[key] = c
	return c, true
}

func (g *Group[T]) run(key string, c *call[T], fn func() (T, error)) {
	defer func() {
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn()
}
