// Package stopper provides a cooperative-shutdown context: a
// context.Context that additionally tracks goroutines spawned with Go,
// and that can be asked to Stop and wait for them to drain. Stop
// requests propagate from parent to child contexts, so a nested worker
// pool winds down when the process does.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type ctxKey struct{}

// Context wraps a context.Context with cooperative-shutdown bookkeeping.
type Context struct {
	context.Context
	cancel context.CancelFunc

	stopping chan struct{}
	once     sync.Once

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// WithContext creates a new stopper.Context derived from parent. If the
// parent chain already contains a stopper.Context, a Stop on the parent
// also stops the child.
func WithContext(parent context.Context) *Context {
	inner, cancel := context.WithCancel(parent)
	c := &Context{
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
	c.Context = context.WithValue(inner, ctxKey{}, c)

	if p := From(parent); p != nil {
		go func() {
			select {
			case <-p.Stopping():
				c.beginStop()
			case <-c.Done():
			}
		}()
	}
	return c
}

// From returns the innermost stopper.Context in the chain, or nil.
func From(ctx context.Context) *Context {
	c, _ := ctx.Value(ctxKey{}).(*Context)
	return c
}

// Go runs fn in a goroutine tracked by this Context. If fn returns a
// non-nil error, it is recorded and retrievable via Wait.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		}
	}()
}

// Stopping returns a channel that is closed once Stop has been called
// on this Context or an ancestor. Long-running loops should select on
// this alongside Done().
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

func (c *Context) beginStop() {
	c.once.Do(func() { close(c.stopping) })
}

// Stop signals all goroutines started with Go to wind down and waits up
// to grace for them to finish before canceling the underlying context.
func (c *Context) Stop(grace time.Duration) {
	c.beginStop()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
	c.cancel()
}

// Wait blocks until all goroutines started with Go have returned and
// reports the first recorded error, if any.
func (c *Context) Wait() error {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil
	}
	return errors.WithStack(c.errs[0])
}
