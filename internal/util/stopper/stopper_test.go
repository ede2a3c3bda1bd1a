package stopper

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopDrainsGoroutines(t *testing.T) {
	ctx := WithContext(context.Background())

	done := make(chan struct{})
	ctx.Go(func() error {
		<-ctx.Stopping()
		close(done)
		return nil
	})

	ctx.Stop(time.Second)
	select {
	case <-done:
	default:
		t.Fatal("goroutine did not observe the stop signal")
	}
	assert.Error(t, ctx.Err())
}

func TestWaitReportsFirstError(t *testing.T) {
	ctx := WithContext(context.Background())
	boom := errors.New("boom")
	ctx.Go(func() error { return boom })

	err := ctx.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	ctx.Stop(time.Second)
}

func TestStopPropagatesToChild(t *testing.T) {
	parent := WithContext(context.Background())
	child := WithContext(parent)

	observed := make(chan struct{})
	child.Go(func() error {
		<-child.Stopping()
		close(observed)
		return nil
	})

	parent.Stop(time.Second)
	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("child never observed the parent's stop")
	}
	child.Stop(time.Second)
}

func TestFromFindsStopperInChain(t *testing.T) {
	ctx := WithContext(context.Background())
	defer ctx.Stop(time.Second)

	wrapped := context.WithValue(ctx, struct{ k string }{"x"}, "y")
	assert.Same(t, ctx, From(wrapped))
	assert.Nil(t, From(context.Background()))
}
