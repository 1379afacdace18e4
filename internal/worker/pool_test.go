package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsAllTasks(t *testing.T) {
	var done int32
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt32(&done, 1)
			return nil
		}
	}
	errs := Run(context.Background(), 4, tasks)
	assert.Empty(t, errs)
	assert.Equal(t, int32(20), atomic.LoadInt32(&done))
}

func TestPool_CollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task{
		func(context.Context) error { return boom },
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
	}
	errs := Run(context.Background(), 2, tasks)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], boom)
}

func TestPool_LimitsConcurrency(t *testing.T) {
	var cur, peak int32
	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			n := atomic.AddInt32(&cur, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&cur, -1)
			return nil
		}
	}
	Run(context.Background(), 3, tasks)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := New(context.Background(), 1)
	p.Start()
	p.Stop()
	assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }), ErrPoolStopped)
}
