package application

import (
	"context"
	"fmt"
	"sync"
)

// OperationQueue runs tasks one at a time in submission order. A failing or
// panicking task does not affect the tasks queued behind it.
type OperationQueue struct {
	mu   sync.Mutex
	tail chan struct{}
}

func NewOperationQueue() *OperationQueue {
	return &OperationQueue{}
}

// Do enqueues task and waits for its outcome. If ctx ends first, Do returns
// ctx.Err() while the task still runs to completion in its turn, on a context
// that ignores the caller's cancellation.
func (q *OperationQueue) Do(ctx context.Context, task func(context.Context) error) error {
	q.mu.Lock()
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.mu.Unlock()

	taskCtx := context.WithoutCancel(ctx)
	result := make(chan error, 1)

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		result <- runIsolated(taskCtx, task)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runIsolated(ctx context.Context, task func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued operation panicked: %v", r)
		}
	}()
	return task(ctx)
}
