package application

import (
	"context"
	"time"
)

// OperationObserver is told about every public speaker operation once it
// settles.
type OperationObserver interface {
	ObserveOperation(ctx context.Context, op string, elapsed time.Duration, err error)
}

type NoopObserver struct{}

func (n *NoopObserver) ObserveOperation(_ context.Context, _ string, _ time.Duration, _ error) {}
