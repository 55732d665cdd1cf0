package reconciler

import (
	"context"
	"errors"
	"net"
	"time"

	"camwatch/pkg/interfaces"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

// isTransient reports whether err is worth retrying within the same cycle.
// Business rejections and conflicts are never retried.
func isTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, interfaces.ErrLaunchFailed),
		errors.Is(err, interfaces.ErrTerminationFailed),
		errors.Is(err, interfaces.ErrStoreConflict),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, interfaces.ErrMetricUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// call runs fn with a per-call timeout, retrying transient errors with exponential backoff
func (r *Reconciler) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return callWithRetry(ctx, r.opts.CallTimeout, r.opts.MaxRetries, r.opts.RetryBackoff, fn)
}

// callOnce runs fn with a per-call timeout and no retries
func (r *Reconciler) callOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	return callWithRetry(ctx, r.opts.CallTimeout, 0, r.opts.RetryBackoff, fn)
}

func callWithRetry(ctx context.Context, timeout time.Duration, retries int, base time.Duration, fn func(ctx context.Context) error) error {
	backoff := wait.Backoff{
		Steps:    retries + 1,
		Duration: base,
		Factor:   2.0,
		Jitter:   0.1,
	}

	return retry.OnError(backoff, func(err error) bool {
		return ctx.Err() == nil && isTransient(err)
	}, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	})
}
