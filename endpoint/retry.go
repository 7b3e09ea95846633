package endpoint

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// RetryOptions bounds the backoff loop applied to endpoint I/O.
type RetryOptions struct {
	// MinSleep is the initial backoff.
	MinSleep time.Duration
	// MaxSleep caps the backoff.
	MaxSleep time.Duration
	// MaxAttempts limits the number of tries per operation.
	MaxAttempts int
	// RequestsPerSecond paces requests against remote endpoints.
	// Zero disables pacing. Local endpoints are never paced.
	RequestsPerSecond float64
}

// DefaultRetryOptions matches the policy chunk load/flush expects:
// bounded exponential backoff, exhausted retries propagate.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MinSleep:    50 * time.Millisecond,
		MaxSleep:    2 * time.Second,
		MaxAttempts: 5,
	}
}

// Retrying wraps an Endpoint with bounded exponential backoff and
// optional request pacing.
type Retrying struct {
	inner   Endpoint
	opts    RetryOptions
	limiter *rate.Limiter
}

// WithRetry wraps inner. A missing object is not an I/O failure, so
// ErrNotFound short-circuits the loop.
func WithRetry(inner Endpoint, opts RetryOptions) *Retrying {
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 && !inner.IsLocal() {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxSleep < opts.MinSleep {
		opts.MaxSleep = opts.MinSleep
	}
	return &Retrying{inner: inner, opts: opts, limiter: limiter}
}

func (r *Retrying) do(ctx context.Context, op func() error) error {
	backoff := r.opts.MinSleep
	var err error
	for i := 0; i < r.opts.MaxAttempts; i++ {
		if r.limiter != nil {
			if werr := r.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}

		err = op()
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * (1.75 + 0.5*rand.Float64()))
		if backoff > r.opts.MaxSleep {
			backoff = r.opts.MaxSleep
		}
	}
	return err
}

// Get reads the full object at path, retrying transient failures.
func (r *Retrying) Get(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := r.do(ctx, func() error {
		var err error
		out, err = r.inner.Get(ctx, path)
		return err
	})
	return out, err
}

// TryGetSize probes for an object, retrying transient failures.
func (r *Retrying) TryGetSize(ctx context.Context, path string) (uint64, bool, error) {
	var (
		size uint64
		ok   bool
	)
	err := r.do(ctx, func() error {
		var err error
		size, ok, err = r.inner.TryGetSize(ctx, path)
		return err
	})
	return size, ok, err
}

// Put writes an object, retrying transient failures.
func (r *Retrying) Put(ctx context.Context, path string, data []byte) error {
	return r.do(ctx, func() error {
		return r.inner.Put(ctx, path, data)
	})
}

// IsLocal reports whether the wrapped endpoint is local.
func (r *Retrying) IsLocal() bool { return r.inner.IsLocal() }

// Root returns the wrapped endpoint's root.
func (r *Retrying) Root() string { return r.inner.Root() }
