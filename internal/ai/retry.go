package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// RetryPolicy bounds calls to a reasoning backend.
type RetryPolicy struct {
	// Timeout applies to each attempt separately.
	Timeout    time.Duration
	MaxRetries int
	Delay      time.Duration
}

// retryingBackend retries a backend on BACKEND_UNAVAILABLE only. Malformed or
// invalid replies are returned at once.
type retryingBackend struct {
	next   models.ReasoningBackend
	policy RetryPolicy
}

// WithRetry wraps next with per-attempt timeouts and bounded retries.
func WithRetry(next models.ReasoningBackend, policy RetryPolicy) models.ReasoningBackend {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &retryingBackend{next: next, policy: policy}
}

func (r *retryingBackend) Name() string  { return r.next.Name() }
func (r *retryingBackend) Model() string { return r.next.Model() }

func (r *retryingBackend) Decide(ctx context.Context, dc models.DecisionContext) (models.CanonicalDecision, error) {
	return retry(ctx, r, func(ctx context.Context) (models.CanonicalDecision, error) {
		return r.next.Decide(ctx, dc)
	})
}

func (r *retryingBackend) ExtractDate(ctx context.Context, reply models.SupplierReply) (models.DateExtraction, error) {
	return retry(ctx, r, func(ctx context.Context) (models.DateExtraction, error) {
		return r.next.ExtractDate(ctx, reply)
	})
}

func retry[T any](ctx context.Context, r *retryingBackend, call func(context.Context) (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := withTimeout(ctx, r.policy.Timeout, call)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !errors.Is(err, apperr.ErrBackendUnavailable) {
			return v, backoff.Permanent(err)
		}
		slog.Warn("reasoning backend attempt failed",
			"provider", r.next.Name(),
			"attempt", attempt,
			"error", apperr.Loggable(err),
		)
		return v, err
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.policy.Delay)),
		backoff.WithMaxTries(uint(r.policy.MaxRetries+1)),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, apperr.ErrBackendUnavailable) {
		err = apperr.Wrap(apperr.KindBackendUnavailable, err, "reasoning backend call abandoned")
	}
	return v, err
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := call(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrBackendUnavailable) {
		err = apperr.Wrap(apperr.KindBackendUnavailable, err, "reasoning backend timed out after %s", timeout)
	}
	return v, err
}
