// Package retry classifies request failures and reruns operations with
// exponential backoff until they succeed, fail permanently, or the
// retry budget is spent.
package retry

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/diwise/datacommons-client/pkg/datacommons/errors"
)

// Class partitions failures by how the next attempt should be scheduled.
type Class int

const (
	// ClassPermanent failures will not succeed on retry.
	ClassPermanent Class = iota
	// ClassTransient failures are retried with exponential backoff.
	ClassTransient
	// ClassRateLimited failures are retried after the delay the server
	// asked for, falling back to exponential backoff without one.
	ClassRateLimited
)

// Policy bounds the number of attempts and the delay between them.
// Delays grow exponentially from BaseDelay up to MaxDelay, randomized
// by Jitter (0 disables randomization, 0.5 spreads each delay +/- 50%).
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Jitter:     0.5,
	}
}

// Classify maps an error to its retry class. Responses with a status
// code classify by code (429 rate limited, 5xx transient, any other
// 4xx permanent). Timeouts, connection resets and other transport
// level failures are transient. Everything else, including context
// cancellation, is permanent.
func Classify(err error) Class {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return ClassPermanent
	}

	if code, ok := errors.StatusCode(err); ok {
		switch {
		case code == http.StatusTooManyRequests:
			return ClassRateLimited
		case code >= http.StatusInternalServerError:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	if stderrors.Is(err, errors.ErrTransport) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}

	return ClassPermanent
}

// Do runs op and retries transient and rate limited failures at most
// policy.MaxRetries times. Permanent failures and context cancellation
// propagate unchanged. When the budget runs out the last error is
// wrapped in a RetriesExhaustedError carrying the attempt count.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     policy.BaseDelay,
		RandomizationFactor: policy.Jitter,
		Multiplier:          2,
		MaxInterval:         policy.MaxDelay,
	}

	var lastErr error
	permanent := false
	attempts := 0

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		switch Classify(err) {
		case ClassPermanent:
			permanent = true
			return result, backoff.Permanent(err)
		case ClassRateLimited:
			if delay, ok := errors.RetryAfterHint(err); ok && delay > 0 {
				return result, &backoff.RetryAfterError{Duration: delay}
			}
		}

		return result, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(policy.MaxRetries)+1))

	if err == nil {
		return result, nil
	}

	if permanent || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return result, err
	}

	return result, errors.NewRetriesExhausted(attempts, lastErr)
}
