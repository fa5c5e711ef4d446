// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry and fallback policies layered on top
// of broker dispatch. The broker itself performs exactly one attempt per
// call; anything that re-invokes lives here.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/loomlab/loom/pkg/core"
	"github.com/loomlab/loom/pkg/errors"
)

// Invoker dispatches a single action call. *broker.Broker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, call core.ActionCall) (core.ActionResult, error)
}

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the initial backoff delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// Jitter adds randomness to backoff to prevent thundering herd.
	// Value between 0 and 1; 0.1 means ±10% jitter.
	Jitter float64

	// ShouldRetry decides whether a non-ok result is worth another
	// attempt. If nil, error and timeout results are both retried.
	ShouldRetry func(core.ActionResult) bool
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		ShouldRetry:  shouldRetryDefault,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithShouldRetry returns a new config with ShouldRetry set.
func (rc RetryConfig) WithShouldRetry(fn func(core.ActionResult) bool) RetryConfig {
	rc.ShouldRetry = fn
	return rc
}

// Invoke dispatches the call through inv, re-invoking on retryable
// results. Routing errors (unknown capability) are returned immediately:
// no number of retries will make an unregistered capability appear.
func (rc RetryConfig) Invoke(ctx context.Context, inv Invoker, call core.ActionCall) (core.ActionResult, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.ShouldRetry == nil {
		rc.ShouldRetry = shouldRetryDefault
	}

	var last core.ActionResult
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt, rc)
			select {
			case <-ctx.Done():
				return last, errors.New(errors.CodeTimeout, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-time.After(delay):
			}
		}

		result, err := inv.Invoke(ctx, call)
		if err != nil {
			return result, err
		}
		if result.Ok() {
			return result, nil
		}

		last = result
		if !rc.ShouldRetry(result) {
			return result, nil
		}
	}

	return last, nil
}

// calculateBackoff computes exponential backoff delay with jitter.
func calculateBackoff(attempt int, rc RetryConfig) time.Duration {
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}

	exponentialDelay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(attempt)))

	if exponentialDelay > rc.MaxDelay {
		exponentialDelay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		jitterAmount := exponentialDelay.Seconds() * rc.Jitter
		jitterRange := 2 * jitterAmount * (rand.Float64() - 0.5)
		exponentialDelay = time.Duration(float64(exponentialDelay) + jitterRange*1e9)
		if exponentialDelay < 0 {
			exponentialDelay = 0
		}
	}

	return exponentialDelay
}

// shouldRetryDefault retries transient outcomes. Timeouts and provider
// errors are both candidates; a provider that reported BAD_PAYLOAD will
// keep reporting it, so that code is excluded.
func shouldRetryDefault(result core.ActionResult) bool {
	switch result.Status {
	case core.StatusTimeout:
		return true
	case core.StatusError:
		return result.Error == nil || result.Error.Code != "BAD_PAYLOAD"
	default:
		return false
	}
}
