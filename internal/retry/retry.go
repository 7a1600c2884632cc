// Package retry runs fallible remote operations under a bounded
// retry-with-backoff discipline. Errors are sorted by a classifier into
// quota-type failures (exponential backoff with jitter), other transient
// failures (short fixed delay) and permanent failures (no retry).
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted marks an operation that failed on every permitted attempt.
var ErrExhausted = errors.New("retries exhausted")

// Class is the retry classification of an error.
type Class int

const (
	// Quota is a rate-limit or quota failure: back off exponentially and,
	// where the caller supports it, shrink the batch.
	Quota Class = iota
	// Transient is any other failure presumed worth a small number of
	// quick retries.
	Transient
	// Permanent is not retried.
	Permanent
)

// Classifier sorts an error into a retry Class.
type Classifier func(error) Class

// StatusError is a remote-service failure carrying the HTTP status code, so
// classification does not have to rely on message text.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote service error (HTTP %d): %s", e.Code, e.Message)
}

// ClassifyRemote classifies errors from remote embedding/index services.
// Structured status codes are preferred; substring matching on the message is
// the last resort for errors that arrive without one.
func ClassifyRemote(err error) Class {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 429:
			return Quota
		case se.Code >= 500:
			return Transient
		case se.Code >= 400:
			return Permanent
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "quota") ||
		strings.Contains(msg, "exceeded") || strings.Contains(msg, "rate limit") {
		return Quota
	}
	return Transient
}

// Policy bounds the attempts and delays of a retried operation.
type Policy struct {
	// QuotaAttempts is the total number of tries permitted when failures
	// classify as Quota.
	QuotaAttempts int
	// TransientAttempts is the total number of tries permitted when
	// failures classify as Transient.
	TransientAttempts int
	// TransientDelay is the fixed wait between Transient retries.
	TransientDelay time.Duration
	// InitialInterval seeds the exponential backoff for Quota retries.
	InitialInterval time.Duration
	// MaxInterval caps a single Quota backoff wait.
	MaxInterval time.Duration

	// Sleep, when set, replaces the context-aware wait. Tests use it to
	// record delays without sleeping.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the service clients' usual ceilings: five tries under
// quota pressure, three for anything else.
func DefaultPolicy() Policy {
	return Policy{
		QuotaAttempts:     5,
		TransientAttempts: 3,
		TransientDelay:    time.Second,
		InitialInterval:   2 * time.Second,
		MaxInterval:       time.Minute,
	}
}

// Do runs op until it succeeds or its attempt budget is spent. onQuota, if
// non-nil, is invoked after each quota-classified failure before the backoff
// wait; adaptive batchers use it to shrink the next attempt.
func Do(ctx context.Context, op func() error, classify Classifier, p Policy, onQuota func(attempt int)) error {
	if p.QuotaAttempts <= 0 || p.TransientAttempts <= 0 {
		def := DefaultPolicy()
		if p.QuotaAttempts <= 0 {
			p.QuotaAttempts = def.QuotaAttempts
		}
		if p.TransientAttempts <= 0 {
			p.TransientAttempts = def.TransientAttempts
		}
	}
	if p.TransientDelay <= 0 {
		p.TransientDelay = time.Second
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 2 * time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = time.Minute
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	// Low randomization keeps successive waits strictly increasing while
	// still spreading concurrent callers apart.
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()

	var quota, transient int
	for {
		err := op()
		if err == nil {
			return nil
		}
		switch classify(err) {
		case Permanent:
			return err
		case Quota:
			quota++
			if quota >= p.QuotaAttempts {
				return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, quota, err)
			}
			if onQuota != nil {
				onQuota(quota)
			}
			if serr := sleep(ctx, bo.NextBackOff()); serr != nil {
				return serr
			}
		default:
			transient++
			if transient >= p.TransientAttempts {
				return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, transient, err)
			}
			if serr := sleep(ctx, p.TransientDelay); serr != nil {
				return serr
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
