// Package retry runs an operation under a bounded-attempt policy with
// exponential backoff, honoring per-error delay hints and no-retry marks.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds the attempts of a single delivery.
//
// The zero value is not usable; start from Default and override fields in
// tests (Sleep in particular makes backoff deterministic).
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration

	// Sleep waits between attempts. Nil means sleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default is the delivery policy: 5 attempts, 5s/10s/20s/40s waits, 120s cap.
func Default() Policy {
	return Policy{MaxAttempts: 5, Base: 5 * time.Second, Cap: 120 * time.Second}
}

// Do runs op until it succeeds, returns a no-retry error, or exhausts
// p.MaxAttempts. The returned error is the last attempt's, unwrapped from
// the no-retry mark when present.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return nr.err
		}
		if attempt == p.MaxAttempts {
			return err
		}
		if serr := sleep(ctx, p.delay(attempt, err)); serr != nil {
			return serr
		}
	}
	return err
}

// delay picks the wait after a failed attempt (1-based). A rate-limit hint
// wins over the exponential value; the hint is floored at 1s, and either
// value is capped at p.Cap so one bad reset header cannot stall the run
// for hours.
func (p Policy) delay(attempt int, err error) time.Duration {
	d := p.Base << (attempt - 1)
	var ae AfterError
	if errors.As(err, &ae) {
		d = ae.RetryAfter()
		if d < time.Second {
			d = time.Second
		}
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
