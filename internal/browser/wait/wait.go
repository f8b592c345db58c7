// internal/browser/wait/wait.go
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PollInterval is the fixed spacing between two predicate evaluations.
const PollInterval = 100 * time.Millisecond

// Predicate reports whether the awaited condition holds. The context passed to
// it carries the waiter's deadline so a slow probe cannot outlive the budget.
type Predicate func(ctx context.Context) (bool, error)

// TimeoutError is returned when a condition does not become true within its budget.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v", e.Op, e.Timeout)
}

// IsTimeout reports whether err (or anything it wraps) is a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Until polls pred every PollInterval until it returns true or timeout elapses.
// The first evaluation happens immediately. The predicate is never evaluated
// once the deadline has passed.
func Until(ctx context.Context, op string, timeout time.Duration, pred Predicate) error {
	return UntilWith(ctx, op, timeout, PollInterval, pred)
}

// UntilWith is Until with an explicit polling interval.
func UntilWith(ctx context.Context, op string, timeout, interval time.Duration, pred Predicate) error {
	if timeout <= 0 {
		return fmt.Errorf("%s: timeout must be positive, got %v", op, timeout)
	}
	if interval <= 0 {
		interval = PollInterval
	}

	deadline := time.Now().Add(timeout)
	probeCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return &TimeoutError{Op: op, Timeout: timeout}
		}

		ok, err := pred(probeCtx)
		if err != nil {
			// A probe cut short by our own deadline is a timeout, not a probe failure.
			if ctx.Err() == nil && errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
				return &TimeoutError{Op: op, Timeout: timeout}
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			return nil
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Sleep pauses for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
