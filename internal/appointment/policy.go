// internal/appointment/policy.go
package appointment

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonNoDates       Reason = "no dates"
	ReasonNoEarlierDate Reason = "no earlier date"
	ReasonEarlierDate   Reason = "earlier date available"
)

// Decision is the outcome of comparing a snapshot with the effective threshold.
type Decision struct {
	Proceed  bool
	Reason   Reason
	Earliest Date
}

// Decide applies the booking rules to an already captured snapshot. Only a date
// strictly earlier than threshold proceeds. It is pure: the same snapshot and
// threshold always yield the same decision.
func Decide(snapshot Snapshot, threshold Date) Decision {
	earliest, ok := snapshot.Earliest()
	if !ok {
		return Decision{Reason: ReasonNoDates}
	}
	if !earliest.Before(threshold) {
		return Decision{Reason: ReasonNoEarlierDate, Earliest: earliest}
	}
	return Decision{Proceed: true, Reason: ReasonEarlierDate, Earliest: earliest}
}

// SnapshotAwaiter yields the captured snapshot or fails once its bounded wait is exhausted.
type SnapshotAwaiter interface {
	Await(ctx context.Context) (Snapshot, error)
}

// Notifier delivers a free text message. Delivery problems are the notifier's
// own concern and never reach the caller.
type Notifier interface {
	Notify(ctx context.Context, address, message string)
}

// FoundDateMessage is sent when an acceptable date is found.
func FoundDateMessage(d Date) string {
	return fmt.Sprintf("Found an earlier date! %s", d)
}

// Policy gates the booking steps of a run.
type Policy struct {
	notifier Notifier
	logger   *zap.Logger
}

// NewPolicy creates a policy that reports found dates through notifier.
func NewPolicy(notifier Notifier, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{notifier: notifier, logger: logger.Named("policy")}
}

// Evaluate waits for the snapshot, decides, and notifies when the run should proceed.
func (p *Policy) Evaluate(ctx context.Context, src SnapshotAwaiter, apt Context, threshold Date) (Decision, error) {
	snapshot, err := src.Await(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("loading available dates: %w", err)
	}

	d := Decide(snapshot, threshold)
	log := p.logger.With(zap.Uint64("run_id", apt.RunID))
	switch d.Reason {
	case ReasonNoDates:
		log.Info("There are no available dates.", zap.String("consular_id", apt.ConsularID))
	case ReasonNoEarlierDate:
		log.Info("There is no earlier date available.",
			zap.Stringer("threshold", threshold),
			zap.Stringer("next_available", d.Earliest))
	default:
		msg := FoundDateMessage(d.Earliest)
		log.Info(msg)
		if p.notifier != nil {
			p.notifier.Notify(ctx, apt.NotifyAddress, msg)
		}
	}
	return d, nil
}
