package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
)

// ReminderStore defines the interface for reminder fire bookkeeping.
//
// Dispatching a reminder follows a claim protocol: Claim takes a time-bounded
// lease on the (instance, label) row, the caller dispatches, and then either
// MarkFired (sink accepted) or Release (sink rejected or timed out). A fire
// is therefore recorded at most once, and a failed dispatch is retried on a
// later tick.
type ReminderStore interface {
	// Claim leases the fire identified by (instanceID, label) until now+lease,
	// creating the row on first use. It succeeds only if the fire has not
	// been recorded, no live lease exists, and the instance is not terminal.
	// Returns the claimed fire and true, or nil and false when the fire is not
	// claimable.
	Claim(
		ctx context.Context,
		instanceID uuid.UUID,
		label domain.FireLabel,
		scheduledAt, now time.Time,
		lease time.Duration,
	) (*domain.ReminderFire, bool, error)

	// MarkFired records the fire as dispatched and drops its lease.
	MarkFired(ctx context.Context, fireID uuid.UUID, firedAt time.Time) error

	// Release drops the lease of an unfired fire and records why the dispatch
	// failed, making it claimable again immediately.
	Release(ctx context.Context, fireID uuid.UUID, lastErr string) error

	// FiredLabels returns the labels of the fires of an instance that were
	// recorded as dispatched.
	FiredLabels(ctx context.Context, instanceID uuid.UUID) (map[domain.FireLabel]bool, error)

	// ListByInstance returns all fires of an instance ordered by schedule.
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*domain.ReminderFire, error)
}
