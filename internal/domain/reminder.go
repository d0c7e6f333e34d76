package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReminderFire records one notification slot of an instance. At most one row
// exists per (InstanceID, Label) and it is marked Fired only after the
// notification sink accepted the dispatch.
type ReminderFire struct {
	ID          uuid.UUID  `json:"id"`
	InstanceID  uuid.UUID  `json:"instance_id"`
	Label       FireLabel  `json:"label"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Fired       bool       `json:"fired"`
	FiredAt     *time.Time `json:"fired_at,omitempty"`
	// ClaimedUntil is the lease of the scheduler currently dispatching this
	// fire. Other schedulers skip the row until the lease expires.
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error,omitempty"`
}

// Claimable reports whether a scheduler may take the fire at now.
func (f *ReminderFire) Claimable(now time.Time) bool {
	if f.Fired {
		return false
	}
	return f.ClaimedUntil == nil || f.ClaimedUntil.Before(now)
}
