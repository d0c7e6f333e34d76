package domain

import (
	"strings"
	"time"
)

// Recurrence is the closed set of schedules a template can follow.
type Recurrence string

// Possible recurrence values
const (
	RecurrenceNone      Recurrence = "none"
	RecurrenceDaily     Recurrence = "daily"
	RecurrenceWeekly    Recurrence = "weekly"
	RecurrenceMonthly   Recurrence = "monthly"
	RecurrenceQuarterly Recurrence = "quarterly"
)

// ParseRecurrence converts a raw value into a Recurrence, rejecting unknown values.
// An empty string is treated as RecurrenceNone.
func ParseRecurrence(raw string) (Recurrence, error) {
	r := Recurrence(strings.ToLower(strings.TrimSpace(raw)))
	if r == "" {
		return RecurrenceNone, nil
	}
	if !r.Valid() {
		return "", ErrInvalidRecurrence
	}
	return r, nil
}

// Valid reports whether r is one of the known recurrence values.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly,
		RecurrenceMonthly, RecurrenceQuarterly:
		return true
	default:
		return false
	}
}

// Priority is the closed set of task priorities.
type Priority string

// Possible priority values
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority converts a raw value into a Priority. An empty string
// defaults to PriorityMedium.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if p == "" {
		return PriorityMedium, nil
	}
	if !p.Valid() {
		return "", ErrInvalidPriority
	}
	return p, nil
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// ReminderOffset is a duration before the due date at which a reminder fires.
// Only the labels below exist.
type ReminderOffset string

// Possible reminder offsets
const (
	Offset10Minutes ReminderOffset = "10m"
	Offset30Minutes ReminderOffset = "30m"
	Offset1Hour     ReminderOffset = "1h"
	Offset1Day      ReminderOffset = "1d"
	Offset1Week     ReminderOffset = "1w"
)

var offsetDurations = map[ReminderOffset]time.Duration{
	Offset10Minutes: 10 * time.Minute,
	Offset30Minutes: 30 * time.Minute,
	Offset1Hour:     time.Hour,
	Offset1Day:      24 * time.Hour,
	Offset1Week:     7 * 24 * time.Hour,
}

// ParseReminderOffset converts a label into a ReminderOffset, rejecting unknown labels.
func ParseReminderOffset(raw string) (ReminderOffset, error) {
	o := ReminderOffset(strings.ToLower(strings.TrimSpace(raw)))
	if !o.Valid() {
		return "", ErrInvalidReminderOffset
	}
	return o, nil
}

// Valid reports whether o is one of the known offsets.
func (o ReminderOffset) Valid() bool {
	_, ok := offsetDurations[o]
	return ok
}

// Duration returns how long before the due instant the reminder fires.
// Unknown offsets return zero.
func (o ReminderOffset) Duration() time.Duration {
	return offsetDurations[o]
}

// NormalizeOffsets returns the offsets as a set ordered from the largest lead
// time to the smallest. Duplicates are dropped. Unknown values yield an error.
func NormalizeOffsets(offsets []ReminderOffset) ([]ReminderOffset, error) {
	seen := make(map[ReminderOffset]struct{}, len(offsets))
	out := make([]ReminderOffset, 0, len(offsets))
	for _, o := range offsets {
		if !o.Valid() {
			return nil, ErrInvalidReminderOffset
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	// insertion sort keeps this allocation free for the handful of offsets we have
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Duration() > out[j-1].Duration(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// TaskStatus is the lifecycle status of a task instance.
type TaskStatus string

// Possible task status values
const (
	StatusPending     TaskStatus = "pending"
	StatusInProgress  TaskStatus = "in_progress"
	StatusForApproval TaskStatus = "for_approval"
	StatusCompleted   TaskStatus = "completed"
	StatusOverdue     TaskStatus = "overdue"
)

// ParseTaskStatus converts a raw value into a TaskStatus, rejecting unknown values.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusForApproval,
		StatusCompleted, StatusOverdue:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted
}

// FireLabel identifies one notification slot of an instance: a reminder
// offset or the overdue escalation.
type FireLabel string

// EscalationOverdue is the fire label used for the one-time overdue escalation.
const EscalationOverdue FireLabel = "overdue"

// LabelFor returns the fire label of a reminder offset.
func LabelFor(o ReminderOffset) FireLabel {
	return FireLabel(o)
}
