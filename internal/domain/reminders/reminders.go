// Package reminders computes when the reminders of a task instance fire.
package reminders

import (
	"sort"
	"time"

	"github.com/crewdesk/taskengine/internal/domain"
)

// Fire is one scheduled notification of an instance.
type Fire struct {
	Label domain.FireLabel
	At    time.Time
}

// FireTimes returns the fire instant of every offset, dueAt minus the offset,
// ordered earliest first. Unknown offsets are ignored.
func FireTimes(dueAt time.Time, offsets []domain.ReminderOffset) []Fire {
	fires := make([]Fire, 0, len(offsets))
	seen := make(map[domain.FireLabel]struct{}, len(offsets))
	for _, o := range offsets {
		if !o.Valid() {
			continue
		}
		label := domain.LabelFor(o)
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		fires = append(fires, Fire{Label: label, At: dueAt.Add(-o.Duration())})
	}
	sort.SliceStable(fires, func(i, j int) bool { return fires[i].At.Before(fires[j].At) })
	return fires
}

// Due returns the fires of inst that should be dispatched at now: every
// reminder whose fire instant is not after now and that is not in fired.
// An overdue instance also gets the one-time overdue escalation.
// Terminal instances have nothing due.
func Due(inst *domain.TaskInstance, offsets []domain.ReminderOffset, fired map[domain.FireLabel]bool, now time.Time) []Fire {
	if inst.Status.Terminal() {
		return nil
	}

	var due []Fire
	for _, f := range FireTimes(inst.DueAt, offsets) {
		if now.Before(f.At) || fired[f.Label] {
			continue
		}
		due = append(due, f)
	}
	if inst.Status == domain.StatusOverdue && !fired[domain.EscalationOverdue] {
		due = append(due, Fire{Label: domain.EscalationOverdue, At: inst.DueAt})
	}
	return due
}

// Next returns the earliest fire of inst still pending after now, or false
// when nothing remains.
func Next(inst *domain.TaskInstance, offsets []domain.ReminderOffset, fired map[domain.FireLabel]bool, now time.Time) (Fire, bool) {
	if inst.Status.Terminal() {
		return Fire{}, false
	}
	for _, f := range FireTimes(inst.DueAt, offsets) {
		if f.At.After(now) && !fired[f.Label] {
			return f, true
		}
	}
	return Fire{}, false
}
