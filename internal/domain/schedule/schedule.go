// Package schedule resolves which recurrence periods of a template are due.
//
// Every function here is pure: the result depends only on the template, the
// materialization cursor and the supplied instant. Periods are computed in the
// template's time zone.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/crewdesk/taskengine/internal/domain"
)

// ErrNotRecurring is returned by PeriodAt for templates with recurrence none.
var ErrNotRecurring = errors.New("template does not recur")

// Period is one unit of recurrence. [Start, End) is half-open, and Key is the
// idempotence key of the instance materialized for it.
type Period struct {
	Key   string
	Start time.Time
	End   time.Time
	DueAt time.Time
}

// String returns the period key.
func (p Period) String() string {
	return p.Key
}

// NextDue returns the periods of t that are due for materialization at now, in
// chronological order.
//
// Periods before lastPeriodEnd were already materialized and are not returned,
// nor is any period whose due instant is at or before the template anchor. A
// period is due once its start is not after now, so missed periods are all
// returned (catch-up) while periods in the future of now never are.
//
// limit bounds the number of periods returned. The caller advances its cursor
// only past returned periods, so a limit delays periods but never skips them.
// limit <= 0 means no bound. Templates with recurrence none yield nil.
func NextDue(t *domain.RecurringTemplate, lastPeriodEnd *time.Time, now time.Time, limit int) ([]Period, error) {
	if t.Recurrence == domain.RecurrenceNone {
		return nil, nil
	}

	from := t.AnchorAt
	if lastPeriodEnd != nil && lastPeriodEnd.After(from) {
		from = *lastPeriodEnd
	}

	p, err := PeriodAt(t, from)
	if err != nil {
		return nil, err
	}
	for !p.DueAt.After(t.AnchorAt) || (lastPeriodEnd != nil && p.Start.Before(*lastPeriodEnd)) {
		if p, err = PeriodAt(t, p.End); err != nil {
			return nil, err
		}
	}

	var due []Period
	for !p.Start.After(now) {
		if limit > 0 && len(due) >= limit {
			break
		}
		due = append(due, p)
		if p, err = PeriodAt(t, p.End); err != nil {
			return nil, err
		}
	}
	return due, nil
}

// PeriodAt returns the period of t that contains instant.
func PeriodAt(t *domain.RecurringTemplate, instant time.Time) (Period, error) {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return Period{}, fmt.Errorf("loading time zone %q: %w", t.Timezone, err)
	}
	local := instant.In(loc)
	y, m, d := local.Date()

	switch t.Recurrence {
	case domain.RecurrenceDaily:
		return Period{
			Key:   local.Format("2006-01-02"),
			Start: time.Date(y, m, d, 0, 0, 0, 0, loc),
			End:   time.Date(y, m, d+1, 0, 0, 0, 0, loc),
			DueAt: t.DueTime.On(y, m, d, loc),
		}, nil

	case domain.RecurrenceWeekly:
		// days since Monday
		back := (int(local.Weekday()) + 6) % 7
		monday := time.Date(y, m, d-back, 0, 0, 0, 0, loc)
		isoYear, isoWeek := monday.ISOWeek()
		return Period{
			Key:   fmt.Sprintf("%04d-W%02d", isoYear, isoWeek),
			Start: monday,
			End:   time.Date(y, m, d-back+7, 0, 0, 0, 0, loc),
			DueAt: t.DueTime.On(y, m, d-back+t.Weekday-1, loc),
		}, nil

	case domain.RecurrenceMonthly:
		return Period{
			Key:   local.Format("2006-01"),
			Start: time.Date(y, m, 1, 0, 0, 0, 0, loc),
			End:   time.Date(y, m+1, 1, 0, 0, 0, 0, loc),
			DueAt: t.DueTime.On(y, m, clampDay(y, m, t.DayOfMonth), loc),
		}, nil

	case domain.RecurrenceQuarterly:
		anchor := t.AnchorAt.In(loc)
		ay, am, ad := anchor.Date()
		offset := monthIndex(y, m) - monthIndex(ay, am)
		// windows of three months counted from the anchor month, also before it
		start := monthIndex(ay, am) + 3*floorDiv(offset, 3)
		sy, sm := start/12, time.Month(start%12+1)

		day := t.DayOfMonth
		if day == 0 {
			day = ad
		}
		return Period{
			Key:   fmt.Sprintf("%04d-%02d/P3M", sy, int(sm)),
			Start: time.Date(sy, sm, 1, 0, 0, 0, 0, loc),
			End:   time.Date(sy, sm+3, 1, 0, 0, 0, 0, loc),
			DueAt: t.DueTime.On(sy, sm, clampDay(sy, sm, day), loc),
		}, nil

	case domain.RecurrenceNone:
		return Period{}, ErrNotRecurring

	default:
		return Period{}, domain.ErrInvalidRecurrence
	}
}

// clampDay returns day, or the last day of the month when day exceeds it.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

func monthIndex(year int, month time.Month) int {
	return year*12 + int(month) - 1
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
