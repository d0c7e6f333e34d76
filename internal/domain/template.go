package domain

import (
	"slices"
	"time"
	_ "time/tzdata" // zone validation must not depend on the host zoneinfo
	"unicode/utf8"

	"github.com/google/uuid"
)

// Field limits for templates and instances.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 300
)

// TemplateFields holds the user-editable part of a recurring template.
// It is shared by creation and update so both paths validate identically.
type TemplateFields struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Assignees   []uuid.UUID `json:"assignees"`
	Observers   []uuid.UUID `json:"observers"`
	Recurrence  Recurrence  `json:"recurrence"`
	DueTime     TimeOfDay   `json:"due_time"`
	// Weekday is the ISO weekday (1=Monday .. 7=Sunday) of weekly templates.
	Weekday int `json:"weekday,omitempty"`
	// DayOfMonth is used by monthly and quarterly templates. Values past the
	// end of a month clamp to its last day. Quarterly templates fall back to
	// the anchor's day when zero.
	DayOfMonth      int              `json:"day_of_month,omitempty"`
	Timezone        string           `json:"timezone"`
	Priority        Priority         `json:"priority"`
	SelfTask        bool             `json:"self_task"`
	BaseReminder    ReminderOffset   `json:"base_reminder,omitempty"`
	RepeatReminders []ReminderOffset `json:"repeat_reminders"`
}

// RecurringTemplate is the definition from which task instances are materialized.
type RecurringTemplate struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	CreatorID uuid.UUID `json:"creator_id"`
	TemplateFields

	// AnchorAt is the instant schedules are computed from. No period whose due
	// instant is at or before the anchor is ever materialized.
	AnchorAt time.Time `json:"anchor_at"`
	// LastPeriodEnd is the end of the last materialized period, nil before the
	// first materialization.
	LastPeriodEnd *time.Time `json:"last_period_end,omitempty"`
	RetiredAt     *time.Time `json:"retired_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewRecurringTemplate creates a template anchored at now.
// Returns a *ValidationError if the fields are malformed.
func NewRecurringTemplate(
	tenantID, creatorID uuid.UUID,
	fields TemplateFields,
	now time.Time,
) (*RecurringTemplate, error) {
	now = now.UTC()
	t := &RecurringTemplate{
		ID:             uuid.New(),
		TenantID:       tenantID,
		CreatorID:      creatorID,
		TemplateFields: fields.normalized(),
		AnchorAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// normalized applies defaults without touching caller-owned slices.
func (f TemplateFields) normalized() TemplateFields {
	if f.Recurrence == "" {
		f.Recurrence = RecurrenceNone
	}
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
	if f.Timezone == "" {
		f.Timezone = "UTC"
	}
	f.Assignees = slices.Clone(f.Assignees)
	f.Observers = slices.Clone(f.Observers)
	if f.Observers == nil {
		f.Observers = []uuid.UUID{}
	}
	f.RepeatReminders = slices.Clone(f.RepeatReminders)
	if f.RepeatReminders == nil {
		f.RepeatReminders = []ReminderOffset{}
	}
	return f
}

// Validate checks if the RecurringTemplate has valid data.
func (t *RecurringTemplate) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if t.TenantID == uuid.Nil {
		return NewValidationError("tenant_id", "cannot be empty", ErrInvalidID)
	}
	if t.CreatorID == uuid.Nil {
		return NewValidationError("creator_id", "cannot be empty", ErrInvalidID)
	}
	return t.TemplateFields.Validate(t.CreatorID)
}

// Validate checks the editable fields. creatorID is needed for the self-task rule.
func (f *TemplateFields) Validate(creatorID uuid.UUID) error {
	if f.Title == "" {
		return NewValidationError("title", "cannot be empty", ErrValidation)
	}
	if utf8.RuneCountInString(f.Title) > MaxTitleLength {
		return NewValidationError("title", "is too long", ErrValidation)
	}
	if utf8.RuneCountInString(f.Description) > MaxDescriptionLength {
		return NewValidationError("description", "must be at most 300 characters", ErrValidation)
	}

	if err := validateRefs("assignees", f.Assignees, true); err != nil {
		return err
	}
	if err := validateRefs("observers", f.Observers, false); err != nil {
		return err
	}
	if f.SelfTask && (len(f.Assignees) != 1 || f.Assignees[0] != creatorID) {
		return NewValidationError("assignees", "of a self task must be exactly the creator", ErrValidation)
	}

	if !f.Recurrence.Valid() {
		return NewValidationError("recurrence", "is not a known recurrence", ErrInvalidRecurrence)
	}
	if !f.DueTime.Valid() {
		return NewValidationError("due_time", "is out of range", ErrValidation)
	}
	switch f.Recurrence {
	case RecurrenceWeekly:
		if f.Weekday < 1 || f.Weekday > 7 {
			return NewValidationError("weekday", "must be between 1 (Monday) and 7 (Sunday)", ErrValidation)
		}
	case RecurrenceMonthly:
		if f.DayOfMonth < 1 || f.DayOfMonth > 31 {
			return NewValidationError("day_of_month", "must be between 1 and 31", ErrValidation)
		}
	case RecurrenceQuarterly:
		if f.DayOfMonth < 0 || f.DayOfMonth > 31 {
			return NewValidationError("day_of_month", "must be between 1 and 31", ErrValidation)
		}
	}
	if _, err := time.LoadLocation(f.Timezone); err != nil || f.Timezone == "" {
		return NewValidationError("timezone", "is not a known IANA time zone", ErrValidation)
	}

	if !f.Priority.Valid() {
		return NewValidationError("priority", "is not a known priority", ErrInvalidPriority)
	}
	if f.BaseReminder != "" && !f.BaseReminder.Valid() {
		return NewValidationError("base_reminder", "is not a known reminder offset", ErrInvalidReminderOffset)
	}
	for _, o := range f.RepeatReminders {
		if !o.Valid() {
			return NewValidationError("repeat_reminders", "contains an unknown reminder offset", ErrInvalidReminderOffset)
		}
	}
	return nil
}

func validateRefs(field string, refs []uuid.UUID, required bool) error {
	if required && len(refs) == 0 {
		return NewValidationError(field, "cannot be empty", ErrValidation)
	}
	seen := make(map[uuid.UUID]struct{}, len(refs))
	for _, id := range refs {
		if id == uuid.Nil {
			return NewValidationError(field, "contains an empty reference", ErrInvalidID)
		}
		if _, dup := seen[id]; dup {
			return NewValidationError(field, "contains a duplicate reference", ErrValidation)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Location returns the template's time zone. Validated templates never fail
// here; UTC is returned for an unloadable zone.
func (t *RecurringTemplate) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReminderOffsets returns the base reminder and repeat reminders as one set.
func (t *RecurringTemplate) ReminderOffsets() []ReminderOffset {
	all := make([]ReminderOffset, 0, len(t.RepeatReminders)+1)
	if t.BaseReminder != "" {
		all = append(all, t.BaseReminder)
	}
	all = append(all, t.RepeatReminders...)
	out, err := NormalizeOffsets(all)
	if err != nil {
		return nil
	}
	return out
}

// Active reports whether the template still produces instances.
func (t *RecurringTemplate) Active() bool {
	return t.RetiredAt == nil && t.Recurrence != RecurrenceNone
}

// Update replaces the editable fields. Changing the schedule re-anchors the
// template at now and clears the materialization cursor, so the new rule
// never backfills periods from before the edit. Already materialized
// instances are not affected.
func (t *RecurringTemplate) Update(fields TemplateFields, now time.Time) error {
	if t.RetiredAt != nil {
		return ErrTemplateRetired
	}

	now = now.UTC()
	next := *t
	next.TemplateFields = fields.normalized()
	if err := next.Validate(); err != nil {
		return err
	}
	if scheduleChanged(t.TemplateFields, next.TemplateFields) {
		next.AnchorAt = now
		next.LastPeriodEnd = nil
	}
	next.UpdatedAt = now

	*t = next
	return nil
}

func scheduleChanged(a, b TemplateFields) bool {
	return a.Recurrence != b.Recurrence ||
		a.DueTime != b.DueTime ||
		a.Weekday != b.Weekday ||
		a.DayOfMonth != b.DayOfMonth ||
		a.Timezone != b.Timezone
}

// Retire stops the template from producing new instances. Retiring twice is a no-op.
func (t *RecurringTemplate) Retire(now time.Time) {
	if t.RetiredAt != nil {
		return
	}
	at := now.UTC()
	t.RetiredAt = &at
	t.UpdatedAt = at
}
