package domain

import (
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TaskInstance is one concrete, trackable occurrence of a template for a
// period, or a standalone one-off task when TemplateID is nil.
//
// Title, assignees, observers and reminder offsets are snapshots taken when the
// instance is created. Later template edits never change them.
type TaskInstance struct {
	ID              uuid.UUID        `json:"id"`
	TenantID        uuid.UUID        `json:"tenant_id"`
	TemplateID      *uuid.UUID       `json:"template_id,omitempty"`
	PeriodKey       string           `json:"period_key,omitempty"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Priority        Priority         `json:"priority"`
	SelfTask        bool             `json:"self_task"`
	Assignees       []uuid.UUID      `json:"assignees"`
	Observers       []uuid.UUID      `json:"observers"`
	CreatorID       uuid.UUID        `json:"creator_id"`
	ReminderOffsets []ReminderOffset `json:"reminder_offsets"`
	DueAt           time.Time        `json:"due_at"`
	Status          TaskStatus       `json:"status"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// OneOffFields describes a task created directly, without a template.
type OneOffFields struct {
	Title           string
	Description     string
	Assignees       []uuid.UUID
	Observers       []uuid.UUID
	Priority        Priority
	SelfTask        bool
	DueAt           time.Time
	ReminderOffsets []ReminderOffset
}

// NewTemplateInstance snapshots the template into a pending instance for the
// period identified by periodKey.
func NewTemplateInstance(t *RecurringTemplate, periodKey string, dueAt, now time.Time) (*TaskInstance, error) {
	if periodKey == "" {
		return nil, NewValidationError("period_key", "cannot be empty", ErrValidation)
	}
	templateID := t.ID
	now = now.UTC()

	inst := &TaskInstance{
		ID:              uuid.New(),
		TenantID:        t.TenantID,
		TemplateID:      &templateID,
		PeriodKey:       periodKey,
		Title:           t.Title,
		Description:     t.Description,
		Priority:        t.Priority,
		SelfTask:        t.SelfTask,
		Assignees:       slices.Clone(t.Assignees),
		Observers:       nonNilRefs(slices.Clone(t.Observers)),
		CreatorID:       t.CreatorID,
		ReminderOffsets: t.ReminderOffsets(),
		DueAt:           dueAt.UTC(),
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst, nil
}

// NewOneOffInstance creates a pending instance that belongs to no template.
func NewOneOffInstance(tenantID, creatorID uuid.UUID, f OneOffFields, now time.Time) (*TaskInstance, error) {
	offsets, err := NormalizeOffsets(f.ReminderOffsets)
	if err != nil {
		return nil, NewValidationError("reminder_offsets", "contains an unknown reminder offset", ErrInvalidReminderOffset)
	}
	priority := f.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	now = now.UTC()

	inst := &TaskInstance{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Title:           f.Title,
		Description:     f.Description,
		Priority:        priority,
		SelfTask:        f.SelfTask,
		Assignees:       slices.Clone(f.Assignees),
		Observers:       nonNilRefs(slices.Clone(f.Observers)),
		CreatorID:       creatorID,
		ReminderOffsets: offsets,
		DueAt:           f.DueAt.UTC(),
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst, nil
}

func nonNilRefs(refs []uuid.UUID) []uuid.UUID {
	if refs == nil {
		return []uuid.UUID{}
	}
	return refs
}

// Validate checks if the TaskInstance has valid data.
func (i *TaskInstance) Validate() error {
	if i.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if i.TenantID == uuid.Nil {
		return NewValidationError("tenant_id", "cannot be empty", ErrInvalidID)
	}
	if i.CreatorID == uuid.Nil {
		return NewValidationError("creator_id", "cannot be empty", ErrInvalidID)
	}
	if i.TemplateID != nil && i.PeriodKey == "" {
		return NewValidationError("period_key", "is required for template instances", ErrValidation)
	}
	if i.TemplateID == nil && i.PeriodKey != "" {
		return NewValidationError("period_key", "must be empty for one-off tasks", ErrValidation)
	}
	if i.Title == "" {
		return NewValidationError("title", "cannot be empty", ErrValidation)
	}
	if utf8.RuneCountInString(i.Title) > MaxTitleLength {
		return NewValidationError("title", "is too long", ErrValidation)
	}
	if utf8.RuneCountInString(i.Description) > MaxDescriptionLength {
		return NewValidationError("description", "must be at most 300 characters", ErrValidation)
	}
	if err := validateRefs("assignees", i.Assignees, true); err != nil {
		return err
	}
	if err := validateRefs("observers", i.Observers, false); err != nil {
		return err
	}
	if i.SelfTask && (len(i.Assignees) != 1 || i.Assignees[0] != i.CreatorID) {
		return NewValidationError("assignees", "of a self task must be exactly the creator", ErrValidation)
	}
	if !i.Priority.Valid() {
		return NewValidationError("priority", "is not a known priority", ErrInvalidPriority)
	}
	for _, o := range i.ReminderOffsets {
		if !o.Valid() {
			return NewValidationError("reminder_offsets", "contains an unknown reminder offset", ErrInvalidReminderOffset)
		}
	}
	if i.DueAt.IsZero() {
		return NewValidationError("due_at", "cannot be empty", ErrValidation)
	}
	if !i.Status.Valid() {
		return NewValidationError("status", "is not a known status", ErrInvalidStatus)
	}
	if i.Status == StatusCompleted && i.CompletedAt == nil {
		return NewValidationError("completed_at", "is required for completed tasks", ErrValidation)
	}
	return nil
}

// Recipients returns the deduplicated union of the given reference groups,
// preserving first-seen order.
func Recipients(groups ...[]uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, g := range groups {
		for _, id := range g {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
