package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/domain/reminders"
)

// TemplateRequest defines the payload for creating or replacing a recurring template.
type TemplateRequest struct {
	Title       string      `json:"title"       validate:"required,max=200"`
	Description string      `json:"description" validate:"max=300"`
	Assignees   []uuid.UUID `json:"assignees"   validate:"required,min=1"`
	Observers   []uuid.UUID `json:"observers"`
	Recurrence  string      `json:"recurrence"  validate:"required"`

	// DueTime is the local time of day formatted as HH:MM
	DueTime string `json:"due_time" validate:"required"`

	// Weekday is the ISO weekday of weekly templates (1=Monday .. 7=Sunday)
	Weekday    int `json:"weekday"      validate:"min=0,max=7"`
	DayOfMonth int `json:"day_of_month" validate:"min=0,max=31"`

	// Timezone is an IANA zone name; empty means UTC
	Timezone        string   `json:"timezone"`
	Priority        string   `json:"priority"`
	SelfTask        bool     `json:"self_task"`
	BaseReminder    string   `json:"base_reminder"`
	RepeatReminders []string `json:"repeat_reminders"`
}

// toFields converts the request into domain template fields.
// Returns a *domain.ValidationError for malformed enum values.
func (req *TemplateRequest) toFields() (domain.TemplateFields, error) {
	recurrence, err := domain.ParseRecurrence(req.Recurrence)
	if err != nil {
		return domain.TemplateFields{}, domain.NewValidationError("recurrence", "is not a known recurrence", err)
	}
	dueTime, err := domain.ParseTimeOfDay(req.DueTime)
	if err != nil {
		return domain.TemplateFields{}, err
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return domain.TemplateFields{}, domain.NewValidationError("priority", "is not a known priority", err)
	}

	var base domain.ReminderOffset
	if req.BaseReminder != "" {
		if base, err = domain.ParseReminderOffset(req.BaseReminder); err != nil {
			return domain.TemplateFields{}, domain.NewValidationError("base_reminder", "is not a known reminder offset", err)
		}
	}
	repeats, err := parseOffsets("repeat_reminders", req.RepeatReminders)
	if err != nil {
		return domain.TemplateFields{}, err
	}

	return domain.TemplateFields{
		Title:           req.Title,
		Description:     req.Description,
		Assignees:       req.Assignees,
		Observers:       req.Observers,
		Recurrence:      recurrence,
		DueTime:         dueTime,
		Weekday:         req.Weekday,
		DayOfMonth:      req.DayOfMonth,
		Timezone:        req.Timezone,
		Priority:        priority,
		SelfTask:        req.SelfTask,
		BaseReminder:    base,
		RepeatReminders: repeats,
	}, nil
}

// CreateInstanceRequest defines the payload for creating a one-off task.
type CreateInstanceRequest struct {
	Title           string      `json:"title"       validate:"required,max=200"`
	Description     string      `json:"description" validate:"max=300"`
	Assignees       []uuid.UUID `json:"assignees"   validate:"required,min=1"`
	Observers       []uuid.UUID `json:"observers"`
	Priority        string      `json:"priority"`
	SelfTask        bool        `json:"self_task"`
	DueAt           time.Time   `json:"due_at"      validate:"required"`
	ReminderOffsets []string    `json:"reminder_offsets"`
}

func (req *CreateInstanceRequest) toFields() (domain.OneOffFields, error) {
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		return domain.OneOffFields{}, domain.NewValidationError("priority", "is not a known priority", err)
	}
	offsets, err := parseOffsets("reminder_offsets", req.ReminderOffsets)
	if err != nil {
		return domain.OneOffFields{}, err
	}

	return domain.OneOffFields{
		Title:           req.Title,
		Description:     req.Description,
		Assignees:       req.Assignees,
		Observers:       req.Observers,
		Priority:        priority,
		SelfTask:        req.SelfTask,
		DueAt:           req.DueAt,
		ReminderOffsets: offsets,
	}, nil
}

func parseOffsets(field string, raw []string) ([]domain.ReminderOffset, error) {
	out := make([]domain.ReminderOffset, 0, len(raw))
	for _, r := range raw {
		o, err := domain.ParseReminderOffset(r)
		if err != nil {
			return nil, domain.NewValidationError(field, "contains an unknown reminder offset", err)
		}
		out = append(out, o)
	}
	return out, nil
}

// TemplateResponse represents a recurring template.
type TemplateResponse struct {
	ID              uuid.UUID   `json:"id"`
	CreatorID       uuid.UUID   `json:"creator_id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Assignees       []uuid.UUID `json:"assignees"`
	Observers       []uuid.UUID `json:"observers"`
	Recurrence      string      `json:"recurrence"`
	DueTime         string      `json:"due_time"`
	Weekday         int         `json:"weekday,omitempty"`
	DayOfMonth      int         `json:"day_of_month,omitempty"`
	Timezone        string      `json:"timezone"`
	Priority        string      `json:"priority"`
	SelfTask        bool        `json:"self_task"`
	BaseReminder    string      `json:"base_reminder,omitempty"`
	RepeatReminders []string    `json:"repeat_reminders"`
	Active          bool        `json:"active"`
	RetiredAt       *time.Time  `json:"retired_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func templateToResponse(t *domain.RecurringTemplate) TemplateResponse {
	return TemplateResponse{
		ID:              t.ID,
		CreatorID:       t.CreatorID,
		Title:           t.Title,
		Description:     t.Description,
		Assignees:       t.Assignees,
		Observers:       t.Observers,
		Recurrence:      string(t.Recurrence),
		DueTime:         t.DueTime.String(),
		Weekday:         t.Weekday,
		DayOfMonth:      t.DayOfMonth,
		Timezone:        t.Timezone,
		Priority:        string(t.Priority),
		SelfTask:        t.SelfTask,
		BaseReminder:    string(t.BaseReminder),
		RepeatReminders: offsetStrings(t.RepeatReminders),
		Active:          t.Active(),
		RetiredAt:       t.RetiredAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// InstanceResponse represents a task instance.
type InstanceResponse struct {
	ID              uuid.UUID   `json:"id"`
	TemplateID      *uuid.UUID  `json:"template_id,omitempty"`
	PeriodKey       string      `json:"period_key,omitempty"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Priority        string      `json:"priority"`
	SelfTask        bool        `json:"self_task"`
	Assignees       []uuid.UUID `json:"assignees"`
	Observers       []uuid.UUID `json:"observers"`
	CreatorID       uuid.UUID   `json:"creator_id"`
	ReminderOffsets []string    `json:"reminder_offsets"`
	DueAt           time.Time   `json:"due_at"`
	Status          string      `json:"status"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	// NextReminder and NextReminderAt describe the earliest reminder still
	// ahead; both are omitted when none remains.
	NextReminder   string     `json:"next_reminder,omitempty"`
	NextReminderAt *time.Time `json:"next_reminder_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// instanceToResponse converts i, computing its next reminder as seen at now.
// Fires ahead of now cannot have been dispatched yet, so no fire record is
// consulted.
func instanceToResponse(i *domain.TaskInstance, now time.Time) InstanceResponse {
	resp := InstanceResponse{
		ID:              i.ID,
		TemplateID:      i.TemplateID,
		PeriodKey:       i.PeriodKey,
		Title:           i.Title,
		Description:     i.Description,
		Priority:        string(i.Priority),
		SelfTask:        i.SelfTask,
		Assignees:       i.Assignees,
		Observers:       i.Observers,
		CreatorID:       i.CreatorID,
		ReminderOffsets: offsetStrings(i.ReminderOffsets),
		DueAt:           i.DueAt,
		Status:          string(i.Status),
		CompletedAt:     i.CompletedAt,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
	if next, ok := reminders.Next(i, i.ReminderOffsets, nil, now); ok {
		at := next.At
		resp.NextReminder = string(next.Label)
		resp.NextReminderAt = &at
	}
	return resp
}

func offsetStrings(offsets []domain.ReminderOffset) []string {
	out := make([]string, len(offsets))
	for i, o := range offsets {
		out[i] = string(o)
	}
	return out
}
