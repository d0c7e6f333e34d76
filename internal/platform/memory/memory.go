// Package memory implements the store interfaces in process memory.
//
// It enforces the same uniqueness rules as the Postgres schema, so it can
// stand in for the database in tests and local runs. All state is lost when
// the process exits.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
)

// Fault operations passed to a FaultFunc.
const (
	OpTemplateCreate     = "template.create"
	OpTemplateUpdate     = "template.update"
	OpTemplateRetire     = "template.retire"
	OpTemplateListActive = "template.list_active"
	OpTemplateAdvance    = "template.advance"
	OpInstanceCreate     = "instance.create"
	OpInstanceListOpen   = "instance.list_open"
	OpInstanceUpdate     = "instance.update_status"
	OpReminderClaim      = "reminder.claim"
	OpReminderMarkFired  = "reminder.mark_fired"
	OpReminderRelease    = "reminder.release"
	OpReminderFired      = "reminder.fired_labels"
)

// FaultFunc lets tests fail a store operation. id is the template, instance or
// fire the operation targets, or uuid.Nil for list operations.
type FaultFunc func(op string, id uuid.UUID) error

type periodKey struct {
	templateID uuid.UUID
	period     string
}

type fireKey struct {
	instanceID uuid.UUID
	label      domain.FireLabel
}

// DB holds the state shared by the template, instance and reminder stores.
type DB struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*domain.RecurringTemplate
	instances map[uuid.UUID]*domain.TaskInstance
	periods   map[periodKey]uuid.UUID
	fires     map[fireKey]*domain.ReminderFire

	fault FaultFunc
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		templates: make(map[uuid.UUID]*domain.RecurringTemplate),
		instances: make(map[uuid.UUID]*domain.TaskInstance),
		periods:   make(map[periodKey]uuid.UUID),
		fires:     make(map[fireKey]*domain.ReminderFire),
	}
}

// SetFault installs fn as the fault injector. Pass nil to remove it.
func (db *DB) SetFault(fn FaultFunc) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fault = fn
}

// check runs the fault injector and the context check. Callers hold db.mu.
func (db *DB) check(ctx context.Context, op string, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if db.fault != nil {
		return db.fault(op, id)
	}
	return nil
}

func copyTemplate(t *domain.RecurringTemplate) *domain.RecurringTemplate {
	c := *t
	c.Assignees = slices.Clone(t.Assignees)
	c.Observers = slices.Clone(t.Observers)
	c.RepeatReminders = slices.Clone(t.RepeatReminders)
	c.LastPeriodEnd = clonePtr(t.LastPeriodEnd)
	c.RetiredAt = clonePtr(t.RetiredAt)
	return &c
}

func copyInstance(i *domain.TaskInstance) *domain.TaskInstance {
	c := *i
	c.TemplateID = clonePtr(i.TemplateID)
	c.Assignees = slices.Clone(i.Assignees)
	c.Observers = slices.Clone(i.Observers)
	c.ReminderOffsets = slices.Clone(i.ReminderOffsets)
	c.CompletedAt = clonePtr(i.CompletedAt)
	return &c
}

func copyFire(f *domain.ReminderFire) *domain.ReminderFire {
	c := *f
	c.FiredAt = clonePtr(f.FiredAt)
	c.ClaimedUntil = clonePtr(f.ClaimedUntil)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
