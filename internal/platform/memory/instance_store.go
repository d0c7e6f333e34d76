package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/store"
)

// InstanceStore implements store.InstanceStore.
type InstanceStore struct {
	db *DB
}

var _ store.InstanceStore = (*InstanceStore)(nil)

// NewInstanceStore creates an InstanceStore over db.
func NewInstanceStore(db *DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// Create implements store.InstanceStore.
func (s *InstanceStore) Create(ctx context.Context, inst *domain.TaskInstance) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpInstanceCreate, inst.ID); err != nil {
		return err
	}
	if _, exists := s.db.instances[inst.ID]; exists {
		return fmt.Errorf("%w: instance %s", store.ErrDuplicate, inst.ID)
	}
	if inst.TemplateID != nil {
		key := periodKey{templateID: *inst.TemplateID, period: inst.PeriodKey}
		if _, exists := s.db.periods[key]; exists {
			return store.ErrInstanceExists
		}
		s.db.periods[key] = inst.ID
	}
	s.db.instances[inst.ID] = copyInstance(inst)
	return nil
}

// GetByID implements store.InstanceStore.
func (s *InstanceStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inst, ok := s.db.instances[id]
	if !ok {
		return nil, store.ErrInstanceNotFound
	}
	return copyInstance(inst), nil
}

// GetByPeriod implements store.InstanceStore.
func (s *InstanceStore) GetByPeriod(ctx context.Context, templateID uuid.UUID, period string) (*domain.TaskInstance, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, ok := s.db.periods[periodKey{templateID: templateID, period: period}]
	if !ok {
		return nil, store.ErrInstanceNotFound
	}
	return copyInstance(s.db.instances[id]), nil
}

// ListOpen implements store.InstanceStore.
func (s *InstanceStore) ListOpen(ctx context.Context) ([]*domain.TaskInstance, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := s.db.check(ctx, OpInstanceListOpen, uuid.Nil); err != nil {
		return nil, err
	}

	var out []*domain.TaskInstance
	for _, inst := range s.db.instances {
		if !inst.Status.Terminal() {
			out = append(out, copyInstance(inst))
		}
	}
	sortByDue(out)
	return out, nil
}

// ListByTenant implements store.InstanceStore.
func (s *InstanceStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, filter store.InstanceFilter) ([]*domain.TaskInstance, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*domain.TaskInstance
	for _, inst := range s.db.instances {
		if inst.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && inst.Status != *filter.Status {
			continue
		}
		if filter.TemplateID != nil && (inst.TemplateID == nil || *inst.TemplateID != *filter.TemplateID) {
			continue
		}
		out = append(out, copyInstance(inst))
	}
	sortByDue(out)
	return out, nil
}

// UpdateStatus implements store.InstanceStore.
func (s *InstanceStore) UpdateStatus(ctx context.Context, id uuid.UUID, change store.StatusChange) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpInstanceUpdate, id); err != nil {
		return err
	}

	inst, ok := s.db.instances[id]
	if !ok {
		return store.ErrInstanceNotFound
	}
	if inst.Status != change.From {
		return fmt.Errorf("%w: instance %s is %s, expected %s", store.ErrConflict, id, inst.Status, change.From)
	}

	inst.Status = change.To
	inst.CompletedAt = clonePtr(change.CompletedAt)
	inst.UpdatedAt = change.At.UTC()

	if change.CancelReminders {
		for key, f := range s.db.fires {
			if key.instanceID == id && !f.Fired {
				delete(s.db.fires, key)
			}
		}
	}
	return nil
}

func sortByDue(list []*domain.TaskInstance) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].DueAt.Equal(list[j].DueAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].DueAt.Before(list[j].DueAt)
	})
}
