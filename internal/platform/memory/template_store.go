package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/store"
)

// TemplateStore implements store.TemplateStore.
type TemplateStore struct {
	db *DB
}

var _ store.TemplateStore = (*TemplateStore)(nil)

// NewTemplateStore creates a TemplateStore over db.
func NewTemplateStore(db *DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// Create implements store.TemplateStore.
func (s *TemplateStore) Create(ctx context.Context, t *domain.RecurringTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpTemplateCreate, t.ID); err != nil {
		return err
	}
	if _, exists := s.db.templates[t.ID]; exists {
		return fmt.Errorf("%w: template %s", store.ErrDuplicate, t.ID)
	}
	s.db.templates[t.ID] = copyTemplate(t)
	return nil
}

// GetByID implements store.TemplateStore.
func (s *TemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringTemplate, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := s.db.templates[id]
	if !ok {
		return nil, store.ErrTemplateNotFound
	}
	return copyTemplate(t), nil
}

// Update implements store.TemplateStore.
func (s *TemplateStore) Update(ctx context.Context, t *domain.RecurringTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpTemplateUpdate, t.ID); err != nil {
		return err
	}
	current, ok := s.db.templates[t.ID]
	if !ok {
		return store.ErrTemplateNotFound
	}
	if current.RetiredAt != nil {
		return domain.ErrTemplateRetired
	}

	next := copyTemplate(t)
	next.CreatedAt = current.CreatedAt
	next.RetiredAt = nil
	if next.AnchorAt.Equal(current.AnchorAt) {
		next.LastPeriodEnd = clonePtr(current.LastPeriodEnd)
	} else {
		next.LastPeriodEnd = nil
	}
	s.db.templates[t.ID] = next
	return nil
}

// Retire implements store.TemplateStore.
func (s *TemplateStore) Retire(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpTemplateRetire, id); err != nil {
		return err
	}
	t, ok := s.db.templates[id]
	if !ok {
		return store.ErrTemplateNotFound
	}
	t.Retire(at)
	return nil
}

// ListActive implements store.TemplateStore.
func (s *TemplateStore) ListActive(ctx context.Context) ([]*domain.RecurringTemplate, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := s.db.check(ctx, OpTemplateListActive, uuid.Nil); err != nil {
		return nil, err
	}

	var out []*domain.RecurringTemplate
	for _, t := range s.db.templates {
		if t.Active() {
			out = append(out, copyTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListByTenant implements store.TemplateStore.
func (s *TemplateStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.RecurringTemplate, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*domain.RecurringTemplate
	for _, t := range s.db.templates {
		if t.TenantID == tenantID {
			out = append(out, copyTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AdvanceCursor implements store.TemplateStore.
func (s *TemplateStore) AdvanceCursor(ctx context.Context, id uuid.UUID, anchorAt, periodEnd time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpTemplateAdvance, id); err != nil {
		return err
	}
	t, ok := s.db.templates[id]
	if !ok {
		return store.ErrTemplateNotFound
	}
	if !t.AnchorAt.Equal(anchorAt) {
		return store.ErrTemplateRescheduled
	}
	if t.LastPeriodEnd == nil || t.LastPeriodEnd.Before(periodEnd) {
		end := periodEnd.UTC()
		t.LastPeriodEnd = &end
	}
	return nil
}
