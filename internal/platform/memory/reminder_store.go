package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/store"
)

// ReminderStore implements store.ReminderStore.
type ReminderStore struct {
	db *DB
}

var _ store.ReminderStore = (*ReminderStore)(nil)

// NewReminderStore creates a ReminderStore over db.
func NewReminderStore(db *DB) *ReminderStore {
	return &ReminderStore{db: db}
}

// Claim implements store.ReminderStore.
func (s *ReminderStore) Claim(
	ctx context.Context,
	instanceID uuid.UUID,
	label domain.FireLabel,
	scheduledAt, now time.Time,
	lease time.Duration,
) (*domain.ReminderFire, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpReminderClaim, instanceID); err != nil {
		return nil, false, err
	}

	inst, ok := s.db.instances[instanceID]
	if !ok || inst.Status.Terminal() {
		return nil, false, nil
	}

	until := now.Add(lease).UTC()
	key := fireKey{instanceID: instanceID, label: label}
	f, exists := s.db.fires[key]
	if !exists {
		f = &domain.ReminderFire{
			ID:          uuid.New(),
			InstanceID:  instanceID,
			Label:       label,
			ScheduledAt: scheduledAt.UTC(),
		}
		s.db.fires[key] = f
	} else if !f.Claimable(now) {
		return nil, false, nil
	}

	f.ClaimedUntil = &until
	f.Attempts++
	return copyFire(f), true, nil
}

// MarkFired implements store.ReminderStore.
func (s *ReminderStore) MarkFired(ctx context.Context, fireID uuid.UUID, firedAt time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpReminderMarkFired, fireID); err != nil {
		return err
	}

	f := s.findLocked(fireID)
	if f == nil {
		return store.ErrNotFound
	}
	at := firedAt.UTC()
	f.Fired = true
	f.FiredAt = &at
	f.ClaimedUntil = nil
	f.LastError = ""
	return nil
}

// Release implements store.ReminderStore.
func (s *ReminderStore) Release(ctx context.Context, fireID uuid.UUID, lastErr string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.check(ctx, OpReminderRelease, fireID); err != nil {
		return err
	}

	f := s.findLocked(fireID)
	if f == nil || f.Fired {
		return nil
	}
	f.ClaimedUntil = nil
	f.LastError = lastErr
	return nil
}

// FiredLabels implements store.ReminderStore.
func (s *ReminderStore) FiredLabels(ctx context.Context, instanceID uuid.UUID) (map[domain.FireLabel]bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := s.db.check(ctx, OpReminderFired, instanceID); err != nil {
		return nil, err
	}

	fired := make(map[domain.FireLabel]bool)
	for key, f := range s.db.fires {
		if key.instanceID == instanceID && f.Fired {
			fired[key.label] = true
		}
	}
	return fired, nil
}

// ListByInstance implements store.ReminderStore.
func (s *ReminderStore) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*domain.ReminderFire, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*domain.ReminderFire
	for key, f := range s.db.fires {
		if key.instanceID == instanceID {
			out = append(out, copyFire(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *ReminderStore) findLocked(fireID uuid.UUID) *domain.ReminderFire {
	for _, f := range s.db.fires {
		if f.ID == fireID {
			return f
		}
	}
	return nil
}
