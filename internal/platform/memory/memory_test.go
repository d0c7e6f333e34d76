package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/store"
)

var now = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func newTemplate(t *testing.T) *domain.RecurringTemplate {
	t.Helper()
	creator := uuid.New()
	tmpl, err := domain.NewRecurringTemplate(uuid.New(), creator, domain.TemplateFields{
		Title:           "Close the till",
		Assignees:       []uuid.UUID{creator},
		Recurrence:      domain.RecurrenceDaily,
		DueTime:         domain.TimeOfDay{Hour: 18},
		RepeatReminders: []domain.ReminderOffset{domain.Offset1Hour},
	}, now)
	require.NoError(t, err)
	return tmpl
}

func newInstance(t *testing.T, tmpl *domain.RecurringTemplate, period string) *domain.TaskInstance {
	t.Helper()
	inst, err := domain.NewTemplateInstance(tmpl, period, now.Add(9*time.Hour), now)
	require.NoError(t, err)
	return inst
}

func TestTemplateStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create and get return copies", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		tmpl := newTemplate(t)
		require.NoError(t, s.Create(ctx, tmpl))

		got, err := s.GetByID(ctx, tmpl.ID)
		require.NoError(t, err)
		got.Assignees[0] = uuid.New()

		again, err := s.GetByID(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, tmpl.Assignees, again.Assignees)
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		tmpl := newTemplate(t)
		require.NoError(t, s.Create(ctx, tmpl))
		assert.ErrorIs(t, s.Create(ctx, tmpl), store.ErrDuplicate)
	})

	t.Run("missing template", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		_, err := s.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrTemplateNotFound)
		assert.True(t, store.IsNotFoundError(err))
	})

	t.Run("cursor only moves forward", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		tmpl := newTemplate(t)
		require.NoError(t, s.Create(ctx, tmpl))

		later := now.Add(48 * time.Hour)
		require.NoError(t, s.AdvanceCursor(ctx, tmpl.ID, tmpl.AnchorAt, later))
		require.NoError(t, s.AdvanceCursor(ctx, tmpl.ID, tmpl.AnchorAt, now))

		got, err := s.GetByID(ctx, tmpl.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastPeriodEnd)
		assert.True(t, got.LastPeriodEnd.Equal(later))
	})

	t.Run("update keeps cursor unless re-anchored", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		tmpl := newTemplate(t)
		require.NoError(t, s.Create(ctx, tmpl))
		require.NoError(t, s.AdvanceCursor(ctx, tmpl.ID, tmpl.AnchorAt, now.Add(24*time.Hour)))

		fields := tmpl.TemplateFields
		fields.Title = "Close the till and count"
		require.NoError(t, tmpl.Update(fields, now.Add(time.Hour)))
		require.NoError(t, s.Update(ctx, tmpl))

		got, err := s.GetByID(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, "Close the till and count", got.Title)
		assert.NotNil(t, got.LastPeriodEnd)

		fields.DueTime = domain.TimeOfDay{Hour: 20}
		require.NoError(t, tmpl.Update(fields, now.Add(2*time.Hour)))
		require.NoError(t, s.Update(ctx, tmpl))

		got, err = s.GetByID(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LastPeriodEnd)
	})

	t.Run("cursor is not moved for a stale anchor", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		tmpl := newTemplate(t)
		require.NoError(t, s.Create(ctx, tmpl))
		staleAnchor := tmpl.AnchorAt

		fields := tmpl.TemplateFields
		fields.Recurrence = domain.RecurrenceWeekly
		fields.Weekday = 2
		require.NoError(t, tmpl.Update(fields, now.Add(time.Hour)))
		require.NoError(t, s.Update(ctx, tmpl))

		err := s.AdvanceCursor(ctx, tmpl.ID, staleAnchor, now.Add(30*24*time.Hour))
		assert.ErrorIs(t, err, store.ErrTemplateRescheduled)
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err := s.GetByID(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LastPeriodEnd)

		assert.ErrorIs(t, s.AdvanceCursor(ctx, uuid.New(), staleAnchor, now), store.ErrTemplateNotFound)
	})

	t.Run("retire keeps the first retirement", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		tmpl := newTemplate(t)
		require.NoError(t, s.Create(ctx, tmpl))

		require.NoError(t, s.Retire(ctx, tmpl.ID, now))
		require.NoError(t, s.Retire(ctx, tmpl.ID, now.Add(time.Hour)))

		got, err := s.GetByID(ctx, tmpl.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RetiredAt)
		assert.True(t, got.RetiredAt.Equal(now))

		assert.ErrorIs(t, s.Retire(ctx, uuid.New(), now), store.ErrTemplateNotFound)
	})

	t.Run("update never revives a retired template", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		tmpl := newTemplate(t)
		require.NoError(t, s.Create(ctx, tmpl))
		require.NoError(t, s.Retire(ctx, tmpl.ID, now))

		// tmpl is the copy loaded before the retirement
		assert.ErrorIs(t, s.Update(ctx, tmpl), domain.ErrTemplateRetired)

		got, err := s.GetByID(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.RetiredAt)
	})

	t.Run("list active skips retired", func(t *testing.T) {
		t.Parallel()
		s := NewTemplateStore(NewDB())
		active := newTemplate(t)
		retired := newTemplate(t)
		retired.Retire(now)
		require.NoError(t, s.Create(ctx, active))
		require.NoError(t, s.Create(ctx, retired))

		list, err := s.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, active.ID, list[0].ID)
	})
}

func TestInstanceStore_UniquePeriod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB()
	s := NewInstanceStore(db)
	tmpl := newTemplate(t)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	candidates := make([]*domain.TaskInstance, workers)
	for i := range candidates {
		candidates[i] = newInstance(t, tmpl, "2024-05-10")
	}
	for _, inst := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Create(ctx, inst)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrInstanceExists):
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, dupes)

	got, err := s.GetByPeriod(ctx, tmpl.ID, "2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-10", got.PeriodKey)
}

func TestInstanceStore_UpdateStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB()
	instances := NewInstanceStore(db)
	reminders := NewReminderStore(db)
	inst := newInstance(t, newTemplate(t), "2024-05-10")
	require.NoError(t, instances.Create(ctx, inst))

	t.Run("conflict on stale status", func(t *testing.T) {
		err := instances.UpdateStatus(ctx, inst.ID, store.StatusChange{
			From: domain.StatusInProgress,
			To:   domain.StatusForApproval,
			At:   now,
		})
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("completion cancels unfired reminders", func(t *testing.T) {
		fired, ok, err := reminders.Claim(ctx, inst.ID, "1h", now, now, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, reminders.MarkFired(ctx, fired.ID, now))

		_, ok, err = reminders.Claim(ctx, inst.ID, "1d", now, now, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		completedAt := now.Add(time.Hour)
		require.NoError(t, instances.UpdateStatus(ctx, inst.ID, store.StatusChange{
			From:            domain.StatusPending,
			To:              domain.StatusCompleted,
			CompletedAt:     &completedAt,
			At:              completedAt,
			CancelReminders: true,
		}))

		fires, err := reminders.ListByInstance(ctx, inst.ID)
		require.NoError(t, err)
		require.Len(t, fires, 1)
		assert.True(t, fires[0].Fired)

		_, ok, err = reminders.Claim(ctx, inst.ID, "1d", now, completedAt, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "terminal instances are not claimable")

		open, err := instances.ListOpen(ctx)
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("missing instance", func(t *testing.T) {
		err := instances.UpdateStatus(ctx, uuid.New(), store.StatusChange{From: domain.StatusPending, To: domain.StatusInProgress})
		assert.ErrorIs(t, err, store.ErrInstanceNotFound)
	})
}

func TestReminderStore_Claim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB()
	instances := NewInstanceStore(db)
	reminders := NewReminderStore(db)
	inst := newInstance(t, newTemplate(t), "2024-05-10")
	require.NoError(t, instances.Create(ctx, inst))

	first, ok, err := reminders.Claim(ctx, inst.ID, "1h", now, now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, first.Attempts)

	_, ok, err = reminders.Claim(ctx, inst.ID, "1h", now, now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a live lease blocks other claimers")

	again, ok, err := reminders.Claim(ctx, inst.ID, "1h", now, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "an expired lease can be taken over")
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)

	require.NoError(t, reminders.Release(ctx, again.ID, "sink rejected"))
	fires, err := reminders.ListByInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, fires, 1)
	assert.Equal(t, "sink rejected", fires[0].LastError)
	assert.Nil(t, fires[0].ClaimedUntil)

	third, ok, err := reminders.Claim(ctx, inst.ID, "1h", now, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "released fires are claimable at once")
	require.NoError(t, reminders.MarkFired(ctx, third.ID, now.Add(2*time.Minute)))

	_, ok, err = reminders.Claim(ctx, inst.ID, "1h", now, now.Add(time.Hour), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "fired reminders are never claimed again")

	labels, err := reminders.FiredLabels(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, map[domain.FireLabel]bool{"1h": true}, labels)
}

func TestReminderStore_ConcurrentClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB()
	instances := NewInstanceStore(db)
	reminders := NewReminderStore(db)
	inst := newInstance(t, newTemplate(t), "2024-05-10")
	require.NoError(t, instances.Create(ctx, inst))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := reminders.Claim(ctx, inst.ID, "1h", now, now, time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)
}

func TestDB_Fault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB()
	s := NewInstanceStore(db)
	boom := errors.New("boom")

	db.SetFault(func(op string, _ uuid.UUID) error {
		if op == OpInstanceListOpen {
			return boom
		}
		return nil
	})
	_, err := s.ListOpen(ctx)
	assert.ErrorIs(t, err, boom)

	db.SetFault(nil)
	_, err = s.ListOpen(ctx)
	assert.NoError(t, err)
}
