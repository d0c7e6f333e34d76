package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/store"
)

const fireColumns = `id, instance_id, label, scheduled_at, fired, fired_at, claimed_until, attempts, last_error`

// claimQuery inserts the fire row on first use or takes over an unfired row
// whose lease expired. The instance row is share-locked so a concurrent
// completion cannot slip between the status check and the claim.
const claimQuery = `
	INSERT INTO reminder_fires (id, instance_id, label, scheduled_at, claimed_until, attempts)
	SELECT $1, $2, $3, $4, $6, 1
	WHERE EXISTS (
		SELECT 1 FROM task_instances
		WHERE id = $2 AND status <> 'completed'
		FOR SHARE
	)
	ON CONFLICT (instance_id, label) DO UPDATE
		SET claimed_until = EXCLUDED.claimed_until,
			attempts = reminder_fires.attempts + 1
		WHERE NOT reminder_fires.fired
			AND (reminder_fires.claimed_until IS NULL OR reminder_fires.claimed_until < $5)
	RETURNING ` + fireColumns

// PostgresReminderStore implements store.ReminderStore using PostgreSQL.
type PostgresReminderStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.ReminderStore = (*PostgresReminderStore)(nil)

// NewPostgresReminderStore creates a reminder store on db.
// If logger is nil, the default logger is used.
func NewPostgresReminderStore(db store.DBTX, logger *slog.Logger) *PostgresReminderStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresReminderStore{
		db:     db,
		logger: logger.With(slog.String("component", "reminder_store")),
	}
}

// Claim implements store.ReminderStore.Claim.
func (s *PostgresReminderStore) Claim(
	ctx context.Context,
	instanceID uuid.UUID,
	label domain.FireLabel,
	scheduledAt, now time.Time,
	lease time.Duration,
) (*domain.ReminderFire, bool, error) {
	row := s.db.QueryRowContext(ctx, claimQuery,
		uuid.New(), instanceID, string(label), scheduledAt.UTC(), now.UTC(), now.Add(lease).UTC())

	f, err := scanFire(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		s.logger.ErrorContext(ctx, "failed to claim reminder",
			slog.String("instance_id", instanceID.String()),
			slog.String("label", string(label)),
			slog.String("error", err.Error()))
		return nil, false, MapError(err)
	}
	return f, true, nil
}

// MarkFired implements store.ReminderStore.MarkFired.
func (s *PostgresReminderStore) MarkFired(ctx context.Context, fireID uuid.UUID, firedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminder_fires
		SET fired = TRUE, fired_at = $2, claimed_until = NULL, last_error = ''
		WHERE id = $1`, fireID, firedAt.UTC())
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, nil)
}

// Release implements store.ReminderStore.Release.
func (s *PostgresReminderStore) Release(ctx context.Context, fireID uuid.UUID, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reminder_fires SET claimed_until = NULL, last_error = $2
		WHERE id = $1 AND NOT fired`, fireID, lastErr)
	return MapError(err)
}

// FiredLabels implements store.ReminderStore.FiredLabels.
func (s *PostgresReminderStore) FiredLabels(ctx context.Context, instanceID uuid.UUID) (map[domain.FireLabel]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label FROM reminder_fires WHERE instance_id = $1 AND fired`, instanceID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	fired := make(map[domain.FireLabel]bool)
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, MapError(err)
		}
		fired[domain.FireLabel(label)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return fired, nil
}

// ListByInstance implements store.ReminderStore.ListByInstance.
func (s *PostgresReminderStore) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*domain.ReminderFire, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fireColumns+` FROM reminder_fires
		WHERE instance_id = $1 ORDER BY scheduled_at, label`, instanceID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ReminderFire
	for rows.Next() {
		f, err := scanFire(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func scanFire(row rowScanner) (*domain.ReminderFire, error) {
	var (
		f                     domain.ReminderFire
		label                 string
		firedAt, claimedUntil sql.NullTime
	)
	if err := row.Scan(
		&f.ID, &f.InstanceID, &label, &f.ScheduledAt, &f.Fired,
		&firedAt, &claimedUntil, &f.Attempts, &f.LastError,
	); err != nil {
		return nil, err
	}
	f.Label = domain.FireLabel(label)
	f.ScheduledAt = f.ScheduledAt.UTC()
	f.FiredAt = timePtr(firedAt)
	f.ClaimedUntil = timePtr(claimedUntil)
	return &f, nil
}
