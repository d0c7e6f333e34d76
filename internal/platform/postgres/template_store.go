package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/store"
)

const templateColumns = `id, tenant_id, creator_id, title, description, assignees, observers,
	recurrence, due_time, weekday, day_of_month, timezone, priority, self_task,
	base_reminder, repeat_reminders, anchor_at, last_period_end, retired_at,
	created_at, updated_at`

// PostgresTemplateStore implements store.TemplateStore using PostgreSQL.
type PostgresTemplateStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.TemplateStore = (*PostgresTemplateStore)(nil)

// NewPostgresTemplateStore creates a template store on db.
// If logger is nil, the default logger is used.
func NewPostgresTemplateStore(db store.DBTX, logger *slog.Logger) *PostgresTemplateStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTemplateStore{
		db:     db,
		logger: logger.With(slog.String("component", "template_store")),
	}
}

// Create implements store.TemplateStore.Create.
func (s *PostgresTemplateStore) Create(ctx context.Context, t *domain.RecurringTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}

	args, err := templateArgs(t)
	if err != nil {
		return err
	}

	query := `INSERT INTO recurring_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "failed to create template",
			slog.String("template_id", t.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.TemplateStore.GetByID.
func (s *PostgresTemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates WHERE id = $1`, id)

	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTemplateNotFound
		}
		return nil, MapError(err)
	}
	return t, nil
}

// Update implements store.TemplateStore.Update. The cursor is reset in the
// same statement when the stored anchor differs from t.AnchorAt. Retired rows
// are never matched, so an edit racing a retirement cannot revive it.
func (s *PostgresTemplateStore) Update(ctx context.Context, t *domain.RecurringTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}

	assignees, err := encodeJSON(t.Assignees)
	if err != nil {
		return err
	}
	observers, err := encodeJSON(t.Observers)
	if err != nil {
		return err
	}
	repeat, err := encodeJSON(t.RepeatReminders)
	if err != nil {
		return err
	}

	query := `
		UPDATE recurring_templates SET
			title = $2, description = $3, assignees = $4, observers = $5,
			recurrence = $6, due_time = $7, weekday = $8, day_of_month = $9,
			timezone = $10, priority = $11, self_task = $12, base_reminder = $13,
			repeat_reminders = $14,
			last_period_end = CASE WHEN anchor_at = $15 THEN last_period_end ELSE NULL END,
			anchor_at = $15, updated_at = $16
		WHERE id = $1 AND retired_at IS NULL`

	result, err := s.db.ExecContext(ctx, query,
		t.ID, t.Title, t.Description, assignees, observers,
		string(t.Recurrence), t.DueTime.String(), t.Weekday, t.DayOfMonth,
		t.Timezone, string(t.Priority), t.SelfTask, string(t.BaseReminder),
		repeat, t.AnchorAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update template",
			slog.String("template_id", t.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	retired, err := s.retired(ctx, t.ID)
	if err != nil {
		return err
	}
	if retired {
		return domain.ErrTemplateRetired
	}
	return store.ErrTemplateNotFound
}

// Retire implements store.TemplateStore.Retire.
func (s *PostgresTemplateStore) Retire(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recurring_templates SET retired_at = $2, updated_at = $2
		WHERE id = $1 AND retired_at IS NULL`,
		id, at.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to retire template",
			slog.String("template_id", id.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	// already retired, or missing
	_, err = s.retired(ctx, id)
	return err
}

// retired reports whether the template is retired.
// Returns ErrTemplateNotFound if it does not exist.
func (s *PostgresTemplateStore) retired(ctx context.Context, id uuid.UUID) (bool, error) {
	var retired bool
	err := s.db.QueryRowContext(ctx,
		`SELECT retired_at IS NOT NULL FROM recurring_templates WHERE id = $1`, id).Scan(&retired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrTemplateNotFound
		}
		return false, MapError(err)
	}
	return retired, nil
}

// ListActive implements store.TemplateStore.ListActive.
func (s *PostgresTemplateStore) ListActive(ctx context.Context) ([]*domain.RecurringTemplate, error) {
	return s.list(ctx, `SELECT `+templateColumns+` FROM recurring_templates
		WHERE retired_at IS NULL AND recurrence <> 'none'
		ORDER BY created_at`)
}

// ListByTenant implements store.TemplateStore.ListByTenant.
func (s *PostgresTemplateStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.RecurringTemplate, error) {
	return s.list(ctx, `SELECT `+templateColumns+` FROM recurring_templates
		WHERE tenant_id = $1
		ORDER BY created_at DESC`, tenantID)
}

func (s *PostgresTemplateStore) list(ctx context.Context, query string, args ...any) ([]*domain.RecurringTemplate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

// AdvanceCursor implements store.TemplateStore.AdvanceCursor. The row is
// matched on the anchor the caller resolved periods from; GREATEST keeps the
// cursor from moving backwards while still reporting the row as matched.
func (s *PostgresTemplateStore) AdvanceCursor(ctx context.Context, id uuid.UUID, anchorAt, periodEnd time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET last_period_end = GREATEST(COALESCE(last_period_end, $2), $2)
		WHERE id = $1 AND anchor_at = $3`,
		id, periodEnd.UTC(), anchorAt.UTC())
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrTemplateRescheduled)
}

func templateArgs(t *domain.RecurringTemplate) ([]any, error) {
	assignees, err := encodeJSON(t.Assignees)
	if err != nil {
		return nil, err
	}
	observers, err := encodeJSON(t.Observers)
	if err != nil {
		return nil, err
	}
	repeat, err := encodeJSON(t.RepeatReminders)
	if err != nil {
		return nil, err
	}
	return []any{
		t.ID, t.TenantID, t.CreatorID, t.Title, t.Description, assignees, observers,
		string(t.Recurrence), t.DueTime.String(), t.Weekday, t.DayOfMonth, t.Timezone,
		string(t.Priority), t.SelfTask, string(t.BaseReminder), repeat,
		t.AnchorAt.UTC(), nullTime(t.LastPeriodEnd), nullTime(t.RetiredAt),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	}, nil
}

func scanTemplate(row rowScanner) (*domain.RecurringTemplate, error) {
	var (
		t                            domain.RecurringTemplate
		assignees, observers, repeat []byte
		recurrence, priority, base   string
		dueTime                      string
		lastEnd, retired             sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.TenantID, &t.CreatorID, &t.Title, &t.Description, &assignees, &observers,
		&recurrence, &dueTime, &t.Weekday, &t.DayOfMonth, &t.Timezone, &priority, &t.SelfTask,
		&base, &repeat, &t.AnchorAt, &lastEnd, &retired, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Recurrence = domain.Recurrence(recurrence)
	t.Priority = domain.Priority(priority)
	t.BaseReminder = domain.ReminderOffset(base)
	if t.DueTime, err = domain.ParseTimeOfDay(dueTime); err != nil {
		return nil, fmt.Errorf("failed to decode due_time %q: %w", dueTime, err)
	}
	if err := decodeJSON(assignees, "assignees", &t.Assignees); err != nil {
		return nil, err
	}
	if err := decodeJSON(observers, "observers", &t.Observers); err != nil {
		return nil, err
	}
	if err := decodeJSON(repeat, "repeat_reminders", &t.RepeatReminders); err != nil {
		return nil, err
	}
	if t.Observers == nil {
		t.Observers = []uuid.UUID{}
	}
	if t.RepeatReminders == nil {
		t.RepeatReminders = []domain.ReminderOffset{}
	}
	t.AnchorAt = t.AnchorAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.LastPeriodEnd = timePtr(lastEnd)
	t.RetiredAt = timePtr(retired)
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
