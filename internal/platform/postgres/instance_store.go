package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/store"
)

const instanceColumns = `id, tenant_id, template_id, period_key, title, description, priority,
	self_task, assignees, observers, creator_id, reminder_offsets, due_at, status,
	completed_at, created_at, updated_at`

// periodConstraint is the unique constraint on (template_id, period_key).
const periodConstraint = "task_instances_template_period_key"

// PostgresInstanceStore implements store.InstanceStore using PostgreSQL.
type PostgresInstanceStore struct {
	db     store.DBTX
	sqlDB  *sql.DB // set when db is a pool, so UpdateStatus can open its own transaction
	logger *slog.Logger
}

var _ store.InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore creates an instance store on db.
// If logger is nil, the default logger is used.
func NewPostgresInstanceStore(db store.DBTX, logger *slog.Logger) *PostgresInstanceStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	sqlDB, _ := db.(*sql.DB)
	return &PostgresInstanceStore{
		db:     db,
		sqlDB:  sqlDB,
		logger: logger.With(slog.String("component", "instance_store")),
	}
}

// Create implements store.InstanceStore.Create.
func (s *PostgresInstanceStore) Create(ctx context.Context, inst *domain.TaskInstance) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	assignees, err := encodeJSON(inst.Assignees)
	if err != nil {
		return err
	}
	observers, err := encodeJSON(inst.Observers)
	if err != nil {
		return err
	}
	offsets, err := encodeJSON(inst.ReminderOffsets)
	if err != nil {
		return err
	}

	var templateID uuid.NullUUID
	if inst.TemplateID != nil {
		templateID = uuid.NullUUID{UUID: *inst.TemplateID, Valid: true}
	}

	query := `INSERT INTO task_instances (` + instanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = s.db.ExecContext(ctx, query,
		inst.ID, inst.TenantID, templateID, inst.PeriodKey, inst.Title, inst.Description,
		string(inst.Priority), inst.SelfTask, assignees, observers, inst.CreatorID, offsets,
		inst.DueAt.UTC(), string(inst.Status), nullTime(inst.CompletedAt),
		inst.CreatedAt.UTC(), inst.UpdatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return MapUniqueViolation(err, periodConstraint, store.ErrInstanceExists)
		}
		s.logger.ErrorContext(ctx, "failed to create instance",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.InstanceStore.GetByID.
func (s *PostgresInstanceStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error) {
	return s.get(ctx, `SELECT `+instanceColumns+` FROM task_instances WHERE id = $1`, id)
}

// GetByPeriod implements store.InstanceStore.GetByPeriod.
func (s *PostgresInstanceStore) GetByPeriod(ctx context.Context, templateID uuid.UUID, periodKey string) (*domain.TaskInstance, error) {
	return s.get(ctx, `SELECT `+instanceColumns+` FROM task_instances
		WHERE template_id = $1 AND period_key = $2`, templateID, periodKey)
}

func (s *PostgresInstanceStore) get(ctx context.Context, query string, args ...any) (*domain.TaskInstance, error) {
	inst, err := scanInstance(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrInstanceNotFound
		}
		return nil, MapError(err)
	}
	return inst, nil
}

// ListOpen implements store.InstanceStore.ListOpen.
func (s *PostgresInstanceStore) ListOpen(ctx context.Context) ([]*domain.TaskInstance, error) {
	return s.list(ctx, `SELECT `+instanceColumns+` FROM task_instances
		WHERE status <> 'completed'
		ORDER BY due_at, id`)
}

// ListByTenant implements store.InstanceStore.ListByTenant.
func (s *PostgresInstanceStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, filter store.InstanceFilter) ([]*domain.TaskInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM task_instances WHERE tenant_id = $1`
	args := []any{tenantID}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.TemplateID != nil {
		args = append(args, *filter.TemplateID)
		query += fmt.Sprintf(" AND template_id = $%d", len(args))
	}
	query += " ORDER BY due_at, id"
	return s.list(ctx, query, args...)
}

func (s *PostgresInstanceStore) list(ctx context.Context, query string, args ...any) ([]*domain.TaskInstance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.TaskInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

// UpdateStatus implements store.InstanceStore.UpdateStatus. The status change
// and the reminder cancellation commit together.
func (s *PostgresInstanceStore) UpdateStatus(ctx context.Context, id uuid.UUID, change store.StatusChange) error {
	if s.sqlDB == nil {
		return s.updateStatus(ctx, s.db, id, change)
	}
	return store.RunInTransaction(ctx, s.sqlDB, func(ctx context.Context, tx *sql.Tx) error {
		return s.updateStatus(ctx, tx, id, change)
	})
}

func (s *PostgresInstanceStore) updateStatus(ctx context.Context, db store.DBTX, id uuid.UUID, change store.StatusChange) error {
	result, err := db.ExecContext(ctx, `
		UPDATE task_instances SET status = $3, completed_at = $4, updated_at = $5
		WHERE id = $1 AND status = $2`,
		id, string(change.From), string(change.To), nullTime(change.CompletedAt), change.At.UTC())
	if err != nil {
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrConflict); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		var exists bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM task_instances WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return MapError(err)
		}
		if !exists {
			return store.ErrInstanceNotFound
		}
		return fmt.Errorf("%w: instance %s is no longer %s", store.ErrConflict, id, change.From)
	}

	if change.CancelReminders {
		if _, err := db.ExecContext(ctx,
			`DELETE FROM reminder_fires WHERE instance_id = $1 AND NOT fired`, id,
		); err != nil {
			return MapError(err)
		}
	}
	return nil
}

func scanInstance(row rowScanner) (*domain.TaskInstance, error) {
	var (
		inst                          domain.TaskInstance
		templateID                    uuid.NullUUID
		priority, status              string
		assignees, observers, offsets []byte
		completedAt                   sql.NullTime
	)
	err := row.Scan(
		&inst.ID, &inst.TenantID, &templateID, &inst.PeriodKey, &inst.Title, &inst.Description,
		&priority, &inst.SelfTask, &assignees, &observers, &inst.CreatorID, &offsets,
		&inst.DueAt, &status, &completedAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if templateID.Valid {
		id := templateID.UUID
		inst.TemplateID = &id
	}
	inst.Priority = domain.Priority(priority)
	inst.Status = domain.TaskStatus(status)
	if err := decodeJSON(assignees, "assignees", &inst.Assignees); err != nil {
		return nil, err
	}
	if err := decodeJSON(observers, "observers", &inst.Observers); err != nil {
		return nil, err
	}
	if err := decodeJSON(offsets, "reminder_offsets", &inst.ReminderOffsets); err != nil {
		return nil, err
	}
	if inst.Observers == nil {
		inst.Observers = []uuid.UUID{}
	}
	inst.DueAt = inst.DueAt.UTC()
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	inst.CompletedAt = timePtr(completedAt)
	return &inst, nil
}
