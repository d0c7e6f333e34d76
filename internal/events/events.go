package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
)

// Dispatch failures. Both are recoverable: the engine leaves the reminder
// unfired and retries on a later tick.
var (
	// ErrDispatchRejected is returned when the sink refused the notification.
	ErrDispatchRejected = errors.New("notification rejected by sink")

	// ErrDispatchTimeout is returned when the sink did not answer in time.
	ErrDispatchTimeout = errors.New("notification dispatch timed out")
)

// Notification is a message for a set of user references. The engine passes
// references only; resolving them to devices or channels is the sink's job.
type Notification struct {
	ID         uuid.UUID               `json:"id"`
	Kind       domain.NotificationKind `json:"kind"`
	TenantID   uuid.UUID               `json:"tenant_id"`
	InstanceID uuid.UUID               `json:"instance_id"`
	Recipients []uuid.UUID             `json:"recipients"`
	Payload    json.RawMessage         `json:"payload"`
	CreatedAt  time.Time               `json:"created_at"`
}

// TaskPayload is the payload of every task notification.
type TaskPayload struct {
	Title     string            `json:"title"`
	Priority  domain.Priority   `json:"priority"`
	Status    domain.TaskStatus `json:"status"`
	DueAt     time.Time         `json:"due_at"`
	PeriodKey string            `json:"period_key,omitempty"`
	// Label is set for reminders and the overdue escalation.
	Label domain.FireLabel `json:"label,omitempty"`
}

// UnmarshalPayload decodes the payload into v.
func (n *Notification) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(n.Payload, v)
}

// NewNotification creates a notification with a JSON encoded payload.
func NewNotification(
	kind domain.NotificationKind,
	tenantID, instanceID uuid.UUID,
	recipients []uuid.UUID,
	payload interface{},
	now time.Time,
) (*Notification, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}

	return &Notification{
		ID:         uuid.New(),
		Kind:       kind,
		TenantID:   tenantID,
		InstanceID: instanceID,
		Recipients: recipients,
		Payload:    payloadBytes,
		CreatedAt:  now.UTC(),
	}, nil
}

// ForInstance builds a task notification about inst. label may be empty.
func ForInstance(
	kind domain.NotificationKind,
	inst *domain.TaskInstance,
	recipients []uuid.UUID,
	label domain.FireLabel,
	now time.Time,
) (*Notification, error) {
	return NewNotification(kind, inst.TenantID, inst.ID, recipients, TaskPayload{
		Title:     inst.Title,
		Priority:  inst.Priority,
		Status:    inst.Status,
		DueAt:     inst.DueAt,
		PeriodKey: inst.PeriodKey,
		Label:     label,
	}, now)
}

// fireNamespace is the UUID namespace of notification IDs derived from
// reminder fires.
var fireNamespace = uuid.MustParse("6b2f0c4e-93d1-4a7e-8f5b-1c7d2e9a0b34")

// FireNotificationID returns the notification ID of a reminder or escalation
// fire. Every dispatch attempt of the same fire carries the same ID, so a sink
// can drop redeliveries.
func FireNotificationID(fireID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(fireNamespace, fireID[:])
}

// ForFire builds the notification of a claimed reminder or escalation fire.
// Its ID is derived from fireID, see FireNotificationID.
func ForFire(
	kind domain.NotificationKind,
	inst *domain.TaskInstance,
	recipients []uuid.UUID,
	label domain.FireLabel,
	fireID uuid.UUID,
	now time.Time,
) (*Notification, error) {
	n, err := ForInstance(kind, inst, recipients, label, now)
	if err != nil {
		return nil, err
	}
	n.ID = FireNotificationID(fireID)
	return n, nil
}

// Sink is the notification dispatch boundary. A nil error means the sink
// accepted the notification; accepting is not a delivery guarantee, the sink
// owns delivery retries.
type Sink interface {
	Dispatch(ctx context.Context, n *Notification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, n *Notification) error

// Dispatch implements Sink.
func (f SinkFunc) Dispatch(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// Classify maps a dispatch failure onto ErrDispatchTimeout or
// ErrDispatchRejected, keeping the original error in the chain.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDispatchTimeout), errors.Is(err, ErrDispatchRejected):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrDispatchTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrDispatchRejected, err)
	}
}
