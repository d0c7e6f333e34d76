// Package lifecycle implements the status state machine of task instances.
//
// Apply is a pure transition function. It never mutates the instance; it
// returns the new status together with the side effects the caller must carry
// out, so persistence and dispatch stay outside the state machine.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
)

// Action is an event that may move an instance to another status.
type Action string

// Possible actions. MarkOverdue is issued by the scheduler, the rest by users.
const (
	ActionStart       Action = "start"
	ActionSubmit      Action = "submit"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionComplete    Action = "complete"
	ActionMarkOverdue Action = "mark_overdue"
)

// ParseAction converts a raw value into a user Action. MarkOverdue is not
// accepted since it is never user-triggered.
func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case ActionStart, ActionSubmit, ActionApprove, ActionReject, ActionComplete:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q: %w", raw, domain.ErrInvalidTransition)
	}
}

// IntentKind classifies a side effect requested by a transition.
type IntentKind string

// Possible intents
const (
	// IntentNotify asks for a best-effort notification.
	IntentNotify IntentKind = "notify"
	// IntentEscalate asks for the one-time overdue escalation, which is
	// recorded like a reminder fire.
	IntentEscalate IntentKind = "escalate"
	// IntentCancelReminders asks for all unfired reminders to be discarded.
	IntentCancelReminders IntentKind = "cancel_reminders"
)

// Intent is a side effect to perform after the transition is persisted.
type Intent struct {
	Kind       IntentKind
	Event      domain.NotificationKind
	Recipients []uuid.UUID
}

// Result is the outcome of a transition.
type Result struct {
	From        domain.TaskStatus
	To          domain.TaskStatus
	CompletedAt *time.Time
	Intents     []Intent
}

// Changed reports whether the transition moved the instance.
func (r Result) Changed() bool {
	return r.From != r.To
}

// TransitionError reports an action that is not allowed from a status.
type TransitionError struct {
	From   domain.TaskStatus
	Action Action
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a task that is %s", e.Action, e.From)
}

// Unwrap makes errors.Is(err, domain.ErrInvalidTransition) hold.
func (e *TransitionError) Unwrap() error {
	return domain.ErrInvalidTransition
}

// Apply computes the transition of inst under action at now.
//
// Disallowed actions return a *TransitionError and an unchanged Result.
// ActionMarkOverdue never fails: it is a no-op unless the instance is pending
// or in progress and now is strictly after its due instant.
func Apply(inst *domain.TaskInstance, action Action, now time.Time) (Result, error) {
	from := inst.Status
	res := Result{From: from, To: from, CompletedAt: inst.CompletedAt}

	if action == ActionMarkOverdue {
		if (from == domain.StatusPending || from == domain.StatusInProgress) && now.After(inst.DueAt) {
			res.To = domain.StatusOverdue
			res.Intents = []Intent{{
				Kind:       IntentEscalate,
				Event:      domain.NotifyOverdue,
				Recipients: domain.Recipients(inst.Assignees, inst.Observers, []uuid.UUID{inst.CreatorID}),
			}}
		}
		return res, nil
	}

	to, ok := next(from, action)
	if !ok {
		return res, &TransitionError{From: from, Action: action}
	}
	if action == ActionSubmit && inst.SelfTask {
		to = domain.StatusCompleted
	}
	res.To = to

	switch {
	case to == domain.StatusCompleted:
		at := now.UTC()
		res.CompletedAt = &at
		event := domain.NotifyCompleted
		if action == ActionApprove {
			event = domain.NotifyApproved
		}
		res.Intents = []Intent{
			{Kind: IntentCancelReminders},
			{Kind: IntentNotify, Event: event, Recipients: domain.Recipients(inst.Assignees, inst.Observers)},
		}
	case to == domain.StatusForApproval:
		res.Intents = []Intent{{
			Kind:       IntentNotify,
			Event:      domain.NotifyApprovalRequested,
			Recipients: []uuid.UUID{inst.CreatorID},
		}}
	case action == ActionReject:
		res.Intents = []Intent{{
			Kind:       IntentNotify,
			Event:      domain.NotifyRejected,
			Recipients: domain.Recipients(inst.Assignees),
		}}
	}
	return res, nil
}

// next is the user transition table. Completed accepts nothing.
func next(from domain.TaskStatus, action Action) (domain.TaskStatus, bool) {
	switch from {
	case domain.StatusPending:
		switch action {
		case ActionStart:
			return domain.StatusInProgress, true
		case ActionComplete:
			return domain.StatusCompleted, true
		}
	case domain.StatusInProgress, domain.StatusOverdue:
		switch action {
		case ActionSubmit:
			return domain.StatusForApproval, true
		case ActionComplete:
			return domain.StatusCompleted, true
		}
	case domain.StatusForApproval:
		switch action {
		case ActionApprove, ActionComplete:
			return domain.StatusCompleted, true
		case ActionReject:
			return domain.StatusInProgress, true
		}
	}
	return from, false
}
