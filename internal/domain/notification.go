package domain

// NotificationKind names the event a notification reports to its recipients.
type NotificationKind string

// Notification kinds emitted by the engine
const (
	NotifyAssigned          NotificationKind = "task.assigned"
	NotifyReminder          NotificationKind = "task.reminder"
	NotifyApprovalRequested NotificationKind = "task.approval_requested"
	NotifyApproved          NotificationKind = "task.approved"
	NotifyRejected          NotificationKind = "task.rejected"
	NotifyCompleted         NotificationKind = "task.completed"
	NotifyOverdue           NotificationKind = "task.overdue"
)
