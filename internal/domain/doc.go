// Package domain holds the entities of the task lifecycle engine: recurring
// templates, the task instances materialized from them, and the reminder fires
// recorded per instance. The closed enumerations (recurrence, priority,
// reminder offset, status) reject unknown values when parsed.
//
// Scheduling, reminder timing and status transitions live in the
// subpackages schedule, reminders and lifecycle, which are pure functions
// over these types.
package domain
