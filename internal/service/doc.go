// Package service contains the use cases behind the REST boundary: template
// CRUD and the user actions that move task instances through their
// lifecycle.
//
// Services coordinate domain objects and the store interfaces of
// internal/store. They never depend on a concrete store implementation.
//
// Every read and write is scoped to the tenant of the acting user. An entity
// of another tenant is reported as not found, so its existence is not
// disclosed.
//
// Status changes go through the lifecycle state machine and are persisted with
// a compare-and-set on the previous status. A change that loses against a
// concurrent writer, such as the scheduler marking the task overdue, fails
// with ErrStatusConflict and may be retried by the caller after re-reading the
// task.
package service
