// Package store defines the persistence boundary of the task engine.
//
// The interfaces here are implemented by platform/postgres for production and
// platform/memory for tests and local runs. Both enforce the same uniqueness
// rules: one task instance per (template, period) and one reminder fire per
// (instance, label). The engine relies on those constraints, not on
// in-process locking, for idempotence across concurrent schedulers.
package store
