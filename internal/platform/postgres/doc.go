// Package postgres provides PostgreSQL implementations of the template,
// instance and reminder stores defined in the internal/store package, plus the
// embedded goose migrations that create their schema.
//
// The uniqueness rules the engine depends on are database constraints here:
// one instance per (template, period) and one fire per (instance, label).
package postgres
