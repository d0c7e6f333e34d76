// Package engine drives recurring templates through their life: it
// materializes due periods into task instances, fires reminders and the
// overdue escalation exactly once per (instance, label), and moves instances
// past their due instant to overdue.
//
// All decisions are taken from persisted state on every tick. Nothing is
// cached between ticks, so any number of engines may run against the same
// store and a restarted process resumes where the store says it stopped.
package engine

import (
	"context"
	"time"

	"github.com/crewdesk/taskengine/internal/config"
)

// Config tunes a Loop.
type Config struct {
	TickInterval time.Duration
	TickTimeout  time.Duration
	StepTimeout  time.Duration
	Workers      int
	MaxCatchUp   int
	ClaimLease   time.Duration
}

// ConfigFrom converts the scheduler configuration section.
func ConfigFrom(cfg config.SchedulerConfig) Config {
	return Config{
		TickInterval: cfg.TickInterval,
		TickTimeout:  cfg.TickTimeout,
		StepTimeout:  cfg.StepTimeout,
		Workers:      cfg.Workers,
		MaxCatchUp:   cfg.MaxCatchUp,
		ClaimLease:   cfg.ClaimLease,
	}
}

// DefaultConfig returns the values used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Minute,
		TickTimeout:  50 * time.Second,
		StepTimeout:  5 * time.Second,
		Workers:      8,
		ClaimLease:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = d.TickTimeout
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = d.ClaimLease
	}
	return c
}

// withStep bounds a single store or dispatch call.
func withStep(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
