// Package main implements the entry point of the task engine server, which
// serves the template and task API and runs the scheduler loop that
// materializes recurring tasks, fires reminders and escalates overdue work.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
