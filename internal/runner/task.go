// Package runner schedules the bot's background maintenance: platform token
// refresh and username directory reloads.
package runner

import (
	"context"
	"time"
)

// Task is a scheduled background job.
type Task interface {
	// Name identifies the task in logs.
	Name() string

	// Schedule returns the cron expression (with seconds field).
	Schedule() string

	// Run executes one iteration.
	Run(ctx context.Context) error

	// Timeout bounds one iteration's runtime.
	Timeout() time.Duration
}

// Registry holds the tasks to schedule.
type Registry struct {
	tasks map[string]Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task, replacing any task with the same name.
func (r *Registry) Register(task Task) {
	r.tasks[task.Name()] = task
}

// All returns the registered tasks keyed by name.
func (r *Registry) All() map[string]Task {
	return r.tasks
}
