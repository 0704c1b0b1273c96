package tasks

import (
	"context"
	"log"
	"time"
)

// DirectoryReloader is the part of the directory the reload task needs.
type DirectoryReloader interface {
	Reload() error
}

// DirectoryReload refreshes the username directory snapshot from disk so
// operator edits to the spreadsheet are picked up without a restart.
type DirectoryReload struct {
	reloader DirectoryReloader
	schedule string
	logger   *log.Logger
}

// NewDirectoryReload builds the reload task.
func NewDirectoryReload(reloader DirectoryReloader, schedule string, logger *log.Logger) *DirectoryReload {
	if schedule == "" {
		schedule = "0 */5 * * * *"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DirectoryReload{reloader: reloader, schedule: schedule, logger: logger}
}

func (t *DirectoryReload) Name() string { return "directory_reload" }

func (t *DirectoryReload) Schedule() string { return t.schedule }

func (t *DirectoryReload) Timeout() time.Duration { return time.Minute }

func (t *DirectoryReload) Run(context.Context) error {
	return t.reloader.Reload()
}
