package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner executes registered tasks on their cron schedules. Shutdown is
// driven by the context passed to Start; signal handling belongs to the
// caller.
type Runner struct {
	cron     *cron.Cron
	registry *Registry
	logger   *log.Logger
	wg       sync.WaitGroup
}

// New builds a runner over the registry.
func New(registry *Registry, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		cron:     cron.New(cron.WithSeconds()),
		registry: registry,
		logger:   logger,
	}
}

// Start schedules all tasks and blocks until ctx is cancelled, then drains
// running tasks.
func (r *Runner) Start(ctx context.Context) error {
	for name, task := range r.registry.All() {
		task := task
		r.logger.Printf("runner: scheduling %s (%s)", name, task.Schedule())
		if _, err := r.cron.AddFunc(task.Schedule(), func() {
			r.execute(ctx, task)
		}); err != nil {
			return fmt.Errorf("runner: schedule %s: %w", name, err)
		}
	}

	r.cron.Start()
	<-ctx.Done()
	r.stop()
	return ctx.Err()
}

func (r *Runner) execute(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		r.logger.Printf("runner: %s failed after %v: %v", task.Name(), time.Since(start), err)
		return
	}
	r.logger.Printf("runner: %s completed in %v", task.Name(), time.Since(start))
}

func (r *Runner) stop() {
	stopped := r.cron.Stop()
	r.wg.Wait()
	<-stopped.Done()
	r.logger.Printf("runner: stopped")
}
