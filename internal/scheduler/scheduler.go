package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/as950118/auto-trade/internal/notify"
)

// Job is one recurring task. Run returns a human-readable summary for
// notification; an empty summary means nothing noteworthy happened.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (string, error)
}

// Runner drives each registered job on its own ticker and reports results
// through the notifier.
type Runner struct {
	jobs     []Job
	notifier notify.Notifier
}

func NewRunner(notifier notify.Notifier, jobs ...Job) *Runner {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Runner{jobs: jobs, notifier: notifier}
}

// Start launches one goroutine per job and blocks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	logger := log.With().Str("component", "scheduler").Logger()
	logger.Info().Int("jobs", len(r.jobs)).Msg("starting scheduler")

	var wg sync.WaitGroup
	for i := range r.jobs {
		job := r.jobs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runLoop(ctx, job)
		}()
	}
	wg.Wait()
	logger.Info().Msg("scheduler stopped")
}

func (r *Runner) runLoop(ctx context.Context, job Job) {
	logger := log.With().Str("job", job.Name).Logger()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("stopping job")
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	logger := log.With().Str("job", job.Name).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("job panicked")
			r.notifier.Notify(job.Name+" failed", fmt.Sprintf("panic: %v", rec))
		}
	}()

	started := time.Now()
	summary, err := job.Run(ctx)
	elapsed := time.Since(started)

	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("job failed")
		r.notifier.Notify(job.Name+" failed", err.Error())
		return
	}

	logger.Debug().Dur("elapsed", elapsed).Msg("job completed")
	if summary != "" {
		r.notifier.Notify(job.Name, summary)
	}
}

// Trigger runs one job by name immediately, outside its schedule.
func (r *Runner) Trigger(ctx context.Context, name string) error {
	for _, job := range r.jobs {
		if job.Name == name {
			r.runOnce(ctx, job)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// JobNames lists the registered jobs in registration order.
func (r *Runner) JobNames() []string {
	names := make([]string, len(r.jobs))
	for i, job := range r.jobs {
		names[i] = job.Name
	}
	return names
}
