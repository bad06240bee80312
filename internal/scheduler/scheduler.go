package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
)

// Scheduler runs delayed one-shot jobs and periodic jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *slog.Logger
}

// New creates a started Scheduler. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.StartAsync()
	return &Scheduler{scheduler: s, logger: logger}
}

// After runs fn once, d from now, and unregisters the job once it has run.
// The returned cancel func drops the job if it has not run yet.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func()) {
	tag := "once-" + uuid.NewString()
	remove := func() {
		if err := s.scheduler.RemoveByTag(tag); err != nil && !errors.Is(err, gocron.ErrJobNotFoundWithTag) {
			s.logger.Warn("scheduler: remove job", "job", tag, "error", err)
		}
	}
	_, err := s.scheduler.Every(d).WaitForSchedule().LimitRunsTo(1).Tag(tag).Do(func() {
		fn()
		remove()
	})
	if err != nil {
		// gocron rejects non-positive intervals; run those through the runtime timer.
		s.logger.Warn("scheduler: falling back to timer", "delay", d, "error", err)
		t := time.AfterFunc(d, fn)
		return func() { t.Stop() }
	}
	return remove
}

// Every runs fn every interval, first run after one interval.
func (s *Scheduler) Every(interval time.Duration, name string, fn func()) error {
	_, err := s.scheduler.Every(interval).WaitForSchedule().Tag(name).Do(func() {
		s.logger.Debug("scheduler: running job", "job", name)
		fn()
	})
	return err
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
