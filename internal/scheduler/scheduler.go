package scheduler

import (
	"context"
	"fmt"
	"time"

	"polyagent/internal/logger"
)

// Scheduler runs a task on a fixed interval. With Align set, each run lands on
// an interval boundary (e.g. the top of the hour) plus Offset.
type Scheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	Align          bool
	RunImmediately bool

	nowFn func() time.Time
}

func New(name string, interval time.Duration) *Scheduler {
	return &Scheduler{Name: name, Interval: interval, RunImmediately: true, nowFn: time.Now}
}

// Run blocks until ctx ends and returns ctx.Err(). A task runs to completion
// before the next wait starts, so rounds never overlap.
func (s *Scheduler) Run(ctx context.Context, task func(ctx context.Context)) error {
	if task == nil {
		return fmt.Errorf("scheduler %s: task is nil", s.Name)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler %s: invalid interval=%s", s.Name, s.Interval)
	}
	if s.Offset < 0 {
		logger.Warnf("[scheduler] %s negative offset=%s, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	startAt := s.nowFn().UTC()
	logger.Infof("[scheduler] %s started interval=%s align=%v run_immediately=%v",
		s.Name, s.Interval, s.Align, s.RunImmediately)

	if s.RunImmediately {
		task(ctx)
	}
	round := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.nowFn().UTC()
		wait := s.nextWait(now)
		round++
		logger.Infof("[scheduler] %s round=%d next run at %s (in %s) | uptime=%s",
			s.Name, round, now.Add(wait).Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("[scheduler] %s ctx done, exit", s.Name)
			return ctx.Err()
		case <-timer.C:
		}
		task(ctx)
	}
}

func (s *Scheduler) nextWait(now time.Time) time.Duration {
	if !s.Align {
		return s.Interval
	}
	now = now.UTC()
	wakeAt := now.Truncate(s.Interval).Add(s.Offset)
	for !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt.Sub(now)
}
