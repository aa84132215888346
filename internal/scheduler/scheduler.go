package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"barflow/logger"
)

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	entry *logger.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(kv []interface{}) logger.Fields {
	fields := logger.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// Scheduler triggers the job on a cron spec (seconds field first, UTC).
// A trigger that fires while the previous run is still going is skipped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *logger.Log
	now  sync.WaitGroup
}

func New(ctx context.Context, log *logger.Log) *Scheduler {
	cl := cronLogger{entry: log.WithComponent("scheduler")}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx: ctx,
		log: log,
	}
}

// Register schedules task under spec.
func (s *Scheduler) Register(spec string, task func(ctx context.Context)) error {
	if _, err := s.cron.AddFunc(spec, func() { task(s.ctx) }); err != nil {
		return fmt.Errorf("register task %q: %w", spec, err)
	}
	s.log.WithComponent("scheduler").WithFields(logger.Fields{"cron": spec}).Info("task registered")
	return nil
}

// Next reports when the earliest registered task fires next.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithComponent("scheduler").Info("scheduler started")
}

// RunNow starts task outside the schedule. Stop waits for it as well.
func (s *Scheduler) RunNow(task func(ctx context.Context)) {
	s.now.Add(1)
	go func() {
		defer s.now.Done()
		task(s.ctx)
	}()
}

// Stop halts triggering and waits for running tasks to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.now.Wait()
	s.log.WithComponent("scheduler").Info("scheduler stopped")
}
