package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulzo/model-gateway/internal/platform/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Job is one periodic maintenance task. A RunOnStart job also runs as soon as
// the scheduler starts, so long intervals still make progress on processes
// that restart more often than that.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type entry struct {
	Job
	running atomic.Bool
}

// Scheduler runs each job on its own ticker in its own goroutine. A job that
// panics or fails is logged and runs again on its next tick; other jobs and
// request handling are unaffected.
type Scheduler struct {
	logger *zap.Logger
	jobs   map[string]*entry

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(logger *zap.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		logger: logger,
		jobs:   make(map[string]*entry, len(jobs)),
		stop:   make(chan struct{}),
	}
	for _, j := range jobs {
		s.jobs[j.Name] = &entry{Job: j}
	}
	return s
}

// Names lists the registered jobs in sorted order.
func (s *Scheduler) Names() []string {
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start launches every job with a positive interval. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	for _, e := range s.jobs {
		if e.Interval <= 0 {
			s.logger.Info("Job disabled", zap.String("job", e.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	s.logger.Info("Scheduler started", zap.Strings("jobs", s.Names()))
}

// Stop halts all tickers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	if e.RunOnStart {
		_ = s.execute(ctx, e)
	}

	for {
		select {
		case <-ticker.C:
			_ = s.execute(ctx, e)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunNow executes one job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	e, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, e)
}

// execute runs a job inside a recover boundary. Overlapping runs of the same
// job are skipped.
func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Warn("Job still running, skipping", zap.String("job", e.Name))
		return nil
	}
	defer e.running.Store(false)

	ctx, span := otel.Tracer().Start(ctx, "scheduler."+e.Name)
	span.SetAttributes(attribute.String("scheduler.job", e.Name))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", e.Name, r)
			s.logger.Error("Job panicked",
				zap.String("job", e.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("Job failed",
				zap.String("job", e.Name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		s.logger.Info("Job completed",
			zap.String("job", e.Name),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	return e.Run(ctx)
}
