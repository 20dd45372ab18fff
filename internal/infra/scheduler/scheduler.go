// Package scheduler runs periodic jobs on cron expressions.
// Overlapping runs of one job are skipped and panics are recovered.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one unit of scheduled work. The context is cancelled on Stop.
type Job func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	logger *zap.Logger
	names  map[cron.EntryID][2]string // name, spec
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
		names:  make(map[cron.EntryID][2]string),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under spec (standard 5-field cron or @every/@daily).
func (s *Scheduler) Add(name, spec string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Info("scheduled job done", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.mu.Lock()
	s.names[id] = [2]string{name, spec}
	s.mu.Unlock()
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling, cancels running jobs' context and waits for them
// to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists registered jobs with their next run time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.cron.Entries() {
		meta := s.names[e.ID]
		out = append(out, Entry{Name: meta[0], Spec: meta[1], Next: e.Next, Prev: e.Prev})
	}
	return out
}

// cronLogger adapts zap to cron's logger interface.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
