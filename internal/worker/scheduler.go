package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/observability"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a recurring background task.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler runs jobs on fixed intervals. A job never overlaps itself within
// the process; overlapping processes rely on the SQL guards of the services.
type Scheduler struct {
	cron  *cron.Cron
	chain cron.Chain

	mu     sync.Mutex
	jobs   map[string]cron.Job
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler() *Scheduler {
	logger := cronLogger{zap.L().Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(logger)),
		chain:  cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		jobs:   map[string]cron.Job{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers j. Jobs with a non-positive interval are skipped.
func (s *Scheduler) Add(j Job) error {
	if j.Every <= 0 {
		zap.L().Info("job disabled", zap.String("job", j.Name))
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("job %q already registered", j.Name)
	}

	wrapped := s.chain.Then(cron.FuncJob(func() { s.execute(j) }))
	if _, err := s.cron.AddJob("@every "+j.Every.String(), wrapped); err != nil {
		return fmt.Errorf("schedule %s: %w", j.Name, err)
	}
	s.jobs[j.Name] = wrapped
	return nil
}

// RunNow runs the named job synchronously, unless it is already running.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	job.Run()
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		zap.L().Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) execute(j Job) {
	if err := j.Run(s.ctx); err != nil {
		observability.IncrementWorkerRun(j.Name, "failed")
		zap.L().Error("job failed", zap.String("job", j.Name), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(j.Name, "success")
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
