// Package scheduler runs the analysis engines on fixed intervals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qawatch-io/qawatch/internal/config"
)

// Scheduling defaults. Every run gets a hard budget so a slow query can never
// wedge an analysis loop.
const (
	defaultInterval  = 5 * time.Minute
	defaultRunBudget = 2 * time.Minute
)

// Task is one schedulable unit of analysis work.
type Task interface {
	// Name identifies the task in logs.
	Name() string
	// Run executes one pass. It must honor ctx cancellation.
	Run(ctx context.Context) error
}

// Config holds scheduler settings.
type Config struct {
	// Interval is the default delay between runs of each task.
	Interval time.Duration
	// RunBudget bounds the duration of a single task run.
	RunBudget time.Duration
}

// LoadConfig loads scheduler settings from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Interval:  config.GetEnvDuration("QAWATCH_SCHEDULER_INTERVAL", defaultInterval),
		RunBudget: config.GetEnvDuration("QAWATCH_SCHEDULER_RUN_BUDGET", defaultRunBudget),
	}
}

type entry struct {
	task     Task
	interval time.Duration
}

// Scheduler runs registered tasks periodically, each on its own goroutine.
// Task failures are logged and the loop continues; the next tick retries.
type Scheduler struct {
	config *Config
	logger *slog.Logger

	entries []entry

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// New creates a scheduler. A nil config loads settings from the environment.
func New(cfg *Config, logger *slog.Logger) *Scheduler {
	if cfg == nil {
		cfg = LoadConfig()
	}

	return &Scheduler{
		config: cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Register adds a task at the default interval.
func (s *Scheduler) Register(task Task) {
	s.RegisterInterval(task, s.config.Interval)
}

// RegisterInterval adds a task with its own interval.
func (s *Scheduler) RegisterInterval(task Task, interval time.Duration) {
	s.entries = append(s.entries, entry{task: task, interval: interval})
}

// Start launches one loop per registered task. Each task runs once
// immediately, then on every tick.
func (s *Scheduler) Start() {
	for _, e := range s.entries {
		s.done.Add(1)

		go s.loop(e)
	}

	s.logger.Info("Scheduler started", slog.Int("tasks", len(s.entries)))
}

// Stop signals all loops to exit and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	s.done.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(e entry) {
	defer s.done.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	s.runOnce(e.task)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runOnce(e.task)
		}
	}
}

func (s *Scheduler) runOnce(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunBudget)
	defer cancel()

	start := time.Now()

	if err := task.Run(ctx); err != nil {
		s.logger.Error("Scheduled task failed",
			slog.String("task", task.Name()),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)

		return
	}

	s.logger.Debug("Scheduled task completed",
		slog.String("task", task.Name()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}
