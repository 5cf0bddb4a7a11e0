// Package jobs runs fanout's periodic background maintenance.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"fanout/internal/config"
)

// Scheduler is responsible for running background jobs
type Scheduler struct {
	db      *gorm.DB
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	enabled bool
	running bool
	cfg     *config.Config

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	cleanupJob *CleanupJob

	cleanupTicker *time.Ticker
}

// NewScheduler creates the scheduler with its job instances.
func NewScheduler(db *gorm.DB, cfg *config.Config, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		db:      db,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
		cfg:     cfg,
	}

	s.cleanupJob = NewCleanupJob(db, cfg, logger)

	return s, nil
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.running {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.running = true
	s.startCleanupJob()

	s.logger.Info("Background jobs started")
	return nil
}

func (s *Scheduler) startCleanupJob() {
	interval := s.cfg.JobInterval()
	s.logger.Info("Starting run cleanup job", slog.Duration("interval", interval))
	s.cleanupTicker = time.NewTicker(interval)

	go func() {
		// Run initial cleanup
		s.executeJobSafely("run_cleanup", s.cleanupJob.Run)

		for {
			select {
			case <-s.cleanupTicker.C:
				s.executeJobSafely("run_cleanup", s.cleanupJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Run cleanup job stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}

	s.cancel()
	s.running = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.running
}
