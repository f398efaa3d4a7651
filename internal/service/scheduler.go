package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/seowatch/seowatch-backend/internal/config"
)

// Scheduler drives the background cadences: scheduled detection runs, digest
// window flushes, and the retention sweep.
type Scheduler struct {
	pipeline *PipelineService
	cfg      *config.Config
	log      *slog.Logger
	stopCh   chan struct{}
}

func NewScheduler(pipeline *PipelineService, cfg *config.Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		pipeline: pipeline,
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background goroutines. A detection interval of zero
// means runs are manual (API-triggered) only; flush and sweep always run.
func (s *Scheduler) Start(ctx context.Context) {
	if interval := time.Duration(s.cfg.DetectionIntervalSec) * time.Second; interval > 0 {
		s.log.Info("Starting scheduled detection", "interval", interval)
		go s.loop(ctx, interval, func(ctx context.Context) {
			if _, err := s.pipeline.Run(ctx); err != nil {
				s.log.Error("Scheduled detection run failed", "error", err)
			}
		})
	}

	// Digest windows are checked often enough that a window never stays open
	// much past its end.
	go s.loop(ctx, time.Minute, func(ctx context.Context) {
		if err := s.pipeline.FlushDigests(ctx); err != nil {
			s.log.Error("Digest flush failed", "error", err)
		}
	})

	go s.loop(ctx, time.Hour, func(ctx context.Context) {
		resolved, err := s.pipeline.Sweep(ctx)
		if err != nil {
			s.log.Error("Retention sweep failed", "error", err)
			return
		}
		if resolved > 0 {
			s.log.Info("Retention sweep resolved anomalies", "count", resolved)
		}
	})
}

// Stop stops all scheduler goroutines.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
