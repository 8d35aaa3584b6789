// Package cleanup provides data retention for stored execution events.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/flowscope/pkg/config"
	"github.com/codeready-toolchain/flowscope/pkg/services"
)

// Service periodically deletes execution events older than the configured
// TTL. Deletion is idempotent and safe to run from multiple replicas.
type Service struct {
	config       *config.RetentionConfig
	eventService *services.EventService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, eventService *services.EventService) *Service {
	return &Service{
		config:       cfg,
		eventService: eventService,
	}
}

// Start launches the background cleanup loop. The first pass runs immediately.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	_, _ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce deletes expired events and returns how many rows were removed.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	count, err := s.eventService.CleanupExpired(ctx, s.config.EventTTL)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Retention: event cleanup failed", "error", err)
		}
		return 0, err
	}
	if count > 0 {
		slog.Info("Retention: deleted expired events", "count", count)
	}
	return count, nil
}
