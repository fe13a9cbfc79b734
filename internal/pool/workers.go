// Package pool provides the address pool module orchestrator and its
// background workers.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinharbor/addrpool/internal/config"
	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/pkg/metrics"
)

// Worker represents a background worker
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// sweepBatchSize bounds how many expired reservations one pass reclaims.
const sweepBatchSize = 100

// ExpirationSweeper reclaims reservations abandoned past their TTL. Addresses
// with a bound deposit task are exempt; their fate is decided by the task
// outcome alone.
type ExpirationSweeper struct {
	repository interfaces.PoolRepository
	cache      interfaces.PoolCache
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
	interval   time.Duration
	stopCh     chan struct{}
}

// NewExpirationSweeper creates a new expiration sweeper
func NewExpirationSweeper(
	repository interfaces.PoolRepository,
	cache interfaces.PoolCache,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
	cfg config.PoolConfig,
) *ExpirationSweeper {
	return &ExpirationSweeper{
		repository: repository,
		cache:      cache,
		publisher:  publisher,
		logger:     logger,
		interval:   cfg.SweepInterval,
	}
}

// Name returns the worker name
func (w *ExpirationSweeper) Name() string {
	return "expiration-sweeper"
}

// Start starts the sweeper loop
func (w *ExpirationSweeper) Start(ctx context.Context) error {
	w.stopCh = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop stops the sweeper loop
func (w *ExpirationSweeper) Stop(ctx context.Context) error {
	if w.stopCh != nil {
		close(w.stopCh)
	}
	return nil
}

func (w *ExpirationSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.logger.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce reclaims every currently expired, unbound reservation and returns
// how many were released. Per-address failures are logged and skipped so one
// bad row never aborts the pass.
func (w *ExpirationSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := w.repository.ExpiredReservations(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	reclaimed := 0
	for _, addr := range expired {
		ok, err := w.repository.ReleaseExpired(ctx, addr.ID, now)
		if err != nil {
			w.logger.Error("failed to reclaim expired reservation",
				zap.String("address_id", addr.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			// A concurrent release, binding, or consumption won; nothing to
			// reclaim anymore.
			continue
		}

		reclaimed++
		metrics.SweptTotal.Inc()
		metrics.ReleasesTotal.WithLabelValues(string(interfaces.ActorSystem)).Inc()
		w.logger.Info("reclaimed expired reservation",
			zap.String("address_id", addr.ID.String()),
			zap.Timep("expired_at", addr.ExpiresAt),
		)
		w.publishSwept(ctx, addr)
	}

	if reclaimed > 0 && w.cache != nil {
		if err := w.cache.InvalidateStats(ctx); err != nil {
			w.logger.Warn("failed to invalidate stats cache", zap.Error(err))
		}
	}
	return reclaimed, nil
}

func (w *ExpirationSweeper) publishSwept(ctx context.Context, addr *interfaces.Address) {
	if w.publisher == nil {
		return
	}
	event := &interfaces.PoolEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventAddressSwept,
		AddressID: addr.ID,
		Address:   addr.Address,
		Actor:     interfaces.ActorSystem,
		Timestamp: time.Now().UTC(),
	}
	if err := w.publisher.PublishPoolEvent(ctx, event); err != nil {
		w.logger.Warn("failed to publish sweep event",
			zap.String("address_id", addr.ID.String()),
			zap.Error(err),
		)
	}
}

// GaugeExporter periodically exports pool size gauges to Prometheus.
type GaugeExporter struct {
	repository interfaces.PoolRepository
	logger     *zap.Logger
	interval   time.Duration
	stopCh     chan struct{}
}

// NewGaugeExporter creates a new gauge exporter
func NewGaugeExporter(repository interfaces.PoolRepository, logger *zap.Logger, cfg config.PoolConfig) *GaugeExporter {
	return &GaugeExporter{
		repository: repository,
		logger:     logger,
		interval:   cfg.GaugeInterval,
	}
}

// Name returns the worker name
func (w *GaugeExporter) Name() string {
	return "gauge-exporter"
}

// Start starts the exporter loop
func (w *GaugeExporter) Start(ctx context.Context) error {
	w.stopCh = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop stops the exporter loop
func (w *GaugeExporter) Stop(ctx context.Context) error {
	if w.stopCh != nil {
		close(w.stopCh)
	}
	return nil
}

func (w *GaugeExporter) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			stats, err := w.repository.Stats(ctx)
			if err != nil {
				w.logger.Error("failed to export pool gauges", zap.Error(err))
				continue
			}
			metrics.PoolSize.WithLabelValues(string(interfaces.StatusAvailable)).Set(float64(stats.Available))
			metrics.PoolSize.WithLabelValues(string(interfaces.StatusReserved)).Set(float64(stats.Reserved))
			metrics.PoolSize.WithLabelValues(string(interfaces.StatusUsed)).Set(float64(stats.Used))
		}
	}
}
