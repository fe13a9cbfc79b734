package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/internal/pool/validation"
	"github.com/coinharbor/addrpool/pkg/metrics"
)

// BulkImporter ingests operator uploads of fresh addresses. Each line is
// validated and deduplicated independently; bad lines are reported, never
// abort the batch.
type BulkImporter struct {
	repository interfaces.PoolRepository
	cache      interfaces.PoolCache
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
}

// NewBulkImporter creates a new bulk importer
func NewBulkImporter(
	repository interfaces.PoolRepository,
	cache interfaces.PoolCache,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
) *BulkImporter {
	return &BulkImporter{
		repository: repository,
		cache:      cache,
		publisher:  publisher,
		logger:     logger,
	}
}

// Import validates each submitted address, rejects duplicates against both
// the batch and the existing pool, and inserts the remainder as AVAILABLE.
func (bi *BulkImporter) Import(ctx context.Context, addresses []string) (*interfaces.BulkUploadResult, error) {
	result := &interfaces.BulkUploadResult{
		Duplicates: []string{},
		Invalid:    []string{},
	}

	var candidates []string
	seen := make(map[string]bool, len(addresses))
	for _, raw := range addresses {
		addr := validation.Normalize(raw)
		if err := validation.ValidateBTCAddress(addr); err != nil {
			result.Invalid = append(result.Invalid, raw)
			continue
		}
		if seen[addr] {
			result.Duplicates = append(result.Duplicates, addr)
			continue
		}
		seen[addr] = true
		candidates = append(candidates, addr)
	}

	existing, err := bi.repository.ExistingValues(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing addresses: %w", err)
	}

	now := time.Now().UTC()
	records := make([]*interfaces.Address, 0, len(candidates))
	for _, addr := range candidates {
		if existing[addr] {
			result.Duplicates = append(result.Duplicates, addr)
			continue
		}
		records = append(records, &interfaces.Address{
			ID:        uuid.New(),
			Address:   addr,
			Status:    interfaces.StatusAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := bi.repository.CreateBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to insert addresses: %w", err)
	}
	result.Uploaded = len(records)

	bi.logger.Info("bulk upload processed",
		zap.Int("uploaded", result.Uploaded),
		zap.Int("duplicates", len(result.Duplicates)),
		zap.Int("invalid", len(result.Invalid)),
	)
	metrics.ImportedTotal.WithLabelValues("uploaded").Add(float64(result.Uploaded))
	metrics.ImportedTotal.WithLabelValues("duplicate").Add(float64(len(result.Duplicates)))
	metrics.ImportedTotal.WithLabelValues("invalid").Add(float64(len(result.Invalid)))

	if bi.cache != nil {
		if err := bi.cache.InvalidateStats(ctx); err != nil {
			bi.logger.Warn("failed to invalidate stats cache", zap.Error(err))
		}
	}
	if bi.publisher != nil && result.Uploaded > 0 {
		event := &interfaces.PoolEvent{
			ID:        uuid.New(),
			Type:      interfaces.EventPoolImported,
			Actor:     interfaces.ActorAdmin,
			Metadata:  map[string]any{"uploaded": result.Uploaded},
			Timestamp: now,
		}
		if err := bi.publisher.PublishPoolEvent(ctx, event); err != nil {
			bi.logger.Warn("failed to publish import event", zap.Error(err))
		}
	}

	return result, nil
}
