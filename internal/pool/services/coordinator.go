// Package services implements the reservation lifecycle of the address pool.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinharbor/addrpool/internal/config"
	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/pkg/errors"
	"github.com/coinharbor/addrpool/pkg/metrics"
)

// ReservationCoordinator hands out available addresses to concurrent callers.
// Mutual exclusion comes from the repository's compare-and-swap transitions;
// on a lost race the coordinator retries against a different candidate instead
// of surfacing the conflict.
type ReservationCoordinator struct {
	repository interfaces.PoolRepository
	cache      interfaces.PoolCache
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
	cfg        config.PoolConfig
}

// NewReservationCoordinator creates a new reservation coordinator
func NewReservationCoordinator(
	repository interfaces.PoolRepository,
	cache interfaces.PoolCache,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
	cfg config.PoolConfig,
) *ReservationCoordinator {
	return &ReservationCoordinator{
		repository: repository,
		cache:      cache,
		publisher:  publisher,
		logger:     logger,
		cfg:        cfg,
	}
}

// Reserve picks one available address and transitions it to RESERVED for the
// requesting user. The returned ExpiresAt is always ReservedAt plus the
// configured TTL; the sweeper, not the client countdown, is authoritative for
// expiry.
func (rc *ReservationCoordinator) Reserve(ctx context.Context, userID uuid.UUID, amountUSD decimal.Decimal) (*interfaces.Reservation, error) {
	if amountUSD.Sign() <= 0 {
		metrics.ReservationsTotal.WithLabelValues("invalid").Inc()
		return nil, errors.ErrInvalidAmount
	}

	// Two passes over fresh candidate sets: losing every CAS in the first
	// pass means heavy contention, not exhaustion.
	for attempt := 0; attempt < 2; attempt++ {
		candidates, err := rc.repository.FindAvailable(ctx, rc.cfg.ReserveCandidates)
		if err != nil {
			return nil, fmt.Errorf("failed to find available addresses: %w", err)
		}
		if len(candidates) == 0 {
			break
		}

		for _, cand := range candidates {
			reservedAt := time.Now().UTC()
			expiresAt := reservedAt.Add(rc.cfg.ReservationTTL)

			err := rc.repository.Reserve(ctx, cand.ID, userID, amountUSD, reservedAt, expiresAt)
			if errors.Is(err, errors.ErrConcurrentModification) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to reserve address: %w", err)
			}

			rc.logger.Info("reserved address",
				zap.String("address_id", cand.ID.String()),
				zap.String("user_id", userID.String()),
				zap.String("amount_usd", amountUSD.String()),
				zap.Time("expires_at", expiresAt),
			)
			metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
			rc.invalidateStats(ctx)
			rc.publish(ctx, interfaces.EventAddressReserved, cand, interfaces.ActorUser, map[string]any{
				"user_id":    userID.String(),
				"amount_usd": amountUSD.String(),
				"expires_at": expiresAt.Format(time.RFC3339),
			})

			return &interfaces.Reservation{
				ReservationID: cand.ID,
				Address:       cand.Address,
				ReservedAt:    reservedAt,
				ExpiresAt:     expiresAt,
				Amount:        amountUSD,
			}, nil
		}
	}

	metrics.ReservationsTotal.WithLabelValues("exhausted").Inc()
	return nil, errors.ErrNoAddressAvailable
}

// Release returns a reserved address to the pool. Releasing an address that
// is already available is a no-op success so client retries (for example a
// modal unmount firing twice) stay harmless. Releasing a USED address is
// rejected.
func (rc *ReservationCoordinator) Release(ctx context.Context, reservationID uuid.UUID, actor interfaces.Actor) error {
	addr, err := rc.repository.GetByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrReservationNotFound
		}
		return fmt.Errorf("failed to load reservation: %w", err)
	}

	switch addr.Status {
	case interfaces.StatusUsed:
		return errors.ErrAlreadyUsed
	case interfaces.StatusAvailable:
		rc.logger.Debug("release of already-released reservation",
			zap.String("address_id", reservationID.String()),
			zap.String("actor", string(actor)),
		)
		return nil
	}

	ok, err := rc.repository.Release(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("failed to release address: %w", err)
	}
	if !ok {
		// Another actor (sweeper, concurrent release) won the race; the end
		// state is identical so this still counts as success.
		rc.logger.Debug("release lost race, address already transitioned",
			zap.String("address_id", reservationID.String()),
		)
		return nil
	}

	rc.logger.Info("released address",
		zap.String("address_id", reservationID.String()),
		zap.String("actor", string(actor)),
	)
	metrics.ReleasesTotal.WithLabelValues(string(actor)).Inc()
	rc.invalidateStats(ctx)
	rc.publish(ctx, interfaces.EventAddressReleased, addr, actor, nil)

	return nil
}

// Get retrieves a single address by id.
func (rc *ReservationCoordinator) Get(ctx context.Context, id uuid.UUID) (*interfaces.Address, error) {
	addr, err := rc.repository.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.KindNotFound, "address not found")
	}
	return addr, err
}

// Stats returns the aggregate pool view, served from cache when fresh.
func (rc *ReservationCoordinator) Stats(ctx context.Context) (*interfaces.PoolStats, error) {
	if rc.cache != nil {
		if cached, err := rc.cache.GetStats(ctx); err == nil && cached != nil {
			return cached, nil
		}
	}

	stats, err := rc.repository.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute pool stats: %w", err)
	}

	if rc.cache != nil {
		if err := rc.cache.SetStats(ctx, stats, rc.cfg.StatsCacheTTL); err != nil {
			rc.logger.Warn("failed to cache pool stats", zap.Error(err))
		}
	}
	return stats, nil
}

// List returns one page of addresses, newest first.
func (rc *ReservationCoordinator) List(ctx context.Context, filter interfaces.ListFilter) (*interfaces.AddressPage, error) {
	return rc.repository.List(ctx, filter)
}

// UpdateNotes sets the operator annotation on an address.
func (rc *ReservationCoordinator) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	err := rc.repository.UpdateNotes(ctx, id, notes)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.KindNotFound, "address not found")
	}
	return err
}

// Delete removes an address from the pool. Reserved addresses are refused.
func (rc *ReservationCoordinator) Delete(ctx context.Context, id uuid.UUID) error {
	err := rc.repository.Delete(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.KindNotFound, "address not found")
	}
	if err != nil {
		return err
	}
	rc.invalidateStats(ctx)
	return nil
}

func (rc *ReservationCoordinator) invalidateStats(ctx context.Context) {
	if rc.cache == nil {
		return
	}
	if err := rc.cache.InvalidateStats(ctx); err != nil {
		rc.logger.Warn("failed to invalidate stats cache", zap.Error(err))
	}
}

func (rc *ReservationCoordinator) publish(ctx context.Context, eventType string, addr *interfaces.Address, actor interfaces.Actor, metadata map[string]any) {
	if rc.publisher == nil {
		return
	}
	event := &interfaces.PoolEvent{
		ID:        uuid.New(),
		Type:      eventType,
		AddressID: addr.ID,
		Address:   addr.Address,
		Actor:     actor,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	if err := rc.publisher.PublishPoolEvent(ctx, event); err != nil {
		rc.logger.Warn("failed to publish pool event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
