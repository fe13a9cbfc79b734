package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/pkg/errors"
	"github.com/coinharbor/addrpool/pkg/metrics"
)

// DepositTaskBinder couples a deposit task's outcome to the terminal fate of
// its bound address. Binding removes the address from sweeper eligibility;
// approval consumes it, rejection returns it to the pool.
type DepositTaskBinder struct {
	repository interfaces.PoolRepository
	cache      interfaces.PoolCache
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
}

// NewDepositTaskBinder creates a new deposit task binder
func NewDepositTaskBinder(
	repository interfaces.PoolRepository,
	cache interfaces.PoolCache,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
) *DepositTaskBinder {
	return &DepositTaskBinder{
		repository: repository,
		cache:      cache,
		publisher:  publisher,
		logger:     logger,
	}
}

// Bind links a deposit task to its reserved address. The address stays
// RESERVED; only its sweep eligibility changes.
func (b *DepositTaskBinder) Bind(ctx context.Context, addressID, taskID uuid.UUID) error {
	err := b.repository.BindTask(ctx, addressID, taskID)
	if errors.Is(err, errors.ErrConcurrentModification) {
		addr, lookupErr := b.repository.GetByID(ctx, addressID)
		if lookupErr != nil {
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return errors.ErrReservationNotFound
			}
			return fmt.Errorf("failed to load address for binding: %w", lookupErr)
		}
		if addr.Status == interfaces.StatusUsed {
			return errors.ErrAlreadyUsed
		}
		if addr.Status == interfaces.StatusAvailable {
			// Reservation expired before the task arrived.
			return errors.ErrReservationNotFound
		}
		// Reserved but already bound to another task.
		return errors.New(errors.KindInvalidTransition, "address already bound to a deposit task")
	}
	if err != nil {
		return fmt.Errorf("failed to bind task to address: %w", err)
	}

	b.logger.Info("bound deposit task to address",
		zap.String("address_id", addressID.String()),
		zap.String("task_id", taskID.String()),
	)
	return nil
}

// OnTaskCompleted consumes the address bound to an approved deposit task,
// transitioning it RESERVED -> USED. A task without a bound address is a
// no-op.
func (b *DepositTaskBinder) OnTaskCompleted(ctx context.Context, taskID, userID uuid.UUID) error {
	addr, err := b.repository.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load bound address: %w", err)
	}

	err = b.repository.MarkUsed(ctx, addr.ID, userID, time.Now().UTC())
	if errors.Is(err, errors.ErrConcurrentModification) {
		// The address left RESERVED concurrently. USED is terminal, so a
		// repeated approval converges; anything else is a real conflict.
		current, lookupErr := b.repository.GetByID(ctx, addr.ID)
		if lookupErr != nil {
			return fmt.Errorf("failed to reload address: %w", lookupErr)
		}
		if current.Status == interfaces.StatusUsed {
			return nil
		}
		return errors.ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("failed to mark address used: %w", err)
	}

	b.logger.Info("address consumed by completed deposit",
		zap.String("address_id", addr.ID.String()),
		zap.String("task_id", taskID.String()),
		zap.String("used_by", userID.String()),
	)
	metrics.AddressesUsedTotal.Inc()
	b.invalidateStats(ctx)
	b.publish(ctx, interfaces.EventAddressUsed, addr, interfaces.ActorSystem, map[string]any{
		"task_id": taskID.String(),
		"user_id": userID.String(),
	})
	return nil
}

// OnTaskRejected releases the address bound to a rejected deposit task back
// to the pool. A task without a bound address is a no-op.
func (b *DepositTaskBinder) OnTaskRejected(ctx context.Context, taskID uuid.UUID) error {
	addr, err := b.repository.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load bound address: %w", err)
	}

	ok, err := b.repository.Release(ctx, addr.ID)
	if err != nil {
		return fmt.Errorf("failed to release address: %w", err)
	}
	if !ok {
		b.logger.Debug("bound address already transitioned before rejection release",
			zap.String("address_id", addr.ID.String()),
			zap.String("task_id", taskID.String()),
		)
		return nil
	}

	b.logger.Info("released address after deposit rejection",
		zap.String("address_id", addr.ID.String()),
		zap.String("task_id", taskID.String()),
	)
	metrics.ReleasesTotal.WithLabelValues(string(interfaces.ActorSystem)).Inc()
	b.invalidateStats(ctx)
	b.publish(ctx, interfaces.EventAddressReleased, addr, interfaces.ActorSystem, map[string]any{
		"task_id": taskID.String(),
		"reason":  "task_rejected",
	})
	return nil
}

func (b *DepositTaskBinder) invalidateStats(ctx context.Context) {
	if b.cache == nil {
		return
	}
	if err := b.cache.InvalidateStats(ctx); err != nil {
		b.logger.Warn("failed to invalidate stats cache", zap.Error(err))
	}
}

func (b *DepositTaskBinder) publish(ctx context.Context, eventType string, addr *interfaces.Address, actor interfaces.Actor, metadata map[string]any) {
	if b.publisher == nil {
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
	if err := b.publisher.PublishPoolEvent(ctx, event); err != nil {
		b.logger.Warn("failed to publish pool event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
