package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/pkg/errors"
)

// Service manages deposit tasks and forwards terminal outcomes to the pool's
// task binder.
type Service struct {
	db     *gorm.DB
	binder interfaces.TaskBinder
	logger *zap.Logger
}

// NewService creates a new deposit task service
func NewService(db *gorm.DB, binder interfaces.TaskBinder, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		binder: binder,
		logger: logger,
	}
}

// Create records a new deposit task. When the task references a reserved
// address it is bound immediately, which exempts that address from the
// expiration sweep; the address status itself does not change.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, amountUSD decimal.Decimal, reservedAddressID *uuid.UUID) (*DepositTask, error) {
	if amountUSD.Sign() <= 0 {
		return nil, errors.ErrInvalidAmount
	}

	now := time.Now().UTC()
	t := &DepositTask{
		ID:                uuid.New(),
		UserID:            userID,
		AmountUSD:         amountUSD,
		Status:            StatusPending,
		ReservedAddressID: reservedAddressID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("failed to create deposit task: %w", err)
	}

	// Bind only once the task row exists; a bind on behalf of a task that was
	// never persisted would exempt the address from the sweep forever.
	if reservedAddressID != nil {
		if err := s.binder.Bind(ctx, *reservedAddressID, t.ID); err != nil {
			if delErr := s.db.WithContext(ctx).Delete(&DepositTask{}, "id = ?", t.ID).Error; delErr != nil {
				s.logger.Error("failed to remove task after bind failure",
					zap.String("task_id", t.ID.String()),
					zap.Error(delErr),
				)
			}
			return nil, err
		}
	}

	s.logger.Info("created deposit task",
		zap.String("task_id", t.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("amount_usd", amountUSD.String()),
		zap.Bool("bound_address", reservedAddressID != nil),
	)
	return t, nil
}

// Get retrieves a task by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*DepositTask, error) {
	var t DepositTask
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.KindNotFound, "deposit task not found")
		}
		return nil, err
	}
	return &t, nil
}

// Review moves a task along its lifecycle. Reaching COMPLETED consumes the
// bound address; reaching REJECTED releases it back to the pool.
func (s *Service) Review(ctx context.Context, taskID, reviewerID uuid.UUID, decision Status) (*DepositTask, error) {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !IsValidTransition(t.Status, decision) {
		return nil, errors.Newf(errors.KindInvalidTransition,
			"cannot transition task from %s to %s", t.Status, decision)
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&DepositTask{}).
		Where("id = ? AND status = ?", taskID, t.Status).
		Updates(map[string]interface{}{
			"status":      decision,
			"reviewed_by": reviewerID,
			"reviewed_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update task status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errors.ErrConcurrentModification
	}

	var bindErr error
	switch decision {
	case StatusCompleted:
		if err := s.binder.OnTaskCompleted(ctx, taskID, t.UserID); err != nil {
			bindErr = fmt.Errorf("task completed but address consumption failed: %w", err)
		}
	case StatusRejected:
		if err := s.binder.OnTaskRejected(ctx, taskID); err != nil {
			bindErr = fmt.Errorf("task rejected but address release failed: %w", err)
		}
	}
	if bindErr != nil {
		// The binder's transition is one guarded UPDATE: on failure nothing
		// was written, so putting the task back makes the review retryable
		// instead of stranding a bound address behind a terminal status.
		s.revertReview(ctx, t, decision)
		return nil, bindErr
	}

	t.Status = decision
	t.ReviewedBy = &reviewerID
	t.ReviewedAt = &now

	s.logger.Info("reviewed deposit task",
		zap.String("task_id", taskID.String()),
		zap.String("reviewer_id", reviewerID.String()),
		zap.String("decision", string(decision)),
	)
	return t, nil
}

func (s *Service) revertReview(ctx context.Context, t *DepositTask, decision Status) {
	res := s.db.WithContext(ctx).
		Model(&DepositTask{}).
		Where("id = ? AND status = ?", t.ID, decision).
		Updates(map[string]interface{}{
			"status":      t.Status,
			"reviewed_by": t.ReviewedBy,
			"reviewed_at": t.ReviewedAt,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		s.logger.Error("failed to revert task review after binder failure",
			zap.String("task_id", t.ID.String()),
			zap.String("decision", string(decision)),
			zap.Error(res.Error),
		)
	}
}
