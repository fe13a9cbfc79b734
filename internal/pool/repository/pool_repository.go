// Package repository provides the data access layer for the address pool.
package repository

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/pkg/errors"
)

// PoolRepository implements interfaces.PoolRepository on gorm. Status
// transitions are single UPDATE statements guarded by the expected source
// status, so two racing actors can never both win the same transition.
type PoolRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *gorm.DB, logger *zap.Logger) *PoolRepository {
	return &PoolRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a single address
func (pr *PoolRepository) Create(ctx context.Context, addr *interfaces.Address) error {
	return pr.db.WithContext(ctx).Create(addr).Error
}

// CreateBatch inserts a batch of addresses
func (pr *PoolRepository) CreateBatch(ctx context.Context, addrs []*interfaces.Address) error {
	if len(addrs) == 0 {
		return nil
	}
	return pr.db.WithContext(ctx).Create(addrs).Error
}

// GetByID retrieves an address by id
func (pr *PoolRepository) GetByID(ctx context.Context, id uuid.UUID) (*interfaces.Address, error) {
	var addr interfaces.Address
	err := pr.db.WithContext(ctx).Where("id = ?", id).First(&addr).Error
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// GetByValue retrieves an address by its blockchain address string
func (pr *PoolRepository) GetByValue(ctx context.Context, address string) (*interfaces.Address, error) {
	var addr interfaces.Address
	err := pr.db.WithContext(ctx).Where("address = ?", address).First(&addr).Error
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// GetByTaskID retrieves the address bound to a deposit task
func (pr *PoolRepository) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*interfaces.Address, error) {
	var addr interfaces.Address
	err := pr.db.WithContext(ctx).Where("task_id = ?", taskID).First(&addr).Error
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// ExistingValues returns which of the given address strings already exist in
// the pool.
func (pr *PoolRepository) ExistingValues(ctx context.Context, values []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(values))
	if len(values) == 0 {
		return existing, nil
	}
	var found []string
	err := pr.db.WithContext(ctx).
		Model(&interfaces.Address{}).
		Where("address IN ?", values).
		Pluck("address", &found).Error
	if err != nil {
		return nil, err
	}
	for _, v := range found {
		existing[v] = true
	}
	return existing, nil
}

// FindAvailable returns up to limit available addresses, oldest first so the
// pool cycles through its inventory evenly.
func (pr *PoolRepository) FindAvailable(ctx context.Context, limit int) ([]*interfaces.Address, error) {
	var addrs []*interfaces.Address
	err := pr.db.WithContext(ctx).
		Where("status = ?", interfaces.StatusAvailable).
		Order("created_at ASC").
		Limit(limit).
		Find(&addrs).Error
	return addrs, err
}

// Reserve transitions an address AVAILABLE -> RESERVED. Returns
// ErrConcurrentModification when the address was no longer available.
func (pr *PoolRepository) Reserve(ctx context.Context, id, userID uuid.UUID, amount decimal.Decimal, reservedAt, expiresAt time.Time) error {
	res := pr.db.WithContext(ctx).
		Model(&interfaces.Address{}).
		Where("id = ? AND status = ?", id, interfaces.StatusAvailable).
		Updates(map[string]interface{}{
			"status":           interfaces.StatusReserved,
			"reserved_by":      userID,
			"reserved_at":      reservedAt,
			"expires_at":       expiresAt,
			"requested_amount": amount,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrConcurrentModification
	}
	return nil
}

// Release transitions an address RESERVED -> AVAILABLE, clearing every
// reservation field including the task binding. ok is false when the row was
// not reserved anymore; the caller decides whether that is an error.
func (pr *PoolRepository) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	res := pr.db.WithContext(ctx).
		Model(&interfaces.Address{}).
		Where("id = ? AND status = ?", id, interfaces.StatusReserved).
		Updates(map[string]interface{}{
			"status":           interfaces.StatusAvailable,
			"reserved_by":      nil,
			"reserved_at":      nil,
			"expires_at":       nil,
			"requested_amount": nil,
			"task_id":          nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseExpired transitions an address RESERVED -> AVAILABLE only while it
// is still unbound and past its TTL. The binding check re-runs inside the
// UPDATE guard so a task bound after the sweeper's candidate scan keeps its
// address.
func (pr *PoolRepository) ReleaseExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := pr.db.WithContext(ctx).
		Model(&interfaces.Address{}).
		Where("id = ? AND status = ? AND task_id IS NULL AND expires_at <= ?",
			id, interfaces.StatusReserved, now).
		Updates(map[string]interface{}{
			"status":           interfaces.StatusAvailable,
			"reserved_by":      nil,
			"reserved_at":      nil,
			"expires_at":       nil,
			"requested_amount": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkUsed transitions an address RESERVED -> USED. USED is terminal.
func (pr *PoolRepository) MarkUsed(ctx context.Context, id, usedBy uuid.UUID, usedAt time.Time) error {
	res := pr.db.WithContext(ctx).
		Model(&interfaces.Address{}).
		Where("id = ? AND status = ?", id, interfaces.StatusReserved).
		Updates(map[string]interface{}{
			"status":  interfaces.StatusUsed,
			"used_at": usedAt,
			"used_by": usedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrConcurrentModification
	}
	return nil
}

// BindTask attaches a deposit task to a reserved, unbound address. A bound
// address is no longer eligible for the expiration sweep.
func (pr *PoolRepository) BindTask(ctx context.Context, id, taskID uuid.UUID) error {
	res := pr.db.WithContext(ctx).
		Model(&interfaces.Address{}).
		Where("id = ? AND status = ? AND task_id IS NULL", id, interfaces.StatusReserved).
		Update("task_id", taskID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrConcurrentModification
	}
	return nil
}

// ExpiredReservations returns reserved addresses whose TTL elapsed without a
// bound deposit task.
func (pr *PoolRepository) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*interfaces.Address, error) {
	var addrs []*interfaces.Address
	err := pr.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ? AND task_id IS NULL", interfaces.StatusReserved, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&addrs).Error
	return addrs, err
}

// List returns one page of addresses, newest first, optionally filtered by
// status.
func (pr *PoolRepository) List(ctx context.Context, filter interfaces.ListFilter) (*interfaces.AddressPage, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	query := pr.db.WithContext(ctx).Model(&interfaces.Address{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var addrs []*interfaces.Address
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&addrs).Error
	if err != nil {
		return nil, err
	}

	return &interfaces.AddressPage{
		Addresses:  addrs,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}, nil
}

// Stats returns the aggregate pool counts. PercentageAvailable is 0 on an
// empty pool.
func (pr *PoolRepository) Stats(ctx context.Context) (*interfaces.PoolStats, error) {
	type statusCount struct {
		Status interfaces.AddressStatus
		Count  int64
	}
	var counts []statusCount
	err := pr.db.WithContext(ctx).
		Model(&interfaces.Address{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	stats := &interfaces.PoolStats{}
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Status {
		case interfaces.StatusAvailable:
			stats.Available = c.Count
		case interfaces.StatusReserved:
			stats.Reserved = c.Count
		case interfaces.StatusUsed:
			stats.Used = c.Count
		}
	}
	if stats.Total > 0 {
		stats.PercentageAvailable = float64(stats.Available) / float64(stats.Total) * 100
	}
	return stats, nil
}

// UpdateNotes sets the operator annotation. Notes never affect state
// transitions, so no status guard applies.
func (pr *PoolRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	res := pr.db.WithContext(ctx).
		Model(&interfaces.Address{}).
		Where("id = ?", id).
		Update("admin_notes", notes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes an address unless it is reserved mid-use.
func (pr *PoolRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := pr.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, interfaces.StatusReserved).
		Delete(&interfaces.Address{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either missing or reserved; distinguish for the caller.
		var addr interfaces.Address
		err := pr.db.WithContext(ctx).Where("id = ?", id).First(&addr).Error
		if err != nil {
			return err
		}
		return errors.ErrAddressReserved
	}
	return nil
}
