package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/internal/pool/repository"
	"github.com/coinharbor/addrpool/internal/pool/services"
	"github.com/coinharbor/addrpool/pkg/errors"
)

func setupService(t *testing.T) (*Service, *repository.PoolRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&interfaces.Address{}, &DepositTask{}))

	repo := repository.NewPoolRepository(db, zap.NewNop())
	binder := services.NewDepositTaskBinder(repo, nil, nil, zap.NewNop())
	return NewService(db, binder, zap.NewNop()), repo
}

func reserveAddress(t *testing.T, repo *repository.PoolRepository, userID uuid.UUID) *interfaces.Address {
	t.Helper()
	ctx := context.Background()
	addr := &interfaces.Address{
		ID:      uuid.New(),
		Address: "addr-" + uuid.NewString(),
		Status:  interfaces.StatusAvailable,
	}
	require.NoError(t, repo.Create(ctx, addr))
	now := time.Now().UTC()
	require.NoError(t, repo.Reserve(ctx, addr.ID, userID, decimal.NewFromInt(100), now, now.Add(24*time.Hour)))
	return addr
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from  Status
		to    Status
		valid bool
	}{
		{StatusPending, StatusPreApproved, true},
		{StatusPending, StatusPreRejected, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusRejected, false},
		{StatusPreApproved, StatusCompleted, true},
		{StatusPreApproved, StatusRejected, true},
		{StatusPreRejected, StatusRejected, true},
		// A final reviewer may overturn the pre-decision.
		{StatusPreRejected, StatusCompleted, true},
		{StatusCompleted, StatusRejected, false},
		{StatusRejected, StatusCompleted, false},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.valid, IsValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func TestCreateRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Create(context.Background(), uuid.New(), decimal.Zero, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestCreateWithoutAddress(t *testing.T) {
	svc, _ := setupService(t)

	created, err := svc.Create(context.Background(), uuid.New(), decimal.NewFromInt(100), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.Nil(t, created.ReservedAddressID)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreateBindsReservedAddress(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	userID := uuid.New()
	addr := reserveAddress(t, repo, userID)

	created, err := svc.Create(ctx, userID, decimal.NewFromInt(100), &addr.ID)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReserved, got.Status)
	require.NotNil(t, got.TaskID)
	assert.Equal(t, created.ID, *got.TaskID)
}

func TestCreateWithUnreservedAddressFails(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	addr := &interfaces.Address{ID: uuid.New(), Address: "addr-free", Status: interfaces.StatusAvailable}
	require.NoError(t, repo.Create(ctx, addr))

	_, err := svc.Create(ctx, uuid.New(), decimal.NewFromInt(100), &addr.ID)
	assert.ErrorIs(t, err, errors.ErrReservationNotFound)

	// The failed bind must not leave a task row behind.
	var count int64
	require.NoError(t, svc.db.Model(&DepositTask{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateInsertFailureLeavesAddressUnbound(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	// deposit_tasks deliberately not migrated so the task insert fails.
	require.NoError(t, db.AutoMigrate(&interfaces.Address{}))

	repo := repository.NewPoolRepository(db, zap.NewNop())
	binder := services.NewDepositTaskBinder(repo, nil, nil, zap.NewNop())
	svc := NewService(db, binder, zap.NewNop())
	ctx := context.Background()

	userID := uuid.New()
	addr := reserveAddress(t, repo, userID)

	_, err = svc.Create(ctx, userID, decimal.NewFromInt(100), &addr.ID)
	require.Error(t, err)

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReserved, got.Status)
	assert.Nil(t, got.TaskID)
}

func TestReviewApprovalConsumesAddress(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	userID := uuid.New()
	addr := reserveAddress(t, repo, userID)
	created, err := svc.Create(ctx, userID, decimal.NewFromInt(100), &addr.ID)
	require.NoError(t, err)

	reviewer := uuid.New()
	_, err = svc.Review(ctx, created.ID, reviewer, StatusPreApproved)
	require.NoError(t, err)

	final, err := svc.Review(ctx, created.ID, reviewer, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, final.ReviewedBy)
	assert.Equal(t, reviewer, *final.ReviewedBy)

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusUsed, got.Status)
	require.NotNil(t, got.UsedBy)
	assert.Equal(t, userID, *got.UsedBy)
}

func TestReviewRejectionReleasesAddress(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	userID := uuid.New()
	addr := reserveAddress(t, repo, userID)
	created, err := svc.Create(ctx, userID, decimal.NewFromInt(100), &addr.ID)
	require.NoError(t, err)

	reviewer := uuid.New()
	_, err = svc.Review(ctx, created.ID, reviewer, StatusPreRejected)
	require.NoError(t, err)
	_, err = svc.Review(ctx, created.ID, reviewer, StatusRejected)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusAvailable, got.Status)
	assert.Nil(t, got.TaskID)
}

func TestReviewOverturnedPreRejection(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	userID := uuid.New()
	addr := reserveAddress(t, repo, userID)
	created, err := svc.Create(ctx, userID, decimal.NewFromInt(100), &addr.ID)
	require.NoError(t, err)

	reviewer := uuid.New()
	_, err = svc.Review(ctx, created.ID, reviewer, StatusPreRejected)
	require.NoError(t, err)
	_, err = svc.Review(ctx, created.ID, reviewer, StatusCompleted)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusUsed, got.Status)
}

// flakyBinder fails terminal actions on demand while delegating everything
// else to the real binder.
type flakyBinder struct {
	interfaces.TaskBinder
	fail bool
}

func (b *flakyBinder) OnTaskCompleted(ctx context.Context, taskID, userID uuid.UUID) error {
	if b.fail {
		return fmt.Errorf("storage unavailable")
	}
	return b.TaskBinder.OnTaskCompleted(ctx, taskID, userID)
}

func TestReviewBinderFailureKeepsTaskReviewable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&interfaces.Address{}, &DepositTask{}))

	repo := repository.NewPoolRepository(db, zap.NewNop())
	binder := &flakyBinder{TaskBinder: services.NewDepositTaskBinder(repo, nil, nil, zap.NewNop())}
	svc := NewService(db, binder, zap.NewNop())
	ctx := context.Background()

	userID := uuid.New()
	addr := reserveAddress(t, repo, userID)
	created, err := svc.Create(ctx, userID, decimal.NewFromInt(100), &addr.ID)
	require.NoError(t, err)

	reviewer := uuid.New()
	_, err = svc.Review(ctx, created.ID, reviewer, StatusPreApproved)
	require.NoError(t, err)

	binder.fail = true
	_, err = svc.Review(ctx, created.ID, reviewer, StatusCompleted)
	require.Error(t, err)

	// The task stays reviewable and the address untouched.
	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPreApproved, got.Status)

	boundAddr, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReserved, boundAddr.Status)
	require.NotNil(t, boundAddr.TaskID)

	// A retry once the binder recovers completes normally.
	binder.fail = false
	final, err := svc.Review(ctx, created.ID, reviewer, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)

	usedAddr, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusUsed, usedAddr.Status)
}

func TestReviewInvalidTransition(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, uuid.New(), decimal.NewFromInt(100), nil)
	require.NoError(t, err)

	_, err = svc.Review(ctx, created.ID, uuid.New(), StatusCompleted)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestReviewUnknownTask(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Review(context.Background(), uuid.New(), uuid.New(), StatusPreApproved)
	assert.Error(t, err)
	assert.Equal(t, 404, errors.HTTPStatus(err))
}
