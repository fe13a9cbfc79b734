package pool

import (
	"context"
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

	"github.com/coinharbor/addrpool/internal/config"
	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/internal/pool/repository"
)

func setupSweeper(t *testing.T) (*ExpirationSweeper, *repository.PoolRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&interfaces.Address{}))

	repo := repository.NewPoolRepository(db, zap.NewNop())
	sweeper := NewExpirationSweeper(repo, nil, nil, zap.NewNop(), config.PoolConfig{
		SweepInterval: time.Minute,
	})
	return sweeper, repo
}

func seedReserved(t *testing.T, repo *repository.PoolRepository, expiresAt time.Time, taskID *uuid.UUID) *interfaces.Address {
	t.Helper()
	ctx := context.Background()
	addr := &interfaces.Address{
		ID:      uuid.New(),
		Address: "addr-" + uuid.NewString(),
		Status:  interfaces.StatusAvailable,
	}
	require.NoError(t, repo.Create(ctx, addr))
	require.NoError(t, repo.Reserve(ctx, addr.ID, uuid.New(), decimal.NewFromInt(100), expiresAt.Add(-24*time.Hour), expiresAt))
	if taskID != nil {
		require.NoError(t, repo.BindTask(ctx, addr.ID, *taskID))
	}
	return addr
}

func TestSweepReclaimsExpiredUnboundOnly(t *testing.T) {
	sweeper, repo := setupSweeper(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := seedReserved(t, repo, now.Add(-time.Hour), nil)
	taskID := uuid.New()
	bound := seedReserved(t, repo, now.Add(-time.Hour), &taskID)
	fresh := seedReserved(t, repo, now.Add(23*time.Hour), nil)

	reclaimed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	got, err := repo.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusAvailable, got.Status)
	assert.Nil(t, got.ExpiresAt)

	// Bound reservation outlives its TTL untouched.
	got, err = repo.GetByID(ctx, bound.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReserved, got.Status)
	require.NotNil(t, got.TaskID)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReserved, got.Status)
}

// bindAfterScanRepo binds a task to the first candidate after the sweeper's
// scan returns, reproducing a task creation landing mid-pass.
type bindAfterScanRepo struct {
	*repository.PoolRepository
	taskID uuid.UUID
}

func (r *bindAfterScanRepo) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*interfaces.Address, error) {
	addrs, err := r.PoolRepository.ExpiredReservations(ctx, now, limit)
	if err != nil || len(addrs) == 0 {
		return addrs, err
	}
	if err := r.BindTask(ctx, addrs[0].ID, r.taskID); err != nil {
		return nil, err
	}
	return addrs, nil
}

func TestSweepLosesRaceToLateBinding(t *testing.T) {
	sweeper, repo := setupSweeper(t)
	ctx := context.Background()

	addr := seedReserved(t, repo, time.Now().UTC().Add(-time.Hour), nil)

	taskID := uuid.New()
	racing := &bindAfterScanRepo{PoolRepository: repo, taskID: taskID}
	sweeper.repository = racing

	reclaimed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReserved, got.Status)
	require.NotNil(t, got.TaskID)
	assert.Equal(t, taskID, *got.TaskID)
}

func TestSweepEmptyPool(t *testing.T) {
	sweeper, _ := setupSweeper(t)

	reclaimed, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}

func TestSweepSecondPassFindsNothing(t *testing.T) {
	sweeper, repo := setupSweeper(t)
	ctx := context.Background()

	seedReserved(t, repo, time.Now().UTC().Add(-time.Minute), nil)

	reclaimed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)

	reclaimed, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}

func TestSweepSkipsUsedAddresses(t *testing.T) {
	sweeper, repo := setupSweeper(t)
	ctx := context.Background()

	addr := seedReserved(t, repo, time.Now().UTC().Add(-time.Hour), nil)
	require.NoError(t, repo.MarkUsed(ctx, addr.ID, uuid.New(), time.Now().UTC()))

	reclaimed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusUsed, got.Status)
}
