package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/pkg/errors"
)

func newBinder(repo interfaces.PoolRepository) *DepositTaskBinder {
	return NewDepositTaskBinder(repo, nil, nil, zap.NewNop())
}

func reserveOne(t *testing.T, repo interfaces.PoolRepository) *interfaces.Address {
	t.Helper()
	addrs := seedAvailable(t, repo, 1)
	now := time.Now().UTC()
	require.NoError(t, repo.Reserve(context.Background(), addrs[0].ID, uuid.New(), decimal.NewFromInt(100), now, now.Add(24*time.Hour)))
	return addrs[0]
}

func TestBindSetsTaskOnReservedAddress(t *testing.T) {
	repo := setupRepo(t)
	addr := reserveOne(t, repo)
	b := newBinder(repo)
	ctx := context.Background()

	taskID := uuid.New()
	require.NoError(t, b.Bind(ctx, addr.ID, taskID))

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReserved, got.Status)
	require.NotNil(t, got.TaskID)
	assert.Equal(t, taskID, *got.TaskID)
	assert.True(t, got.Bound())
}

func TestBindFailuresMapToCurrentState(t *testing.T) {
	repo := setupRepo(t)
	b := newBinder(repo)
	ctx := context.Background()

	// Unknown address.
	err := b.Bind(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrReservationNotFound)

	// Available address: the reservation expired before the task arrived.
	free := seedAvailable(t, repo, 1)[0]
	err = b.Bind(ctx, free.ID, uuid.New())
	assert.ErrorIs(t, err, errors.ErrReservationNotFound)

	// Used address.
	used := reserveOne(t, repo)
	require.NoError(t, repo.MarkUsed(ctx, used.ID, uuid.New(), time.Now().UTC()))
	err = b.Bind(ctx, used.ID, uuid.New())
	assert.ErrorIs(t, err, errors.ErrAlreadyUsed)

	// Already bound to another task.
	bound := reserveOne(t, repo)
	require.NoError(t, b.Bind(ctx, bound.ID, uuid.New()))
	err = b.Bind(ctx, bound.ID, uuid.New())
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestOnTaskCompletedConsumesBoundAddress(t *testing.T) {
	repo := setupRepo(t)
	addr := reserveOne(t, repo)
	b := newBinder(repo)
	ctx := context.Background()

	taskID := uuid.New()
	userID := uuid.New()
	require.NoError(t, b.Bind(ctx, addr.ID, taskID))

	require.NoError(t, b.OnTaskCompleted(ctx, taskID, userID))

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusUsed, got.Status)
	require.NotNil(t, got.UsedBy)
	assert.Equal(t, userID, *got.UsedBy)

	// Repeated approval converges on the terminal state.
	require.NoError(t, b.OnTaskCompleted(ctx, taskID, userID))
}

func TestOnTaskCompletedWithoutBoundAddress(t *testing.T) {
	b := newBinder(setupRepo(t))
	assert.NoError(t, b.OnTaskCompleted(context.Background(), uuid.New(), uuid.New()))
}

func TestOnTaskRejectedReleasesBoundAddress(t *testing.T) {
	repo := setupRepo(t)
	addr := reserveOne(t, repo)
	b := newBinder(repo)
	ctx := context.Background()

	taskID := uuid.New()
	require.NoError(t, b.Bind(ctx, addr.ID, taskID))

	require.NoError(t, b.OnTaskRejected(ctx, taskID))

	got, err := repo.GetByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusAvailable, got.Status)
	assert.Nil(t, got.TaskID)

	// The binding was cleared with the release, so a retry is a no-op.
	require.NoError(t, b.OnTaskRejected(ctx, taskID))
}
