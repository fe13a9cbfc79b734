package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PoolRepository is the data access contract for pool addresses. All status
// transitions are compare-and-swap: they succeed only when the row is still
// in the expected source state, and report ErrConcurrentModification (or a
// false ok) when another actor won the race.
type PoolRepository interface {
	Create(ctx context.Context, addr *Address) error
	CreateBatch(ctx context.Context, addrs []*Address) error
	GetByID(ctx context.Context, id uuid.UUID) (*Address, error)
	GetByValue(ctx context.Context, address string) (*Address, error)
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*Address, error)
	ExistingValues(ctx context.Context, values []string) (map[string]bool, error)

	// FindAvailable returns up to limit AVAILABLE candidates.
	FindAvailable(ctx context.Context, limit int) ([]*Address, error)

	// Reserve transitions AVAILABLE -> RESERVED.
	Reserve(ctx context.Context, id, userID uuid.UUID, amount decimal.Decimal, reservedAt, expiresAt time.Time) error
	// Release transitions RESERVED -> AVAILABLE clearing all reservation
	// fields. ok is false when the row was not RESERVED anymore.
	Release(ctx context.Context, id uuid.UUID) (ok bool, err error)
	// ReleaseExpired is the sweeper's transition: it wins only while the row
	// is still RESERVED, unbound and past its TTL, so a task bound after the
	// candidate scan keeps its address.
	ReleaseExpired(ctx context.Context, id uuid.UUID, now time.Time) (ok bool, err error)
	// MarkUsed transitions RESERVED -> USED.
	MarkUsed(ctx context.Context, id, usedBy uuid.UUID, usedAt time.Time) error
	// BindTask attaches a deposit task to a RESERVED, unbound address.
	BindTask(ctx context.Context, id, taskID uuid.UUID) error

	// ExpiredReservations returns RESERVED addresses past their TTL with no
	// bound task.
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*Address, error)

	List(ctx context.Context, filter ListFilter) (*AddressPage, error)
	Stats(ctx context.Context) (*PoolStats, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Coordinator serializes concurrent reservation attempts so no two callers
// are ever handed the same address.
type Coordinator interface {
	Reserve(ctx context.Context, userID uuid.UUID, amountUSD decimal.Decimal) (*Reservation, error)
	Release(ctx context.Context, reservationID uuid.UUID, actor Actor) error
	Get(ctx context.Context, id uuid.UUID) (*Address, error)
	Stats(ctx context.Context) (*PoolStats, error)
	List(ctx context.Context, filter ListFilter) (*AddressPage, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TaskBinder couples a deposit task's outcome to its bound address.
type TaskBinder interface {
	// Bind links a task to its reserved address at task creation time. The
	// address stays RESERVED but leaves sweeper eligibility.
	Bind(ctx context.Context, addressID, taskID uuid.UUID) error
	// OnTaskCompleted consumes the bound address (RESERVED -> USED).
	OnTaskCompleted(ctx context.Context, taskID, userID uuid.UUID) error
	// OnTaskRejected releases the bound address back to AVAILABLE.
	OnTaskRejected(ctx context.Context, taskID uuid.UUID) error
}

// Importer ingests bulk address uploads.
type Importer interface {
	Import(ctx context.Context, addresses []string) (*BulkUploadResult, error)
}

// PoolCache caches derived read views. Implementations must treat the cache
// as advisory; a miss or error falls through to the repository.
type PoolCache interface {
	GetStats(ctx context.Context) (*PoolStats, error)
	SetStats(ctx context.Context, stats *PoolStats, ttl time.Duration) error
	InvalidateStats(ctx context.Context) error
}

// EventPublisher publishes lifecycle events. Publish failures are logged by
// implementations and never fail the triggering operation.
type EventPublisher interface {
	PublishPoolEvent(ctx context.Context, event *PoolEvent) error
}
