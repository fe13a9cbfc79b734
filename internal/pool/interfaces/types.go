// Package interfaces defines the shared types and service contracts of the
// deposit-address pool.
package interfaces

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AddressStatus is the closed set of pool address states.
type AddressStatus string

const (
	StatusAvailable AddressStatus = "available"
	StatusReserved  AddressStatus = "reserved"
	StatusUsed      AddressStatus = "used"
)

// Actor identifies who triggered a release, for audit purposes only. A
// system-triggered release and a manual one produce the same resulting state.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorAdmin  Actor = "admin"
	ActorSystem Actor = "system"
)

// Valid reports whether the actor is one of the known values.
func (a Actor) Valid() bool {
	switch a {
	case ActorUser, ActorAdmin, ActorSystem:
		return true
	}
	return false
}

// Address is a single-use BTC deposit address. The reservation fields
// (ReservedBy, ReservedAt, ExpiresAt, RequestedAmount) are set and cleared as
// a unit; only the repository transition methods mutate Status.
type Address struct {
	ID              uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	Address         string           `json:"address" gorm:"size:100;uniqueIndex"`
	Status          AddressStatus    `json:"status" gorm:"size:16;index;default:available"`
	ReservedBy      *uuid.UUID       `json:"reserved_by,omitempty" gorm:"type:uuid"`
	ReservedAt      *time.Time       `json:"reserved_at,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty" gorm:"index"`
	RequestedAmount *decimal.Decimal `json:"requested_amount,omitempty" gorm:"type:decimal(18,2)"`
	TaskID          *uuid.UUID       `json:"task_id,omitempty" gorm:"type:uuid;index"`
	UsedAt          *time.Time       `json:"used_at,omitempty"`
	UsedBy          *uuid.UUID       `json:"used_by,omitempty" gorm:"type:uuid"`
	AdminNotes      string           `json:"admin_notes,omitempty" gorm:"type:text"`
	CreatedAt       time.Time        `json:"created_at" gorm:"index"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// TableName sets the table name for gorm
func (Address) TableName() string {
	return "pool_addresses"
}

// Bound reports whether a deposit task references this address. Bound
// addresses are exempt from the expiration sweep.
func (a *Address) Bound() bool {
	return a.TaskID != nil
}

// Reservation is the caller-visible view returned by a successful reserve.
// The reservation key is the address id.
type Reservation struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	Address       string          `json:"address"`
	ReservedAt    time.Time       `json:"reserved_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Amount        decimal.Decimal `json:"requested_amount"`
}

// PoolStats is the operator-facing aggregate view.
type PoolStats struct {
	Total               int64   `json:"total"`
	Available           int64   `json:"available"`
	Reserved            int64   `json:"reserved"`
	Used                int64   `json:"used"`
	PercentageAvailable float64 `json:"percentage_available"`
}

// ListFilter selects a page of addresses, optionally by status.
type ListFilter struct {
	Page   int
	Limit  int
	Status AddressStatus // empty means all
}

// AddressPage is one page of the listing surface, newest first.
type AddressPage struct {
	Addresses  []*Address `json:"addresses"`
	TotalPages int        `json:"total_pages"`
	Total      int64      `json:"total"`
}

// BulkUploadResult reports per-line outcomes of a bulk ingestion. Invalid and
// duplicate lines never abort the batch.
type BulkUploadResult struct {
	Uploaded   int      `json:"uploaded"`
	Duplicates []string `json:"duplicates"`
	Invalid    []string `json:"invalid"`
}

// Event types published on address lifecycle transitions.
const (
	EventAddressReserved = "address.reserved"
	EventAddressReleased = "address.released"
	EventAddressUsed     = "address.used"
	EventAddressSwept    = "address.swept"
	EventPoolImported    = "pool.imported"
)

// PoolEvent is the payload published to Kafka / Redis Streams on lifecycle
// transitions.
type PoolEvent struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	AddressID uuid.UUID      `json:"address_id"`
	Address   string         `json:"address,omitempty"`
	Actor     Actor          `json:"actor,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
