// Package task implements the deposit task lifecycle that drives address
// consumption: a task is created against a reservation, pre-reviewed, and its
// final outcome decides whether the bound address is consumed or released.
package task

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the deposit task lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusPreApproved Status = "pre_approved"
	StatusPreRejected Status = "pre_rejected"
	StatusCompleted   Status = "completed"
	StatusRejected    Status = "rejected"
)

// ValidTransitions defines allowed task status transitions. Terminal states
// have no exits; a final reviewer may overturn a pre-decision.
var ValidTransitions = map[Status][]Status{
	StatusPending:     {StatusPreApproved, StatusPreRejected},
	StatusPreApproved: {StatusCompleted, StatusRejected},
	StatusPreRejected: {StatusRejected, StatusCompleted},
	StatusCompleted:   {},
	StatusRejected:    {},
}

// IsValidTransition checks if a status transition is allowed
func IsValidTransition(from, to Status) bool {
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(ValidTransitions[s]) == 0
}

// DepositTask is a user's deposit request awaiting operator review. It may
// reference the pool address reserved for it; tasks created through manual
// or collaborator flows carry no address.
type DepositTask struct {
	ID                uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID            uuid.UUID       `json:"user_id" gorm:"type:uuid;index"`
	AmountUSD         decimal.Decimal `json:"amount_usd" gorm:"type:decimal(18,2)"`
	Status            Status          `json:"status" gorm:"size:16;index;default:pending"`
	ReservedAddressID *uuid.UUID      `json:"reserved_address_id,omitempty" gorm:"type:uuid;index"`
	ReviewedBy        *uuid.UUID      `json:"reviewed_by,omitempty" gorm:"type:uuid"`
	ReviewedAt        *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName sets the table name for gorm
func (DepositTask) TableName() string {
	return "deposit_tasks"
}
