// Package escrow implements the multi-party escrow lifecycle.
//
// An escrow holds a buyer's payment for a seller, optionally under an arbiter:
//  1. Buyer creates the escrow → provider deploys a holding contract
//  2. Buyer and seller each approve
//  3. Either party releases → provider pays the seller
//  4. Either party disputes (arbiter required) → arbiter resolves for buyer or seller
//  5. Buyer cancels before release or dispute → provider refunds the buyer
//
// Every transition is committed only after the provider acknowledges the
// matching contract call, so a provider failure leaves the escrow unchanged.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/safepay/internal/payment"
)

var (
	ErrEscrowNotFound      = errors.New("escrow not found")
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrInvalidAddress      = errors.New("seller address is required")
	ErrInvalidRole         = errors.New("invalid role")
	ErrForbidden           = errors.New("caller is not authorized for this escrow operation")
	ErrAlreadyApproved     = errors.New("escrow already approved by this party")
	ErrAlreadyReleased     = errors.New("escrow funds already released")
	ErrEscrowCancelled     = errors.New("escrow has been cancelled")
	ErrAlreadyDisputed     = errors.New("escrow already disputed")
	ErrDisputeActive       = errors.New("escrow has an active dispute")
	ErrApprovalsIncomplete = errors.New("both buyer and seller must approve before release")
	ErrNoArbiter           = errors.New("escrow has no arbiter")
	ErrNoActiveDispute     = errors.New("escrow has no active dispute")

	// ErrProvider marks failures reported by the payment provider.
	ErrProvider = errors.New("payment provider failure")
)

// Status is the stored status field. Released is derived from FundsReleased.
type Status string

const (
	StatusActive    Status = "Active"
	StatusCancelled Status = "Cancelled"
)

// State is the derived lifecycle state.
type State string

const (
	StateActive         State = "Active"
	StateActiveDisputed State = "ActiveDisputed"
	StateReleased       State = "Released"
	StateCancelled      State = "Cancelled"
)

// Role names a party to an escrow.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleArbiter Role = "arbiter"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleBuyer, RoleSeller, RoleArbiter:
		return r, nil
	}
	return "", ErrInvalidRole
}

// Escrow is a held-payment agreement.
type Escrow struct {
	ID                string     `json:"id"`
	Buyer             string     `json:"buyer"`
	Seller            string     `json:"seller"`
	Arbiter           string     `json:"arbiter,omitempty"`
	Amount            int64      `json:"amount"`
	Memo              string     `json:"memo"`
	BuyerApproved     bool       `json:"buyerApproved"`
	SellerApproved    bool       `json:"sellerApproved"`
	DisputeRaised     bool       `json:"disputeRaised"`
	FundsReleased     bool       `json:"fundsReleased"`
	Status            Status     `json:"status"`
	ContractAddress   string     `json:"contractAddress"`
	TransactionHash   string     `json:"transactionHash"`
	CreatedAt         time.Time  `json:"createdAt"`
	ReleasedAt        *time.Time `json:"releasedAt,omitempty"`
	DisputeRaisedAt   *time.Time `json:"disputeRaisedAt,omitempty"`
	DisputeRaisedBy   string     `json:"disputeRaisedBy,omitempty"`
	ResolvedBy        string     `json:"resolvedBy,omitempty"`
	ResolvedInFavorOf Role       `json:"resolvedInFavorOf,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty"`
}

// State derives the lifecycle state from the stored flags.
func (e *Escrow) State() State {
	switch {
	case e.FundsReleased:
		return StateReleased
	case e.Status == StatusCancelled:
		return StateCancelled
	case e.DisputeRaised:
		return StateActiveDisputed
	default:
		return StateActive
	}
}

// IsTerminal reports whether the escrow is released or cancelled.
func (e *Escrow) IsTerminal() bool {
	return e.FundsReleased || e.Status == StatusCancelled
}

// HasArbiter reports whether an arbiter was named at creation.
func (e *Escrow) HasArbiter() bool { return e.Arbiter != "" }

// Party returns the address holding role.
func (e *Escrow) Party(role Role) string {
	switch role {
	case RoleBuyer:
		return e.Buyer
	case RoleSeller:
		return e.Seller
	case RoleArbiter:
		return e.Arbiter
	}
	return ""
}

// terminalErr returns the error for a terminal escrow, or nil.
func (e *Escrow) terminalErr() error {
	if e.FundsReleased {
		return ErrAlreadyReleased
	}
	if e.Status == StatusCancelled {
		return ErrEscrowCancelled
	}
	return nil
}

func (e *Escrow) clone() *Escrow {
	cp := *e
	cp.ReleasedAt = cloneTime(e.ReleasedAt)
	cp.DisputeRaisedAt = cloneTime(e.DisputeRaisedAt)
	cp.CancelledAt = cloneTime(e.CancelledAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Store persists escrows and serializes mutations per escrow.
type Store interface {
	Create(ctx context.Context, escrow *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)

	// Mutate holds exclusive access to escrow id while fn runs on a copy. The
	// copy is persisted only when fn returns nil; the stored escrow is returned.
	Mutate(ctx context.Context, id string, fn func(*Escrow) error) (*Escrow, error)

	// ListByParty returns escrows where role's address equals addr, oldest first.
	ListByParty(ctx context.Context, role Role, addr string) ([]*Escrow, error)

	// ListPending returns escrows awaiting buyer's approval, oldest first.
	ListPending(ctx context.Context, buyer string) ([]*Escrow, error)
}

// CreateRequest contains the parameters for creating an escrow. The buyer is
// the caller.
type CreateRequest struct {
	Seller  string
	Arbiter string
	Amount  int64
	Memo    string
}

// Result is returned by every lifecycle operation that changes an escrow.
type Result struct {
	Escrow  *Escrow          `json:"escrow"`
	Receipt *payment.Receipt `json:"receipt"`
}

// Event types emitted after committed transitions.
const (
	EventCreated         = "escrow.created"
	EventApproved        = "escrow.approved"
	EventReleased        = "escrow.released"
	EventDisputeRaised   = "escrow.dispute_raised"
	EventDisputeResolved = "escrow.dispute_resolved"
	EventCancelled       = "escrow.cancelled"
)

// EventEmitter receives committed lifecycle events.
type EventEmitter interface {
	EmitEscrowEvent(eventType string, escrow *Escrow, receipt *payment.Receipt)
}
