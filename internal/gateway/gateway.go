// Package gateway submits direct payments behind the risk policy.
//
// Flow:
//  1. Caller's wallet session is resolved to a sender address
//  2. Destination and amount are screened against the reporting registry and
//     the safe-transaction threshold
//  3. A flagged payment is answered with a warning and nothing is sent
//  4. A clean payment, or a flagged one resubmitted with bypass, is handed to
//     the provider and the acknowledged transfer is logged
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/safepay/internal/payment"
	"github.com/mbd888/safepay/internal/risk"
)

var (
	ErrInvalidAmount      = errors.New("gateway: amount must be a positive integer")
	ErrInvalidDestination = errors.New("gateway: receiver address is required")
	ErrScreening          = errors.New("gateway: risk screening unavailable")

	// ErrProvider marks failures reported by the payment provider.
	ErrProvider = errors.New("gateway: payment provider failure")
)

// Outcome describes what Submit did with a payment.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted" // clean screen, transfer sent
	OutcomeBypassed  Outcome = "bypassed"  // warning overridden, transfer sent
	OutcomeWarning   Outcome = "warning"   // warning returned, nothing sent
)

// SubmitRequest is one direct payment from the session's wallet.
type SubmitRequest struct {
	Session     string
	Destination string
	Amount      int64
	Bypass      bool
}

// SubmitResult is returned by Submit. Receipt is nil when Outcome is
// OutcomeWarning.
type SubmitResult struct {
	Outcome    Outcome          `json:"outcome"`
	Assessment *risk.Assessment `json:"assessment"`
	Receipt    *payment.Receipt `json:"receipt,omitempty"`
	Payment    *Payment         `json:"payment,omitempty"`
}

// Warned reports whether the caller must confirm before the payment is sent.
func (r *SubmitResult) Warned() bool { return r.Outcome == OutcomeWarning }

// Payment is the log entry of a transfer the provider acknowledged.
type Payment struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Amount         int64     `json:"amount"`
	TxHash         string    `json:"transactionHash"`
	Bypassed       bool      `json:"bypassed"`
	Reported       bool      `json:"reported"`
	AboveThreshold bool      `json:"aboveThreshold"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Event types emitted by Submit.
const (
	EventSubmitted = "payment.submitted"
	EventWarning   = "payment.warning"
)

// EventEmitter receives payment events.
type EventEmitter interface {
	EmitPaymentEvent(eventType string, from string, result *SubmitResult)
}

// Store persists the payment log.
type Store interface {
	Record(ctx context.Context, p *Payment) error

	// ListBySender returns the newest payments sent from addr, at most limit.
	ListBySender(ctx context.Context, addr string, limit int) ([]*Payment, error)
}
