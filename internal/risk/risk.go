// Package risk screens outgoing payments before they reach the payment provider.
//
// Screening has two gates: the destination appears in the reported-address
// registry, or the amount exceeds the safe transaction ceiling. Either gate
// produces a warning that the caller may override; the policy never refuses a
// payment outright, since the registry is self-reported and unauthenticated.
package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/safepay/internal/metrics"
)

// DefaultMaxSafeTransaction is the amount, in minor units, above which a
// payment needs confirmation.
const DefaultMaxSafeTransaction int64 = 100_000_000

var (
	ErrInvalidAddress = errors.New("risk: address is required")
	ErrInvalidReason  = errors.New("risk: reason too long")
)

// MaxReasonLength bounds a single report's free-text reason.
const MaxReasonLength = 1000

// Report is one entry in an address's append-only reason log.
type Report struct {
	Address    string    `json:"address"`
	Reason     string    `json:"reason"`
	ReportedAt time.Time `json:"reportedAt"`
}

// Registry is the reported-address store. Reports are never removed.
type Registry interface {
	IsReported(ctx context.Context, address string) (bool, error)
	Report(ctx context.Context, address, reason string) (*Report, error)
	ListReports(ctx context.Context, address string) ([]*Report, error)
}

// Assessment is the outcome of screening one proposed payment.
type Assessment struct {
	Destination          string `json:"destination"`
	Amount               int64  `json:"amount"`
	Reported             bool   `json:"reported"`
	AboveThreshold       bool   `json:"aboveThreshold"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
	Message              string `json:"message,omitempty"`
}

// Policy evaluates payments against the registry and the amount ceiling.
// It holds no mutable state of its own.
type Policy struct {
	registry Registry
	maxSafe  int64
}

// NewPolicy creates a policy. A non-positive maxSafe selects the default ceiling.
func NewPolicy(registry Registry, maxSafe int64) *Policy {
	if maxSafe <= 0 {
		maxSafe = DefaultMaxSafeTransaction
	}
	return &Policy{registry: registry, maxSafe: maxSafe}
}

// MaxSafeTransaction returns the configured ceiling.
func (p *Policy) MaxSafeTransaction() int64 { return p.maxSafe }

// Screen evaluates a payment of amount to destination. It returns an error only
// when the registry cannot be consulted; a risky payment is reported through
// Assessment.RequiresConfirmation.
func (p *Policy) Screen(ctx context.Context, destination string, amount int64) (*Assessment, error) {
	reported, err := p.registry.IsReported(ctx, destination)
	if err != nil {
		metrics.RiskScreeningsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("risk: registry lookup: %w", err)
	}

	a := &Assessment{
		Destination:    destination,
		Amount:         amount,
		Reported:       reported,
		AboveThreshold: amount > p.maxSafe,
	}
	a.RequiresConfirmation = a.Reported || a.AboveThreshold

	var clauses []string
	if a.Reported {
		clauses = append(clauses, fmt.Sprintf("The destination address %s has been reported for suspicious activity.", destination))
	}
	if a.AboveThreshold {
		clauses = append(clauses, fmt.Sprintf("The amount %d exceeds the safe transaction limit of %d.", amount, p.maxSafe))
	}
	if len(clauses) > 0 {
		clauses = append(clauses, "Resubmit with confirmation to proceed.")
		a.Message = strings.Join(clauses, " ")
		metrics.RiskScreeningsTotal.WithLabelValues("warning").Inc()
	} else {
		metrics.RiskScreeningsTotal.WithLabelValues("clear").Inc()
	}
	return a, nil
}

func normalizeAddress(address string) string {
	return strings.TrimSpace(address)
}
