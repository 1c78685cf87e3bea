// Package payment defines the boundary to the external Payment Provider: the
// wallet/ledger collaborator that owns session identity, fund transfers and
// escrow contract deployment.
//
// Everything behind this interface is opaque to the escrow and gateway
// packages. They only ever see addresses (strings) and receipts.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionInvalid    = errors.New("payment: invalid wallet session")
	ErrInsufficientFunds = errors.New("payment: insufficient funds")
	ErrNetwork           = errors.New("payment: provider network error")
	ErrUnavailable       = errors.New("payment: provider unavailable")
	ErrUnknownContract   = errors.New("payment: unknown escrow contract")
	ErrInvalidAmount     = errors.New("payment: invalid amount")
	ErrInvalidAddress    = errors.New("payment: invalid address")
)

// Method names the escrow contract entry point being invoked.
type Method string

const (
	MethodApprove Method = "approve"
	MethodRelease Method = "release"
	MethodDispute Method = "dispute"
	MethodResolve Method = "resolve"
	MethodCancel  Method = "cancel"
)

// MovesFunds reports whether the call pays held funds out of the contract.
func (m Method) MovesFunds() bool {
	switch m {
	case MethodRelease, MethodResolve, MethodCancel:
		return true
	}
	return false
}

// Receipt is the provider's acknowledgement of a submitted operation.
type Receipt struct {
	TxHash    string    `json:"transactionHash"`
	Operation string    `json:"operation"`
	Simulated bool      `json:"simulated,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// DeployRequest describes the escrow contract to create.
type DeployRequest struct {
	EscrowID string
	Buyer    string
	Seller   string
	Arbiter  string // empty when absent
	Amount   int64
}

// Deployment is the handle and receipt returned for a deployed escrow contract.
type Deployment struct {
	ContractAddress string   `json:"contractAddress"`
	Receipt         *Receipt `json:"receipt"`
}

// ContractCall is a single escrow contract invocation. Payee and Amount are set
// only for methods that move funds.
type ContractCall struct {
	Contract string
	EscrowID string
	Method   Method
	Caller   string
	Payee    string
	Amount   int64
}

// Provider is the external wallet/ledger collaborator.
type Provider interface {
	// ResolveAddress maps a wallet session to its payment-network address.
	ResolveAddress(ctx context.Context, session string) (string, error)

	// Transfer proves and submits an ordinary payment from the session's wallet.
	Transfer(ctx context.Context, fromSession, destination string, amount int64) (*Receipt, error)

	// DeployEscrowContract creates the holding contract for a new escrow.
	DeployEscrowContract(ctx context.Context, req DeployRequest) (*Deployment, error)

	// CallEscrowContract invokes an escrow contract method and returns once the
	// provider has acknowledged it.
	CallEscrowContract(ctx context.Context, call ContractCall) (*Receipt, error)
}

// CallError wraps a provider failure with the operation that produced it.
type CallError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *CallError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("payment: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("payment: %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsClientError reports whether err was caused by the caller's input or
// account state rather than by the provider being unhealthy.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSessionInvalid) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrUnknownContract) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAddress)
}
