package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/safepay/internal/idgen"
	"github.com/mbd888/safepay/internal/metrics"
	"github.com/mbd888/safepay/internal/payment"
	"github.com/mbd888/safepay/internal/traces"
)

// followUpTimeout bounds the refund or re-persist that runs after the provider
// acknowledged a call. It is detached from the request so a client disconnect
// cannot abandon funds the provider already moved.
const followUpTimeout = 10 * time.Second

// Service implements the escrow lifecycle. It is the only writer of escrows.
type Service struct {
	store    Store
	provider payment.Provider
	ids      idgen.Generator
	events   EventEmitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new escrow service.
func NewService(store Store, provider payment.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		provider: provider,
		ids:      idgen.UUID{},
		logger:   logger,
		now:      time.Now,
	}
}

// WithIDGenerator replaces the escrow id generator.
func (s *Service) WithIDGenerator(g idgen.Generator) *Service {
	s.ids = g
	return s
}

// WithEventEmitter publishes committed transitions to e.
func (s *Service) WithEventEmitter(e EventEmitter) *Service {
	s.events = e
	return s
}

// SetNowFunc overrides the clock used for transition timestamps.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens a new escrow with the caller as buyer and deploys its holding
// contract.
func (s *Service) Create(ctx context.Context, session string, req CreateRequest) (_ *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create", traces.Amount(req.Amount))
	defer func() { traces.End(span, err); observe("create", err) }()

	seller := strings.TrimSpace(req.Seller)
	arbiter := strings.TrimSpace(req.Arbiter)
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if seller == "" {
		return nil, ErrInvalidAddress
	}

	buyer, err := s.resolveCaller(ctx, session)
	if err != nil {
		return nil, err
	}

	id := s.ids.NewID()
	span.SetAttributes(traces.EscrowID(id))

	dep, err := s.provider.DeployEscrowContract(ctx, payment.DeployRequest{
		EscrowID: id,
		Buyer:    buyer,
		Seller:   seller,
		Arbiter:  arbiter,
		Amount:   req.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: deploy escrow contract: %w", ErrProvider, err)
	}

	escrow := &Escrow{
		ID:              id,
		Buyer:           buyer,
		Seller:          seller,
		Arbiter:         arbiter,
		Amount:          req.Amount,
		Memo:            req.Memo,
		Status:          StatusActive,
		ContractAddress: dep.ContractAddress,
		TransactionHash: dep.Receipt.TxHash,
		CreatedAt:       s.now().UTC(),
	}

	if err := s.store.Create(ctx, escrow); err != nil {
		// Best-effort refund: the contract holds the buyer's funds but no record exists.
		refundCtx, cancel := followUpContext(ctx)
		defer cancel()
		if _, refundErr := s.provider.CallEscrowContract(refundCtx, payment.ContractCall{
			Contract: dep.ContractAddress,
			EscrowID: id,
			Method:   payment.MethodCancel,
			Caller:   buyer,
			Payee:    buyer,
			Amount:   req.Amount,
		}); refundErr != nil {
			s.logger.Error("CRITICAL: escrow contract deployed but record not saved and refund failed",
				"escrow_id", id, "contract", dep.ContractAddress, "buyer", buyer,
				"store_error", err, "refund_error", refundErr)
		}
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	s.emit(EventCreated, escrow, dep.Receipt)
	return &Result{Escrow: escrow, Receipt: dep.Receipt}, nil
}

// Approve records the caller's approval as role, which must be buyer or seller.
func (s *Service) Approve(ctx context.Context, id string, role Role, session string) (*Result, error) {
	if role != RoleBuyer && role != RoleSeller {
		return nil, ErrInvalidRole
	}
	return s.runTransition(ctx, id, session, transition{
		op:     "approve",
		role:   role,
		method: payment.MethodApprove,
		event:  EventApproved,
		check: func(e *Escrow, caller string) error {
			if caller != e.Party(role) {
				return ErrForbidden
			}
			if err := e.terminalErr(); err != nil {
				return err
			}
			if (role == RoleBuyer && e.BuyerApproved) || (role == RoleSeller && e.SellerApproved) {
				return ErrAlreadyApproved
			}
			return nil
		},
		apply: func(e *Escrow, _ string, _ time.Time) {
			if role == RoleBuyer {
				e.BuyerApproved = true
			} else {
				e.SellerApproved = true
			}
		},
	})
}

// Release pays the seller once both parties have approved and no dispute is
// active. Either party may call it.
func (s *Service) Release(ctx context.Context, id, session string) (*Result, error) {
	return s.runTransition(ctx, id, session, transition{
		op:     "release",
		method: payment.MethodRelease,
		event:  EventReleased,
		check: func(e *Escrow, caller string) error {
			if caller != e.Buyer && caller != e.Seller {
				return ErrForbidden
			}
			if err := e.terminalErr(); err != nil {
				return err
			}
			if e.DisputeRaised {
				return ErrDisputeActive
			}
			if !e.BuyerApproved || !e.SellerApproved {
				return ErrApprovalsIncomplete
			}
			return nil
		},
		payee: func(e *Escrow) string { return e.Seller },
		apply: func(e *Escrow, _ string, now time.Time) {
			e.FundsReleased = true
			e.ReleasedAt = &now
		},
	})
}

// RaiseDispute hands the escrow to its arbiter. Escrows without an arbiter
// always fail with ErrNoArbiter once the caller is authorized.
func (s *Service) RaiseDispute(ctx context.Context, id, session string) (*Result, error) {
	return s.runTransition(ctx, id, session, transition{
		op:     "dispute",
		method: payment.MethodDispute,
		event:  EventDisputeRaised,
		check: func(e *Escrow, caller string) error {
			if caller != e.Buyer && caller != e.Seller {
				return ErrForbidden
			}
			if !e.HasArbiter() {
				return ErrNoArbiter
			}
			if err := e.terminalErr(); err != nil {
				return err
			}
			if e.DisputeRaised {
				return ErrAlreadyDisputed
			}
			return nil
		},
		apply: func(e *Escrow, caller string, now time.Time) {
			e.DisputeRaised = true
			e.DisputeRaisedAt = &now
			e.DisputeRaisedBy = caller
		},
	})
}

// ResolveDispute lets the arbiter pay the full amount to winner, regardless of
// approvals.
func (s *Service) ResolveDispute(ctx context.Context, id, session string, winner Role) (*Result, error) {
	if winner != RoleBuyer && winner != RoleSeller {
		return nil, ErrInvalidRole
	}
	return s.runTransition(ctx, id, session, transition{
		op:     "resolve",
		role:   winner,
		method: payment.MethodResolve,
		event:  EventDisputeResolved,
		check: func(e *Escrow, caller string) error {
			if !e.HasArbiter() || caller != e.Arbiter {
				return ErrForbidden
			}
			if !e.DisputeRaised {
				return ErrNoActiveDispute
			}
			return e.terminalErr()
		},
		payee: func(e *Escrow) string { return e.Party(winner) },
		apply: func(e *Escrow, caller string, now time.Time) {
			e.FundsReleased = true
			e.ReleasedAt = &now
			e.ResolvedBy = caller
			e.ResolvedInFavorOf = winner
		},
	})
}

// Cancel refunds the buyer. Only the buyer may cancel, and only while no
// dispute is active.
func (s *Service) Cancel(ctx context.Context, id, session string) (*Result, error) {
	return s.runTransition(ctx, id, session, transition{
		op:     "cancel",
		method: payment.MethodCancel,
		event:  EventCancelled,
		check: func(e *Escrow, caller string) error {
			if caller != e.Buyer {
				return ErrForbidden
			}
			if err := e.terminalErr(); err != nil {
				return err
			}
			if e.DisputeRaised {
				return ErrDisputeActive
			}
			return nil
		},
		payee: func(e *Escrow) string { return e.Buyer },
		apply: func(e *Escrow, _ string, now time.Time) {
			e.Status = StatusCancelled
			e.CancelledAt = &now
		},
	})
}

// Get returns a snapshot of one escrow.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	if id == "" {
		return nil, ErrEscrowNotFound
	}
	return s.store.Get(ctx, id)
}

// ListByRole returns escrows where the caller holds role.
func (s *Service) ListByRole(ctx context.Context, session string, role Role) ([]*Escrow, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	caller, err := s.resolveCaller(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.store.ListByParty(ctx, role, caller)
}

// ListPending returns the caller's escrows that still await their approval as
// buyer.
func (s *Service) ListPending(ctx context.Context, session string) ([]*Escrow, error) {
	caller, err := s.resolveCaller(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.store.ListPending(ctx, caller)
}

// transition describes one state-changing operation.
type transition struct {
	op     string
	role   Role // approving party or dispute winner, traced when set
	method payment.Method
	event  string
	check  func(e *Escrow, caller string) error
	payee  func(e *Escrow) string // set for fund-moving methods
	apply  func(e *Escrow, caller string, now time.Time)
}

// runTransition resolves the caller, then under the escrow's lock checks
// preconditions, obtains the provider's acknowledgement and commits the change.
func (s *Service) runTransition(ctx context.Context, id, session string, t transition) (_ *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow."+t.op, traces.EscrowID(id))
	defer func() { traces.End(span, err); observe(t.op, err) }()
	if t.role != "" {
		span.SetAttributes(traces.Role(string(t.role)))
	}

	if id == "" {
		return nil, ErrEscrowNotFound
	}
	caller, err := s.resolveCaller(ctx, session)
	if err != nil {
		return nil, err
	}

	var (
		receipt   *payment.Receipt
		appliedAt time.Time
	)
	updated, err := s.store.Mutate(ctx, id, func(e *Escrow) error {
		if err := t.check(e, caller); err != nil {
			return err
		}
		call := payment.ContractCall{
			Contract: e.ContractAddress,
			EscrowID: e.ID,
			Method:   t.method,
			Caller:   caller,
		}
		if t.payee != nil {
			call.Payee = t.payee(e)
			call.Amount = e.Amount
		}
		r, err := s.provider.CallEscrowContract(ctx, call)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrProvider, t.method, err)
		}
		receipt = r
		appliedAt = s.now().UTC()
		t.apply(e, caller, appliedAt)
		return nil
	})
	if err != nil && receipt != nil {
		updated, err = s.recommit(ctx, id, caller, appliedAt, t, err)
	}
	if err != nil {
		return nil, err
	}

	if updated.IsTerminal() {
		metrics.EscrowDuration.WithLabelValues(string(updated.State())).Observe(appliedAt.Sub(updated.CreatedAt).Seconds())
	}
	s.emit(t.event, updated, receipt)
	return &Result{Escrow: updated, Receipt: receipt}, nil
}

// recommit retries persisting a transition the provider already acknowledged.
// If the retry also fails the escrow record is stale and needs manual resolution.
func (s *Service) recommit(ctx context.Context, id, caller string, at time.Time, t transition, cause error) (*Escrow, error) {
	ctx, cancel := followUpContext(ctx)
	defer cancel()
	updated, err := s.store.Mutate(ctx, id, func(e *Escrow) error {
		if err := t.check(e, caller); err != nil {
			return err
		}
		t.apply(e, caller, at)
		return nil
	})
	if err == nil {
		return updated, nil
	}
	s.logger.Error("CRITICAL: provider acknowledged escrow transition but status update failed",
		"escrow_id", id, "operation", t.op, "caller", caller, "error", cause, "retry_error", err)
	return nil, fmt.Errorf("failed to update escrow after provider acknowledgement (requires manual resolution): %w", cause)
}

// followUpContext keeps ctx's values but not its cancellation.
func followUpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
}

func (s *Service) resolveCaller(ctx context.Context, session string) (string, error) {
	if session == "" {
		return "", fmt.Errorf("%w: missing wallet session", payment.ErrSessionInvalid)
	}
	addr, err := s.provider.ResolveAddress(ctx, session)
	if err != nil {
		if errors.Is(err, payment.ErrSessionInvalid) {
			return "", err
		}
		return "", fmt.Errorf("%w: resolve caller: %w", ErrProvider, err)
	}
	return addr, nil
}

func (s *Service) emit(eventType string, e *Escrow, r *payment.Receipt) {
	if s.events != nil {
		s.events.EmitEscrowEvent(eventType, e.clone(), r)
	}
}

// observe records the outcome of op.
func observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrProvider), errors.Is(err, payment.ErrSessionInvalid):
		outcome = "provider_error"
	case IsStateConflict(err), errors.Is(err, ErrForbidden), IsValidation(err), errors.Is(err, ErrEscrowNotFound):
		outcome = "rejected"
	default:
		outcome = "store_error"
	}
	metrics.EscrowTransitionsTotal.WithLabelValues(op, outcome).Inc()
}

// IsStateConflict reports whether err rejects a transition that is illegal in
// the escrow's current state.
func IsStateConflict(err error) bool {
	for _, target := range []error{
		ErrAlreadyApproved, ErrAlreadyReleased, ErrEscrowCancelled, ErrAlreadyDisputed,
		ErrDisputeActive, ErrApprovalsIncomplete, ErrNoArbiter, ErrNoActiveDispute,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is an input validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrInvalidRole)
}
