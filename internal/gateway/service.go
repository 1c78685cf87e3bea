package gateway

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
	"github.com/mbd888/safepay/internal/risk"
	"github.com/mbd888/safepay/internal/traces"
)

// DefaultListLimit caps payment log queries without an explicit limit.
const DefaultListLimit = 50

// Service implements payment submission.
type Service struct {
	policy   *risk.Policy
	provider payment.Provider
	store    Store
	ids      idgen.Generator
	events   EventEmitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new gateway service. store may be nil, in which case
// acknowledged transfers are not logged.
func NewService(policy *risk.Policy, provider payment.Provider, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		policy:   policy,
		provider: provider,
		store:    store,
		ids:      idgen.Prefixed{Prefix: "pay_", Next: idgen.UUID{}},
		logger:   logger,
		now:      time.Now,
	}
}

// WithIDGenerator replaces the payment id generator.
func (s *Service) WithIDGenerator(g idgen.Generator) *Service {
	s.ids = g
	return s
}

// WithEventEmitter publishes submissions and warnings to e.
func (s *Service) WithEventEmitter(e EventEmitter) *Service {
	s.events = e
	return s
}

// Submit screens a payment and, unless it is flagged and not bypassed, sends
// it through the provider. A flagged payment without bypass never reaches the
// provider.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (_ *SubmitResult, err error) {
	destination := strings.TrimSpace(req.Destination)
	ctx, span := traces.StartSpan(ctx, "gateway.Submit",
		traces.Destination(destination), traces.Amount(req.Amount), traces.Bypass(req.Bypass))
	defer func() { traces.End(span, err) }()

	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if destination == "" {
		return nil, ErrInvalidDestination
	}

	from, err := s.resolveSender(ctx, req.Session)
	if err != nil {
		return nil, err
	}

	assessment, err := s.policy.Screen(ctx, destination, req.Amount)
	if err != nil {
		if !req.Bypass {
			return nil, fmt.Errorf("%w: %w", ErrScreening, err)
		}
		// The sender already confirmed; only the threshold gate can still be evaluated.
		s.logger.Warn("risk screening unavailable, proceeding on confirmation",
			"from", from, "to", destination, "amount", req.Amount, "error", err)
		assessment = &risk.Assessment{
			Destination:          destination,
			Amount:               req.Amount,
			AboveThreshold:       req.Amount > s.policy.MaxSafeTransaction(),
			RequiresConfirmation: true,
			Message:              "Risk screening was unavailable; the payment was sent on the sender's confirmation.",
		}
	}

	if assessment.RequiresConfirmation && !req.Bypass {
		metrics.PaymentsTotal.WithLabelValues(string(OutcomeWarning)).Inc()
		result := &SubmitResult{Outcome: OutcomeWarning, Assessment: assessment}
		s.emit(EventWarning, from, result)
		return result, nil
	}

	outcome := OutcomeSubmitted
	if assessment.RequiresConfirmation {
		outcome = OutcomeBypassed
		s.logger.Warn("payment warning bypassed",
			"from", from, "to", destination, "amount", req.Amount,
			"reported", assessment.Reported, "above_threshold", assessment.AboveThreshold)
	}

	receipt, err := s.provider.Transfer(ctx, req.Session, destination, req.Amount)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: transfer: %w", ErrProvider, err)
	}
	metrics.PaymentsTotal.WithLabelValues(string(outcome)).Inc()

	result := &SubmitResult{
		Outcome:    outcome,
		Assessment: assessment,
		Receipt:    receipt,
		Payment: &Payment{
			ID:             s.ids.NewID(),
			From:           from,
			To:             destination,
			Amount:         req.Amount,
			TxHash:         receipt.TxHash,
			Bypassed:       outcome == OutcomeBypassed,
			Reported:       assessment.Reported,
			AboveThreshold: assessment.AboveThreshold,
			CreatedAt:      s.now().UTC(),
		},
	}

	// The transfer already happened; a lost log entry must not fail the request.
	if s.store != nil {
		if err := s.store.Record(ctx, result.Payment); err != nil {
			s.logger.Error("failed to record submitted payment",
				"payment_id", result.Payment.ID, "tx_hash", receipt.TxHash, "error", err)
		}
	}

	s.emit(EventSubmitted, from, result)
	return result, nil
}

// ListSent returns the caller's logged payments, newest first.
func (s *Service) ListSent(ctx context.Context, session string, limit int) ([]*Payment, error) {
	from, err := s.resolveSender(ctx, session)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = DefaultListLimit
	}
	if s.store == nil {
		return []*Payment{}, nil
	}
	return s.store.ListBySender(ctx, from, limit)
}

func (s *Service) resolveSender(ctx context.Context, session string) (string, error) {
	if session == "" {
		return "", fmt.Errorf("%w: missing wallet session", payment.ErrSessionInvalid)
	}
	addr, err := s.provider.ResolveAddress(ctx, session)
	if err != nil {
		if errors.Is(err, payment.ErrSessionInvalid) {
			return "", err
		}
		return "", fmt.Errorf("%w: resolve sender: %w", ErrProvider, err)
	}
	return addr, nil
}

func (s *Service) emit(eventType, from string, r *SubmitResult) {
	if s.events != nil {
		s.events.EmitPaymentEvent(eventType, from, r)
	}
}
