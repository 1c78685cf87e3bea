package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/safepay/internal/circuitbreaker"
	"github.com/mbd888/safepay/internal/metrics"
	"github.com/mbd888/safepay/internal/retry"
)

// Breaker keys, one per provider operation.
const (
	OpResolveAddress = "resolve_address"
	OpTransfer       = "transfer"
	OpDeploy         = "deploy_escrow"
	OpCallEscrow     = "call_escrow"
)

// Resilient decorates a Provider with per-call timeouts, a circuit breaker per
// operation, latency metrics and bounded retry for address resolution.
// Transfers and contract calls are never retried: a lost acknowledgement must
// surface to the caller rather than risk a second payout.
type Resilient struct {
	next    Provider
	breaker *circuitbreaker.Breaker
	resolve retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// ResilientOption configures a Resilient provider.
type ResilientOption func(*Resilient)

// WithBreaker replaces the default breaker (5 failures, 30s cool-down).
func WithBreaker(b *circuitbreaker.Breaker) ResilientOption {
	return func(r *Resilient) { r.breaker = b }
}

// WithCallTimeout bounds every provider call.
func WithCallTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) { r.timeout = d }
}

// WithResolveRetry sets the retry policy for ResolveAddress.
func WithResolveRetry(p retry.Policy) ResilientOption {
	return func(r *Resilient) { r.resolve = p }
}

// WithLogger sets the logger used for retry and breaker events.
func WithLogger(l *slog.Logger) ResilientOption {
	return func(r *Resilient) { r.logger = l }
}

// NewResilient wraps next.
func NewResilient(next Provider, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		next:    next,
		timeout: 15 * time.Second,
		resolve: retry.Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuitbreaker.New(5, 30*time.Second, circuitbreaker.WithTransitionHook(r.logTransition))
	}
	if r.resolve.OnRetry == nil {
		r.resolve.OnRetry = func(attempt int, err error) {
			r.logger.Warn("retrying address resolution", "attempt", attempt, "error", err)
		}
	}
	return r
}

// Breaker exposes the breaker for health reporting.
func (r *Resilient) Breaker() *circuitbreaker.Breaker { return r.breaker }

// ResolveAddress implements Provider.
func (r *Resilient) ResolveAddress(ctx context.Context, session string) (string, error) {
	var addr string
	err := r.resolve.Do(ctx, func(ctx context.Context) error {
		err := r.guard(ctx, OpResolveAddress, func(ctx context.Context) error {
			var err error
			addr, err = r.next.ResolveAddress(ctx, session)
			return err
		})
		if err != nil && (IsClientError(err) || errors.Is(err, ErrUnavailable) || ctx.Err() != nil) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return addr, nil
}

// Transfer implements Provider.
func (r *Resilient) Transfer(ctx context.Context, fromSession, destination string, amount int64) (*Receipt, error) {
	var rcpt *Receipt
	err := r.guard(ctx, OpTransfer, func(ctx context.Context) error {
		var err error
		rcpt, err = r.next.Transfer(ctx, fromSession, destination, amount)
		return err
	})
	return rcpt, err
}

// DeployEscrowContract implements Provider.
func (r *Resilient) DeployEscrowContract(ctx context.Context, req DeployRequest) (*Deployment, error) {
	var dep *Deployment
	err := r.guard(ctx, OpDeploy, func(ctx context.Context) error {
		var err error
		dep, err = r.next.DeployEscrowContract(ctx, req)
		return err
	})
	return dep, err
}

// CallEscrowContract implements Provider.
func (r *Resilient) CallEscrowContract(ctx context.Context, call ContractCall) (*Receipt, error) {
	var rcpt *Receipt
	err := r.guard(ctx, OpCallEscrow, func(ctx context.Context) error {
		var err error
		rcpt, err = r.next.CallEscrowContract(ctx, call)
		return err
	})
	return rcpt, err
}

// guard runs fn once under the breaker for op. Client errors and caller
// cancellation count as provider successes.
func (r *Resilient) guard(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !r.breaker.Allow(op) {
		metrics.ProviderCallsTotal.WithLabelValues(op, "rejected").Inc()
		return fmt.Errorf("%w: %s circuit open", ErrUnavailable, op)
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	metrics.ProviderCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		r.breaker.RecordSuccess(op)
		metrics.ProviderCallsTotal.WithLabelValues(op, "ok").Inc()
		return nil
	case IsClientError(err):
		r.breaker.RecordSuccess(op)
		metrics.ProviderCallsTotal.WithLabelValues(op, "client_error").Inc()
		return err
	case ctx.Err() != nil:
		r.breaker.Release(op)
		metrics.ProviderCallsTotal.WithLabelValues(op, "cancelled").Inc()
		return err
	}

	r.breaker.RecordFailure(op)
	metrics.ProviderCallsTotal.WithLabelValues(op, "error").Inc()
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Op: op, Err: fmt.Errorf("%w: timed out after %s", ErrNetwork, r.timeout)}
	}
	return err
}

func (r *Resilient) logTransition(key string, from, to circuitbreaker.State) {
	r.logger.Warn("provider circuit state changed", "operation", key, "from", from.String(), "to", to.String())
}

var _ Provider = (*Resilient)(nil)
