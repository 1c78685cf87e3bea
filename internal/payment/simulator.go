package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/mbd888/safepay/internal/idgen"
)

// AddressPrefix is prepended to every simulated network address.
const AddressPrefix = "mid1"

// DefaultInitialBalance is credited to each new simulated wallet.
const DefaultInitialBalance int64 = 1_000_000_000

// Simulator is an in-process Provider backed by a balance map. Deployed escrow
// contracts lock the buyer's funds until a release, resolve or cancel call pays
// them out. Receipts are marked Simulated.
type Simulator struct {
	mu        sync.Mutex
	sessions  map[string]string // session -> address
	balances  map[string]int64  // address -> spendable balance
	contracts map[string]*simContract

	initialBalance int64
	sessionIDs     idgen.Generator
	entropy        func(numBytes int) string
	now            func() time.Time
}

type simContract struct {
	escrowID string
	buyer    string
	held     int64
	settled  bool
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithInitialBalance sets the balance credited to wallets created by CreateWallet
// and ConnectSeed.
func WithInitialBalance(amount int64) SimulatorOption {
	return func(s *Simulator) { s.initialBalance = amount }
}

// WithSessionIDs overrides the session identifier generator.
func WithSessionIDs(g idgen.Generator) SimulatorOption {
	return func(s *Simulator) { s.sessionIDs = g }
}

// WithEntropy overrides the hex source used for addresses and receipt hashes.
// Tests pass a deterministic source.
func WithEntropy(fn func(numBytes int) string) SimulatorOption {
	return func(s *Simulator) { s.entropy = fn }
}

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) { s.now = now }
}

// NewSimulator creates an empty simulator.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		sessions:       make(map[string]string),
		balances:       make(map[string]int64),
		contracts:      make(map[string]*simContract),
		initialBalance: DefaultInitialBalance,
		sessionIDs:     idgen.Prefixed{Prefix: "wal_", Next: idgen.UUID{}},
		entropy:        idgen.Hex,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateWallet opens a session on a fresh random address.
func (s *Simulator) CreateWallet(ctx context.Context) (session, address string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	address = AddressPrefix + s.entropy(20)
	return s.openLocked(address), address, nil
}

// ConnectSeed opens a session on the address derived from seed. The same seed
// always yields the same address; the initial balance is credited only the
// first time the address is seen.
func (s *Simulator) ConnectSeed(ctx context.Context, seed string) (session, address string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if seed == "" {
		return "", "", fmt.Errorf("%w: empty seed", ErrSessionInvalid)
	}
	sum := sha256.Sum256([]byte(seed))
	address = AddressPrefix + hex.EncodeToString(sum[:20])

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(address), address, nil
}

func (s *Simulator) openLocked(address string) string {
	if _, ok := s.balances[address]; !ok {
		s.balances[address] = s.initialBalance
	}
	session := s.sessionIDs.NewID()
	s.sessions[session] = address
	return session
}

// Balance returns the spendable balance of the session's wallet.
func (s *Simulator) Balance(ctx context.Context, session string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.sessions[session]
	if !ok {
		return 0, ErrSessionInvalid
	}
	return s.balances[addr], nil
}

// CloseWallet ends a session. Balances stay with the address.
func (s *Simulator) CloseWallet(ctx context.Context, session string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session]; !ok {
		return ErrSessionInvalid
	}
	delete(s.sessions, session)
	return nil
}

// Fund credits an address directly.
func (s *Simulator) Fund(address string, amount int64) {
	s.mu.Lock()
	s.balances[address] += amount
	s.mu.Unlock()
}

// BalanceOf returns the spendable balance of an address.
func (s *Simulator) BalanceOf(address string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[address]
}

// Held returns the amount locked in a deployed contract.
func (s *Simulator) Held(contract string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contracts[contract]; ok && !c.settled {
		return c.held
	}
	return 0
}

// ResolveAddress implements Provider.
func (s *Simulator) ResolveAddress(ctx context.Context, session string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.sessions[session]
	if !ok {
		return "", ErrSessionInvalid
	}
	return addr, nil
}

// Transfer implements Provider.
func (s *Simulator) Transfer(ctx context.Context, fromSession, destination string, amount int64) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if destination == "" {
		return nil, ErrInvalidAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.sessions[fromSession]
	if !ok {
		return nil, ErrSessionInvalid
	}
	if s.balances[from] < amount {
		return nil, &CallError{Op: "transfer", Err: ErrInsufficientFunds}
	}
	s.balances[from] -= amount
	s.balances[destination] += amount
	return s.receiptLocked("transfer"), nil
}

// DeployEscrowContract implements Provider. The buyer's funds move from their
// spendable balance into the new contract.
func (s *Simulator) DeployEscrowContract(ctx context.Context, req DeployRequest) (*Deployment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Buyer == "" || req.Seller == "" {
		return nil, ErrInvalidAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[req.Buyer] < req.Amount {
		return nil, &CallError{Op: "deploy", Err: ErrInsufficientFunds}
	}
	s.balances[req.Buyer] -= req.Amount

	contract := AddressPrefix + s.entropy(20)
	s.contracts[contract] = &simContract{
		escrowID: req.EscrowID,
		buyer:    req.Buyer,
		held:     req.Amount,
	}
	return &Deployment{ContractAddress: contract, Receipt: s.receiptLocked("create_escrow")}, nil
}

// CallEscrowContract implements Provider. Fund-moving methods pay the whole
// held amount to the payee and settle the contract.
func (s *Simulator) CallEscrowContract(ctx context.Context, call ContractCall) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[call.Contract]
	if !ok || c.settled {
		return nil, &CallError{Op: string(call.Method), Err: ErrUnknownContract}
	}

	switch call.Method {
	case MethodApprove, MethodDispute:
	case MethodRelease, MethodResolve, MethodCancel:
		if call.Payee == "" {
			return nil, &CallError{Op: string(call.Method), Err: ErrInvalidAddress}
		}
		if call.Amount != c.held {
			return nil, &CallError{Op: string(call.Method), Err: ErrInvalidAmount}
		}
		if call.Method == MethodCancel && call.Payee != c.buyer {
			return nil, &CallError{Op: string(call.Method), Err: ErrInvalidAddress}
		}
		s.balances[call.Payee] += c.held
		c.settled = true
	default:
		return nil, &CallError{Op: string(call.Method), Err: fmt.Errorf("unsupported method %q", call.Method)}
	}
	return s.receiptLocked(string(call.Method)), nil
}

func (s *Simulator) receiptLocked(op string) *Receipt {
	return &Receipt{
		TxHash:    op + "_" + s.entropy(32),
		Operation: op,
		Simulated: true,
		IssuedAt:  s.now().UTC(),
	}
}

var _ Provider = (*Simulator)(nil)
