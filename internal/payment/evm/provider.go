// Package evm implements the payment provider on an EVM chain using custodial
// keys and native value transfers.
//
// Wallet sessions are bound to private keys held in memory. Escrow funds move
// from the buyer's key to a single custody key at deployment and are paid out
// by the custody key on release, resolution or cancellation. Each escrow gets
// a virtual contract address derived from the custody address and escrow id,
// so payouts can be verified without keeping per-escrow state in the process.
//
// Amounts are denominated in gwei.
package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/safepay/internal/idgen"
	"github.com/mbd888/safepay/internal/payment"
	"github.com/mbd888/safepay/internal/syncutil"
)

var (
	ErrInvalidPrivateKey = errors.New("evm: invalid private key")
	ErrRPCConnection     = errors.New("evm: RPC connection failed")
	ErrTransactionFailed = errors.New("evm: transaction failed")
	ErrTimeout           = errors.New("evm: operation timed out")
)

const (
	// TransferGasLimit is the fixed gas cost of a plain value transfer.
	TransferGasLimit = uint64(21000)

	// DefaultConfirmationTimeout bounds waiting for a receipt when
	// confirmations are enabled.
	DefaultConfirmationTimeout = 30 * time.Second

	// ConfirmationPollInterval between receipt checks.
	ConfirmationPollInterval = 2 * time.Second
)

var gwei = big.NewInt(1_000_000_000)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var _ EthClient = (*ethclient.Client)(nil)

// Config for creating a provider.
type Config struct {
	RPCURL     string
	CustodyKey string // hex, with or without 0x
	ChainID    int64

	// WaitMined makes every transfer wait for a successful receipt before it
	// is acknowledged.
	WaitMined bool
}

// Option configures the provider.
type Option func(*Provider)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(p *Provider) { p.client = client }
}

// WithSessionIDs replaces the wallet session id generator.
func WithSessionIDs(g idgen.Generator) Option {
	return func(p *Provider) { p.sessionIDs = g }
}

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithPollInterval overrides the receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollEvery = d }
}

// Provider is a custodial EVM payment provider.
type Provider struct {
	client      EthClient
	chainID     *big.Int
	custody     *ecdsa.PrivateKey
	custodyAddr common.Address
	waitMined   bool
	pollEvery   time.Duration
	sessionIDs  idgen.Generator
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*ecdsa.PrivateKey
	keys     map[common.Address]*ecdsa.PrivateKey // latest key per address

	// senders serializes nonce assignment per sending address.
	senders *syncutil.KeyedMutex
}

// New creates a provider. Without WithClient it dials cfg.RPCURL.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	custody, err := parseKey(cfg.CustodyKey)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		chainID:     big.NewInt(cfg.ChainID),
		custody:     custody,
		custodyAddr: crypto.PubkeyToAddress(custody.PublicKey),
		waitMined:   cfg.WaitMined,
		pollEvery:   ConfirmationPollInterval,
		sessionIDs:  idgen.Prefixed{Prefix: "wal_", Next: idgen.UUID{}},
		now:         time.Now,
		sessions:    make(map[string]*ecdsa.PrivateKey),
		keys:        make(map[common.Address]*ecdsa.PrivateKey),
		senders:     syncutil.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		p.client = client
	}
	return p, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.CustodyKey == "" {
		return fmt.Errorf("%w: custody key required", ErrInvalidPrivateKey)
	}
	if len(strings.TrimPrefix(cfg.CustodyKey, "0x")) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID <= 0 {
		return fmt.Errorf("chain ID required")
	}
	return nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

// CustodyAddress returns the address holding escrowed funds.
func (p *Provider) CustodyAddress() string { return p.custodyAddr.Hex() }

// ContractAddress returns the virtual contract address of an escrow.
func (p *Provider) ContractAddress(escrowID string) string {
	h := crypto.Keccak256(p.custodyAddr.Bytes(), []byte(escrowID))
	return common.BytesToAddress(h[12:]).Hex()
}

// Close closes the client connection.
func (p *Provider) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Wallet sessions
// -----------------------------------------------------------------------------

// ConnectKey opens a session on an existing private key.
func (p *Provider) ConnectKey(ctx context.Context, hexKey string) (session, address string, err error) {
	key, err := parseKey(hexKey)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", payment.ErrSessionInvalid, err)
	}
	return p.open(key), crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// CreateWallet opens a session on a freshly generated key.
func (p *Provider) CreateWallet(ctx context.Context) (session, address string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	return p.open(key), crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// ConnectSeed opens a session on the key derived from seed. The same seed
// always yields the same address.
func (p *Provider) ConnectSeed(ctx context.Context, seed string) (session, address string, err error) {
	if seed == "" {
		return "", "", fmt.Errorf("%w: empty seed", payment.ErrSessionInvalid)
	}
	sum := sha256.Sum256([]byte(seed))
	key, err := crypto.ToECDSA(sum[:])
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", payment.ErrSessionInvalid, err)
	}
	return p.open(key), crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// Balance returns the session's on-chain balance in gwei.
func (p *Provider) Balance(ctx context.Context, session string) (int64, error) {
	key, err := p.sessionKey(session)
	if err != nil {
		return 0, err
	}
	wei, err := p.client.BalanceAt(ctx, crypto.PubkeyToAddress(key.PublicKey), nil)
	if err != nil {
		return 0, &payment.CallError{Op: "balance", Err: fmt.Errorf("%w: %v", payment.ErrNetwork, err)}
	}
	g := new(big.Int).Quo(wei, gwei)
	if !g.IsInt64() {
		return 0, fmt.Errorf("%w: balance overflows gwei range", payment.ErrInvalidAmount)
	}
	return g.Int64(), nil
}

// CloseWallet ends a session and forgets its key.
func (p *Provider) CloseWallet(ctx context.Context, session string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.sessions[session]
	if !ok {
		return payment.ErrSessionInvalid
	}
	delete(p.sessions, session)

	addr := crypto.PubkeyToAddress(key.PublicKey)
	for _, k := range p.sessions {
		if crypto.PubkeyToAddress(k.PublicKey) == addr {
			return nil
		}
	}
	delete(p.keys, addr)
	return nil
}

func (p *Provider) open(key *ecdsa.PrivateKey) string {
	session := p.sessionIDs.NewID()
	p.mu.Lock()
	p.sessions[session] = key
	p.keys[crypto.PubkeyToAddress(key.PublicKey)] = key
	p.mu.Unlock()
	return session
}

func (p *Provider) sessionKey(session string) (*ecdsa.PrivateKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.sessions[session]
	if !ok {
		return nil, payment.ErrSessionInvalid
	}
	return key, nil
}

// -----------------------------------------------------------------------------
// payment.Provider
// -----------------------------------------------------------------------------

// ResolveAddress implements payment.Provider.
func (p *Provider) ResolveAddress(ctx context.Context, session string) (string, error) {
	key, err := p.sessionKey(session)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// Transfer implements payment.Provider.
func (p *Provider) Transfer(ctx context.Context, fromSession, destination string, amount int64) (*payment.Receipt, error) {
	key, err := p.sessionKey(fromSession)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress(destination)
	if err != nil {
		return nil, err
	}
	return p.send(ctx, "transfer", key, to, amount)
}

// DeployEscrowContract implements payment.Provider by moving the escrow amount
// from the buyer's key to the custody key.
func (p *Provider) DeployEscrowContract(ctx context.Context, req payment.DeployRequest) (*payment.Deployment, error) {
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		return nil, err
	}
	if _, err := parseAddress(req.Seller); err != nil {
		return nil, err
	}

	p.mu.RLock()
	key, ok := p.keys[buyer]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no open session for buyer", payment.ErrSessionInvalid)
	}

	receipt, err := p.send(ctx, "create_escrow", key, p.custodyAddr, req.Amount)
	if err != nil {
		return nil, err
	}
	return &payment.Deployment{ContractAddress: p.ContractAddress(req.EscrowID), Receipt: receipt}, nil
}

// CallEscrowContract implements payment.Provider. Approve and dispute are
// acknowledged off-chain; fund-moving methods pay the amount from custody.
func (p *Provider) CallEscrowContract(ctx context.Context, call payment.ContractCall) (*payment.Receipt, error) {
	if call.Contract != p.ContractAddress(call.EscrowID) {
		return nil, &payment.CallError{Op: string(call.Method), Err: payment.ErrUnknownContract}
	}

	switch call.Method {
	case payment.MethodApprove, payment.MethodDispute:
		return &payment.Receipt{
			TxHash:    "offchain_" + idgen.Hex(16),
			Operation: string(call.Method),
			IssuedAt:  p.now().UTC(),
		}, nil
	case payment.MethodRelease, payment.MethodResolve, payment.MethodCancel:
		payee, err := parseAddress(call.Payee)
		if err != nil {
			return nil, &payment.CallError{Op: string(call.Method), Err: err}
		}
		return p.send(ctx, string(call.Method), p.custody, payee, call.Amount)
	default:
		return nil, &payment.CallError{Op: string(call.Method), Err: fmt.Errorf("unsupported method %q", call.Method)}
	}
}

// send signs and submits an EIP-155 value transfer of amount gwei.
func (p *Provider) send(ctx context.Context, op string, key *ecdsa.PrivateKey, to common.Address, amount int64) (*payment.Receipt, error) {
	if amount <= 0 {
		return nil, payment.ErrInvalidAmount
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	value := new(big.Int).Mul(big.NewInt(amount), gwei)

	unlock, err := p.senders.LockContext(ctx, from.Hex())
	if err != nil {
		return nil, err
	}
	defer unlock()

	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &payment.CallError{Op: op, Err: fmt.Errorf("%w: gas price: %v", payment.ErrNetwork, err)}
	}

	balance, err := p.client.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, &payment.CallError{Op: op, Err: fmt.Errorf("%w: balance: %v", payment.ErrNetwork, err)}
	}
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(TransferGasLimit))
	cost.Add(cost, value)
	if balance.Cmp(cost) < 0 {
		return nil, &payment.CallError{Op: op, Err: payment.ErrInsufficientFunds}
	}

	nonce, err := p.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, &payment.CallError{Op: op, Err: fmt.Errorf("%w: nonce: %v", payment.ErrNetwork, err)}
	}

	tx := types.NewTransaction(nonce, to, value, TransferGasLimit, gasPrice, nil)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(p.chainID), key)
	if err != nil {
		return nil, &payment.CallError{Op: op, Err: fmt.Errorf("sign: %w", err)}
	}

	hash := signed.Hash().Hex()
	if err := p.client.SendTransaction(ctx, signed); err != nil {
		return nil, &payment.CallError{Op: op, TxHash: hash, Err: fmt.Errorf("%w: %v", payment.ErrNetwork, err)}
	}

	if p.waitMined {
		if err := p.waitForReceipt(ctx, signed.Hash()); err != nil {
			return nil, &payment.CallError{Op: op, TxHash: hash, Err: err}
		}
	}

	return &payment.Receipt{TxHash: hash, Operation: op, IssuedAt: p.now().UTC()}, nil
}

// waitForReceipt polls until the transaction is mined.
func (p *Provider) waitForReceipt(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		receipt, err := p.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return ErrTransactionFailed
			}
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("%w: receipt: %v", payment.ErrNetwork, err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: waiting for tx %s", ErrTimeout, hash.Hex())
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a hex address", payment.ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

var (
	_ payment.Provider = (*Provider)(nil)
	_ payment.Wallets  = (*Provider)(nil)
)
