// Package ledger talks to a Solana RPC node on behalf of the escrow core:
// custodial keypair generation, TTL-cached balance/status/signature lookups,
// and confirmed native transfers. It is the sole translator from raw transport
// faults into the domain's rpc_error kind; malformed addresses and signatures
// are rejected locally before any network call.
package ledger

import (
	"context"
	"fmt"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/types"
)

// FeeLamports is the fixed base fee charged per transaction signature.
const FeeLamports uint64 = 5000

// LamportsPerSOL converts between lamports and whole SOL.
const LamportsPerSOL uint64 = 1_000_000_000

const (
	DefaultConfirmTimeout = 25 * time.Second
	DefaultPollInterval   = time.Second
	DefaultSendRetries    = 1
)

// RPC is the subset of the solana-go rpc.Client the ledger client depends on.
type RPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Config carries the tunables for one Client instance.
type Config struct {
	Endpoint string

	BalanceTTL    time.Duration
	StatusTTL     time.Duration
	SignaturesTTL time.Duration

	CommitmentTarget Commitment
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	MaxSendRetries   int
}

func (c *Config) applyDefaults() {
	if c.CommitmentTarget == "" {
		c.CommitmentTarget = CommitmentConfirmed
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxSendRetries < 0 {
		c.MaxSendRetries = DefaultSendRetries
	}
}

// SignatureStatus is the on-chain view of one submitted signature. An unknown
// signature is reported as not_found with nil slot/confirmations, not an error.
type SignatureStatus struct {
	Status        Commitment
	Slot          *uint64
	Confirmations *uint64
	Err           string
}

// SignatureInfo is one entry from the recent-signatures listing for an address.
type SignatureInfo struct {
	Signature string
	Status    Commitment
	Slot      uint64
	Err       string
	Memo      string
	BlockTime int64
}

type sigListKey struct {
	address string
	limit   int
}

// Client is the escrow core's Solana gateway. Each instance owns its three
// TTL caches; nothing is process-global.
type Client struct {
	rpc      RPC
	endpoint string
	cfg      Config
	log      *zap.Logger

	balances   *ttlCache[string, uint64]
	statuses   *ttlCache[string, SignatureStatus]
	signatures *ttlCache[sigListKey, []SignatureInfo]
}

// New dials the configured RPC endpoint.
func New(cfg Config, log *zap.Logger) *Client {
	return NewWithRPC(rpc.New(cfg.Endpoint), cfg, log)
}

// NewWithRPC builds a Client around an existing RPC implementation. Tests use
// this to substitute a fake node.
func NewWithRPC(rpcClient RPC, cfg Config, log *zap.Logger) *Client {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		rpc:        rpcClient,
		endpoint:   cfg.Endpoint,
		cfg:        cfg,
		log:        log.Named("ledger"),
		balances:   newTTLCache[string, uint64](cfg.BalanceTTL),
		statuses:   newTTLCache[string, SignatureStatus](cfg.StatusTTL),
		signatures: newTTLCache[sigListKey, []SignatureInfo](cfg.SignaturesTTL),
	}
}

// Endpoint returns the RPC endpoint this client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CommitmentTarget returns the configured default confirmation target.
func (c *Client) CommitmentTarget() Commitment {
	return c.cfg.CommitmentTarget
}

// GenerateKeypair mints a fresh custodial keypair. The secret is returned
// base58-encoded and must never be logged.
func (c *Client) GenerateKeypair() (address, secret string) {
	wallet := solana.NewWallet()
	return wallet.PublicKey().String(), wallet.PrivateKey.String()
}

// ValidateAddress rejects malformed base58 addresses without touching the network.
func ValidateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return types.ErrInvalidAddress(address)
	}
	return nil
}

func parsePubkey(address string) (solana.PublicKey, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, types.ErrInvalidAddress(address)
	}
	return pub, nil
}

// Balance returns the lamport balance of address, served from cache within
// its TTL.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	if cached, ok := c.balances.get(address); ok {
		return cached, nil
	}

	pub, err := parsePubkey(address)
	if err != nil {
		return 0, err
	}

	result, err := c.rpc.GetBalance(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, types.ErrRPC(err)
	}

	c.balances.put(address, result.Value)
	return result.Value, nil
}

// SignatureStatus looks up the commitment level of one signature.
func (c *Client) SignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	if cached, ok := c.statuses.get(signature); ok {
		return cached, nil
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return SignatureStatus{}, types.ErrInvalidAddress(signature)
	}

	result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return SignatureStatus{}, types.ErrRPC(err)
	}

	status := SignatureStatus{Status: CommitmentNotFound}
	if len(result.Value) > 0 && result.Value[0] != nil {
		info := result.Value[0]
		slot := info.Slot
		status = SignatureStatus{
			Status:        NormalizeCommitment(string(info.ConfirmationStatus)),
			Slot:          &slot,
			Confirmations: info.Confirmations,
			Err:           errText(info.Err),
		}
	}

	c.statuses.put(signature, status)
	return status, nil
}

// RecentSignatures lists the most recent signatures touching address, newest
// first, capped at limit.
func (c *Client) RecentSignatures(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	key := sigListKey{address: address, limit: limit}
	if cached, ok := c.signatures.get(key); ok {
		return append([]SignatureInfo(nil), cached...), nil
	}

	pub, err := parsePubkey(address)
	if err != nil {
		return nil, err
	}

	items, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, pub, &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	})
	if err != nil {
		return nil, types.ErrRPC(err)
	}

	infos := make([]SignatureInfo, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		info := SignatureInfo{
			Signature: item.Signature.String(),
			Status:    NormalizeCommitment(string(item.ConfirmationStatus)),
			Slot:      item.Slot,
			Err:       errText(item.Err),
		}
		if item.Memo != nil {
			info.Memo = *item.Memo
		}
		if item.BlockTime != nil {
			info.BlockTime = int64(*item.BlockTime)
		}
		infos = append(infos, info)
	}

	c.signatures.put(key, append([]SignatureInfo(nil), infos...))
	return infos, nil
}

func errText(err interface{}) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
