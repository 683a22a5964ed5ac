// Package lifecycle is the escrow state machine: role claiming, funding
// detection, dispute handling, invite flows, and the authorization guards in
// front of every money-moving action. Money movement itself is delegated to
// the settlement engine.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/ledger"
	"github.com/secureshuttle/escrow/settlement"
	"github.com/secureshuttle/escrow/store"
	"github.com/secureshuttle/escrow/types"
	"github.com/secureshuttle/escrow/vault"
)

// Ledger is the slice of the ledger client the lifecycle manager consumes.
type Ledger interface {
	GenerateKeypair() (address, secret string)
	Balance(ctx context.Context, address string) (uint64, error)
	RecentSignatures(ctx context.Context, address string, limit int) ([]ledger.SignatureInfo, error)
}

// Config carries the lifecycle tunables.
type Config struct {
	// FundingMinLamports is the funding floor when no expected amount is set.
	FundingMinLamports uint64
	// SignatureScanLimit caps how many recent signatures one funding sync pulls.
	SignatureScanLimit int
	JoinTTL            time.Duration
	InviteTTL          time.Duration
}

func (c *Config) applyDefaults() {
	if c.FundingMinLamports == 0 {
		c.FundingMinLamports = 1
	}
	if c.SignatureScanLimit <= 0 {
		c.SignatureScanLimit = 10
	}
	if c.JoinTTL <= 0 {
		c.JoinTTL = 7 * 24 * time.Hour
	}
	if c.InviteTTL <= 0 {
		c.InviteTTL = 24 * time.Hour
	}
}

// Actor is the verified identity attached to a request. Verification happens
// upstream; the core only consumes the subject and the admin flag.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// Manager drives escrow state transitions.
type Manager struct {
	store  store.Store
	ledger Ledger
	engine *settlement.Engine
	vault  *vault.Vault
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

// New wires a lifecycle manager.
func New(st store.Store, ld Ledger, eng *settlement.Engine, v *vault.Vault, cfg Config, log *zap.Logger) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:  st,
		ledger: ld,
		engine: eng,
		vault:  v,
		cfg:    cfg,
		log:    log.Named("lifecycle"),
		now:    time.Now,
	}
}

// CreateInput is the caller-supplied portion of a new escrow.
type CreateInput struct {
	Label                  string
	SenderAddress          string
	RecipientAddress       string
	ExpectedAmountLamports uint64
}

// CreateResult is the created escrow plus the join token, which is returned
// exactly once and never recoverable afterwards.
type CreateResult struct {
	Escrow    *types.Escrow
	JoinToken string
}

// Create generates the custodial keypair, seals the secret, and inserts the
// escrow in the open state with a fresh join token.
func (m *Manager) Create(ctx context.Context, actor Actor, in CreateInput) (*CreateResult, error) {
	if actor.UserID == "" {
		return nil, types.ErrAuthRequired()
	}
	if in.SenderAddress != "" {
		if err := ledger.ValidateAddress(in.SenderAddress); err != nil {
			return nil, err
		}
	}
	if in.RecipientAddress != "" {
		if err := ledger.ValidateAddress(in.RecipientAddress); err != nil {
			return nil, err
		}
	}

	address, secret := m.ledger.GenerateKeypair()
	sealed, err := m.vault.Encrypt(secret)
	if err != nil {
		return nil, err
	}

	joinToken := NewToken()
	joinExpiry := m.now().Add(m.cfg.JoinTTL)

	esc, err := m.store.InsertEscrow(ctx, &types.Escrow{
		PublicKey:              address,
		SecretKey:              sealed,
		Label:                  in.Label,
		SenderAddress:          in.SenderAddress,
		RecipientAddress:       in.RecipientAddress,
		ExpectedAmountLamports: in.ExpectedAmountLamports,
		Status:                 types.StatusOpen,
		CreatorUserID:          actor.UserID,
		JoinTokenHash:          HashToken(joinToken),
		JoinExpiresAt:          &joinExpiry,
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("escrow created",
		zap.String("escrow_id", esc.ID),
		zap.String("public_id", esc.PublicID),
		zap.String("custodial_address", esc.PublicKey),
	)
	return &CreateResult{Escrow: esc, JoinToken: joinToken}, nil
}

// Get fetches an escrow by id, enforcing view access.
func (m *Manager) Get(ctx context.Context, id string, actor Actor) (*types.Escrow, error) {
	esc, err := m.store.GetEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.checkView(esc, id, actor)
}

// GetByPublicID fetches an escrow by its public identifier, enforcing view access.
func (m *Manager) GetByPublicID(ctx context.Context, publicID string, actor Actor) (*types.Escrow, error) {
	esc, err := m.store.GetEscrowByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	return m.checkView(esc, publicID, actor)
}

func (m *Manager) checkView(esc *types.Escrow, ref string, actor Actor) (*types.Escrow, error) {
	if esc == nil {
		return nil, types.ErrEscrowNotFound(ref)
	}
	if !actor.IsAdmin && !esc.IsParty(actor.UserID) {
		return nil, types.ErrForbidden("not a party to this escrow")
	}
	return esc, nil
}

// List pages escrows. Only admins may widen the scope beyond their own.
func (m *Manager) List(ctx context.Context, actor Actor, status types.Status, limit, offset int, mineOnly bool) (int, []*types.Escrow, error) {
	if !mineOnly && !actor.IsAdmin {
		return 0, nil, types.ErrForbidden("only admins can list all escrows")
	}
	return m.store.ListEscrows(ctx, store.ListFilter{
		Status:      status,
		Limit:       limit,
		Offset:      offset,
		ActorUserID: actor.UserID,
		MineOnly:    mineOnly,
	})
}

// UpdateInput is the caller-editable subset of an escrow.
type UpdateInput struct {
	Label                  *string
	SenderAddress          *string
	RecipientAddress       *string
	ExpectedAmountLamports *uint64
}

// Update applies a partial edit to a non-terminal escrow.
func (m *Manager) Update(ctx context.Context, id string, actor Actor, in UpdateInput) (*types.Escrow, error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if esc.Status.Terminal() {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}
	if in.SenderAddress != nil && *in.SenderAddress != "" {
		if err := ledger.ValidateAddress(*in.SenderAddress); err != nil {
			return nil, err
		}
	}
	if in.RecipientAddress != nil && *in.RecipientAddress != "" {
		if err := ledger.ValidateAddress(*in.RecipientAddress); err != nil {
			return nil, err
		}
	}

	return m.store.UpdateEscrow(ctx, esc.ID, store.EscrowUpdate{
		Label:                  in.Label,
		SenderAddress:          in.SenderAddress,
		RecipientAddress:       in.RecipientAddress,
		ExpectedAmountLamports: in.ExpectedAmountLamports,
	})
}

// Balance returns the custodial address balance for a visible escrow.
func (m *Manager) Balance(ctx context.Context, id string, actor Actor) (address string, lamports uint64, err error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return "", 0, err
	}
	lamports, err = m.ledger.Balance(ctx, esc.PublicKey)
	if err != nil {
		return "", 0, err
	}
	return esc.PublicKey, lamports, nil
}

// Transactions lists the ledger records of a visible escrow, newest first.
func (m *Manager) Transactions(ctx context.Context, id string, actor Actor) ([]*types.Transaction, error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return m.store.ListTransactions(ctx, esc.ID)
}

// Reconcile runs a settlement reconciliation pass for a visible escrow.
func (m *Manager) Reconcile(ctx context.Context, id string, actor Actor) (*settlement.ReconcileResult, error) {
	if _, err := m.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	return m.engine.Reconcile(ctx, id)
}
