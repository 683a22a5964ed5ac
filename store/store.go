// Package store defines the document-store boundary for escrow and
// transaction records. Implementations must support partial updates that leave
// unspecified fields untouched; timestamps cross the boundary as
// epoch-millisecond numbers and are normalized to time.Time exactly once,
// inside the implementation.
package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/secureshuttle/escrow/types"
)

// ListFilter narrows and pages an escrow listing.
type ListFilter struct {
	Status      types.Status
	Limit       int
	Offset      int
	ActorUserID string
	MineOnly    bool
}

// EscrowUpdate is a partial escrow mutation: nil fields are left untouched.
// Every applied update bumps the record's Version.
type EscrowUpdate struct {
	Label                  *string
	SenderAddress          *string
	RecipientAddress       *string
	ExpectedAmountLamports *uint64

	Status *types.Status

	PayerUserID *string
	PayeeUserID *string

	SenderClaimedAt    *time.Time
	RecipientClaimedAt *time.Time

	JoinTokenHash *string
	JoinExpiresAt *time.Time

	InviteTokenHash *string
	InviteExpiresAt *time.Time
	InviteUsedAt    *time.Time
	AcceptedAt      *time.Time

	FundedAt                *time.Time
	ServiceMarkedCompleteAt *time.Time
	DisputedAt              *time.Time
	DisputeReason           *string

	FinalizeNonce    *uint64
	LastIntentHash   *string
	SettledSignature *string
	FailureReason    *string
}

// TransactionUpdate is the status/error refresh reconciliation applies.
type TransactionUpdate struct {
	Status   *string
	RawError *string
	Memo     *string
}

// Store is the document-store contract the lifecycle manager and settlement
// engine depend on.
type Store interface {
	InsertEscrow(ctx context.Context, escrow *types.Escrow) (*types.Escrow, error)
	GetEscrow(ctx context.Context, id string) (*types.Escrow, error)
	GetEscrowByPublicID(ctx context.Context, publicID string) (*types.Escrow, error)
	GetEscrowByInviteHash(ctx context.Context, inviteTokenHash string) (*types.Escrow, error)
	ListEscrows(ctx context.Context, filter ListFilter) (total int, items []*types.Escrow, err error)
	UpdateEscrow(ctx context.Context, id string, update EscrowUpdate) (*types.Escrow, error)

	InsertTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
	GetTransactionBySignature(ctx context.Context, signature string) (*types.Transaction, error)
	ListTransactions(ctx context.Context, escrowID string) ([]*types.Transaction, error)
	UpdateTransaction(ctx context.Context, signature string, update TransactionUpdate) (*types.Transaction, error)
}

// NewPublicID mints a short url-safe public identifier for an escrow.
func NewPublicID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}
