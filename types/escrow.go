package types

import "time"

// Role identifies which side of the escrow a party binds to.
type Role string

const (
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
)

// Escrow is the canonical record for one custodial escrow. The custodial
// secret key is stored encrypted (vault package); everything else is plain.
// Once Status is terminal no field except read-derived projections changes.
type Escrow struct {
	ID       string
	PublicID string

	PublicKey string
	SecretKey string // encrypted at rest

	Label                  string
	SenderAddress          string
	RecipientAddress       string
	ExpectedAmountLamports uint64

	Status Status

	CreatorUserID string
	PayerUserID   string
	PayeeUserID   string

	SenderClaimedAt    *time.Time
	RecipientClaimedAt *time.Time

	JoinTokenHash string
	JoinExpiresAt *time.Time

	InviteTokenHash string
	InviteExpiresAt *time.Time
	InviteUsedAt    *time.Time
	AcceptedAt      *time.Time

	FundedAt                *time.Time
	ServiceMarkedCompleteAt *time.Time
	DisputedAt              *time.Time
	DisputeReason           string

	FinalizeNonce    uint64
	LastIntentHash   string
	SettledSignature string
	FailureReason    string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasBothRoles reports whether the payer and payee slots are bound to two
// distinct identities.
func (e *Escrow) HasBothRoles() bool {
	return e.PayerUserID != "" && e.PayeeUserID != "" && e.PayerUserID != e.PayeeUserID
}

// IsParty reports whether userID is the creator, payer, or payee.
func (e *Escrow) IsParty(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == e.CreatorUserID || userID == e.PayerUserID || userID == e.PayeeUserID
}
