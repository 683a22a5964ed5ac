package httpapi

import (
	"time"

	"github.com/secureshuttle/escrow/types"
)

// escrowView is the wire shape of an escrow. The sealed custodial secret and
// the join/invite token hashes are never serialized.
type escrowView struct {
	ID               string `json:"id"`
	PublicID         string `json:"public_id"`
	CustodialAddress string `json:"custodial_address"`
	Label            string `json:"label,omitempty"`

	SenderAddress          string `json:"sender_address,omitempty"`
	RecipientAddress       string `json:"recipient_address,omitempty"`
	ExpectedAmountLamports uint64 `json:"expected_amount_lamports"`

	Status types.Status `json:"status"`

	CreatorUserID string `json:"creator_user_id"`
	PayerUserID   string `json:"payer_user_id,omitempty"`
	PayeeUserID   string `json:"payee_user_id,omitempty"`

	SenderClaimedAt         *int64 `json:"sender_claimed_at,omitempty"`
	RecipientClaimedAt      *int64 `json:"recipient_claimed_at,omitempty"`
	JoinExpiresAt           *int64 `json:"join_expires_at,omitempty"`
	InviteExpiresAt         *int64 `json:"invite_expires_at,omitempty"`
	InviteUsedAt            *int64 `json:"invite_used_at,omitempty"`
	AcceptedAt              *int64 `json:"accepted_at,omitempty"`
	FundedAt                *int64 `json:"funded_at,omitempty"`
	ServiceMarkedCompleteAt *int64 `json:"service_marked_complete_at,omitempty"`
	DisputedAt              *int64 `json:"disputed_at,omitempty"`

	DisputeReason    string `json:"dispute_reason,omitempty"`
	FinalizeNonce    uint64 `json:"finalize_nonce"`
	SettledSignature string `json:"settled_signature,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`

	Version   int64 `json:"version"`
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

func ms(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := types.EpochMillis(*t)
	return &v
}

func viewEscrow(e *types.Escrow) escrowView {
	return escrowView{
		ID:                      e.ID,
		PublicID:                e.PublicID,
		CustodialAddress:        e.PublicKey,
		Label:                   e.Label,
		SenderAddress:           e.SenderAddress,
		RecipientAddress:        e.RecipientAddress,
		ExpectedAmountLamports:  e.ExpectedAmountLamports,
		Status:                  e.Status,
		CreatorUserID:           e.CreatorUserID,
		PayerUserID:             e.PayerUserID,
		PayeeUserID:             e.PayeeUserID,
		SenderClaimedAt:         ms(e.SenderClaimedAt),
		RecipientClaimedAt:      ms(e.RecipientClaimedAt),
		JoinExpiresAt:           ms(e.JoinExpiresAt),
		InviteExpiresAt:         ms(e.InviteExpiresAt),
		InviteUsedAt:            ms(e.InviteUsedAt),
		AcceptedAt:              ms(e.AcceptedAt),
		FundedAt:                ms(e.FundedAt),
		ServiceMarkedCompleteAt: ms(e.ServiceMarkedCompleteAt),
		DisputedAt:              ms(e.DisputedAt),
		DisputeReason:           e.DisputeReason,
		FinalizeNonce:           e.FinalizeNonce,
		SettledSignature:        e.SettledSignature,
		FailureReason:           e.FailureReason,
		Version:                 e.Version,
		CreatedAt:               types.EpochMillis(e.CreatedAt),
		UpdatedAt:               types.EpochMillis(e.UpdatedAt),
	}
}

type transactionView struct {
	ID             string       `json:"id"`
	EscrowID       string       `json:"escrow_id"`
	Signature      string       `json:"signature"`
	Type           types.TxType `json:"type"`
	AmountLamports uint64       `json:"amount_lamports"`
	FromAddress    string       `json:"from_address,omitempty"`
	ToAddress      string       `json:"to_address,omitempty"`
	Status         string       `json:"status"`
	Memo           string       `json:"memo,omitempty"`
	RawError       string       `json:"raw_error,omitempty"`
	RecordedAt     int64        `json:"recorded_at"`
}

func viewTransaction(t *types.Transaction) transactionView {
	return transactionView{
		ID:             t.ID,
		EscrowID:       t.EscrowID,
		Signature:      t.Signature,
		Type:           t.Type,
		AmountLamports: t.AmountLamports,
		FromAddress:    t.FromAddress,
		ToAddress:      t.ToAddress,
		Status:         t.Status,
		Memo:           t.Memo,
		RawError:       t.RawError,
		RecordedAt:     types.EpochMillis(t.RecordedAt),
	}
}

func viewTransactions(txs []*types.Transaction) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, viewTransaction(tx))
	}
	return out
}
