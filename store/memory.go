package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/secureshuttle/escrow/types"
)

// Memory is an in-process Store for tests and single-node development. It is
// safe for concurrent use; every read hands out a copy.
type Memory struct {
	mu           sync.Mutex
	escrows      map[string]*types.Escrow
	transactions map[string]*types.Transaction // keyed by signature
	txOrder      []string
	now          func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		escrows:      make(map[string]*types.Escrow),
		transactions: make(map[string]*types.Transaction),
		now:          time.Now,
	}
}

func (m *Memory) InsertEscrow(_ context.Context, escrow *types.Escrow) (*types.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := cloneEscrow(escrow)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PublicID == "" {
		rec.PublicID = NewPublicID()
	}
	if rec.Status == "" {
		rec.Status = types.StatusOpen
	}
	now := m.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	m.escrows[rec.ID] = rec
	return cloneEscrow(rec), nil
}

func (m *Memory) GetEscrow(_ context.Context, id string) (*types.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.escrows[id]
	if !ok {
		return nil, nil
	}
	return cloneEscrow(rec), nil
}

func (m *Memory) GetEscrowByPublicID(_ context.Context, publicID string) (*types.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.escrows {
		if rec.PublicID == publicID {
			return cloneEscrow(rec), nil
		}
	}
	return nil, nil
}

func (m *Memory) GetEscrowByInviteHash(_ context.Context, inviteTokenHash string) (*types.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inviteTokenHash == "" {
		return nil, nil
	}
	for _, rec := range m.escrows {
		if rec.InviteTokenHash == inviteTokenHash {
			return cloneEscrow(rec), nil
		}
	}
	return nil, nil
}

func (m *Memory) ListEscrows(_ context.Context, filter ListFilter) (int, []*types.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]*types.Escrow, 0, len(m.escrows))
	for _, rec := range m.escrows {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.MineOnly && !rec.IsParty(filter.ActorUserID) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}

	items := make([]*types.Escrow, 0, end-offset)
	for _, rec := range matched[offset:end] {
		items = append(items, cloneEscrow(rec))
	}
	return total, items, nil
}

func (m *Memory) UpdateEscrow(_ context.Context, id string, update EscrowUpdate) (*types.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.escrows[id]
	if !ok {
		return nil, nil
	}

	applyEscrowUpdate(rec, update)
	rec.Version++
	rec.UpdatedAt = m.now().UTC()
	return cloneEscrow(rec), nil
}

func (m *Memory) InsertTransaction(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := cloneTransaction(tx)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = "pending"
	}
	rec.RecordedAt = m.now().UTC()

	m.transactions[rec.Signature] = rec
	m.txOrder = append(m.txOrder, rec.Signature)
	return cloneTransaction(rec), nil
}

func (m *Memory) GetTransactionBySignature(_ context.Context, signature string) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.transactions[signature]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(rec), nil
}

// ListTransactions returns an escrow's records newest first.
func (m *Memory) ListTransactions(_ context.Context, escrowID string) ([]*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Transaction
	for i := len(m.txOrder) - 1; i >= 0; i-- {
		rec := m.transactions[m.txOrder[i]]
		if rec != nil && rec.EscrowID == escrowID {
			out = append(out, cloneTransaction(rec))
		}
	}
	return out, nil
}

func (m *Memory) UpdateTransaction(_ context.Context, signature string, update TransactionUpdate) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.transactions[signature]
	if !ok {
		return nil, nil
	}
	if update.Status != nil {
		rec.Status = *update.Status
	}
	if update.RawError != nil {
		rec.RawError = *update.RawError
	}
	if update.Memo != nil {
		rec.Memo = *update.Memo
	}
	return cloneTransaction(rec), nil
}

func applyEscrowUpdate(rec *types.Escrow, u EscrowUpdate) {
	if u.Label != nil {
		rec.Label = *u.Label
	}
	if u.SenderAddress != nil {
		rec.SenderAddress = *u.SenderAddress
	}
	if u.RecipientAddress != nil {
		rec.RecipientAddress = *u.RecipientAddress
	}
	if u.ExpectedAmountLamports != nil {
		rec.ExpectedAmountLamports = *u.ExpectedAmountLamports
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.PayerUserID != nil {
		rec.PayerUserID = *u.PayerUserID
	}
	if u.PayeeUserID != nil {
		rec.PayeeUserID = *u.PayeeUserID
	}
	if u.SenderClaimedAt != nil {
		rec.SenderClaimedAt = u.SenderClaimedAt
	}
	if u.RecipientClaimedAt != nil {
		rec.RecipientClaimedAt = u.RecipientClaimedAt
	}
	if u.JoinTokenHash != nil {
		rec.JoinTokenHash = *u.JoinTokenHash
	}
	if u.JoinExpiresAt != nil {
		rec.JoinExpiresAt = u.JoinExpiresAt
	}
	if u.InviteTokenHash != nil {
		rec.InviteTokenHash = *u.InviteTokenHash
	}
	if u.InviteExpiresAt != nil {
		rec.InviteExpiresAt = u.InviteExpiresAt
	}
	if u.InviteUsedAt != nil {
		rec.InviteUsedAt = u.InviteUsedAt
	}
	if u.AcceptedAt != nil {
		rec.AcceptedAt = u.AcceptedAt
	}
	if u.FundedAt != nil {
		rec.FundedAt = u.FundedAt
	}
	if u.ServiceMarkedCompleteAt != nil {
		rec.ServiceMarkedCompleteAt = u.ServiceMarkedCompleteAt
	}
	if u.DisputedAt != nil {
		rec.DisputedAt = u.DisputedAt
	}
	if u.DisputeReason != nil {
		rec.DisputeReason = *u.DisputeReason
	}
	if u.FinalizeNonce != nil {
		rec.FinalizeNonce = *u.FinalizeNonce
	}
	if u.LastIntentHash != nil {
		rec.LastIntentHash = *u.LastIntentHash
	}
	if u.SettledSignature != nil {
		rec.SettledSignature = *u.SettledSignature
	}
	if u.FailureReason != nil {
		rec.FailureReason = *u.FailureReason
	}
}

func cloneEscrow(e *types.Escrow) *types.Escrow {
	if e == nil {
		return nil
	}
	c := *e
	c.SenderClaimedAt = cloneTime(e.SenderClaimedAt)
	c.RecipientClaimedAt = cloneTime(e.RecipientClaimedAt)
	c.JoinExpiresAt = cloneTime(e.JoinExpiresAt)
	c.InviteExpiresAt = cloneTime(e.InviteExpiresAt)
	c.InviteUsedAt = cloneTime(e.InviteUsedAt)
	c.AcceptedAt = cloneTime(e.AcceptedAt)
	c.FundedAt = cloneTime(e.FundedAt)
	c.ServiceMarkedCompleteAt = cloneTime(e.ServiceMarkedCompleteAt)
	c.DisputedAt = cloneTime(e.DisputedAt)
	return &c
}

func cloneTransaction(t *types.Transaction) *types.Transaction {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

var _ Store = (*Memory)(nil)
