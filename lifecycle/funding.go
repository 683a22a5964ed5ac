package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/ledger"
	"github.com/secureshuttle/escrow/store"
	"github.com/secureshuttle/escrow/types"
)

// FundingReport is the outcome of one funding sync.
type FundingReport struct {
	Escrow           *types.Escrow
	BalanceLamports  uint64
	RequiredLamports uint64
	Funded           bool
	NewDeposits      int
}

// requiredLamports is the funding floor: the expected amount when one was
// set, otherwise the configured minimum.
func (m *Manager) requiredLamports(esc *types.Escrow) uint64 {
	if esc.ExpectedAmountLamports > 0 {
		return esc.ExpectedAmountLamports
	}
	return m.cfg.FundingMinLamports
}

// SyncFunding polls the chain for the custodial address: every scanned
// signature is upserted as a deposit record, and the escrow is promoted to
// funded once the balance clears the floor and at least one deposit is
// attributable (confirmed and error free). An escrow manually marked funded
// stays funded even when no deposit was tracked.
func (m *Manager) SyncFunding(ctx context.Context, id string, actor Actor) (*FundingReport, error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if esc.Status.Terminal() {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}

	balance, err := m.ledger.Balance(ctx, esc.PublicKey)
	if err != nil {
		return nil, err
	}

	infos, err := m.ledger.RecentSignatures(ctx, esc.PublicKey, m.cfg.SignatureScanLimit)
	if err != nil {
		return nil, err
	}

	newDeposits := 0
	haveConfirmedDeposit := false
	for _, info := range infos {
		if info.Err == "" && info.Status.Satisfies(ledger.CommitmentConfirmed) {
			haveConfirmedDeposit = true
		}

		existing, err := m.store.GetTransactionBySignature(ctx, info.Signature)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			status := string(info.Status)
			if existing.Status != status || existing.RawError != info.Err || existing.Memo != info.Memo {
				if _, err := m.store.UpdateTransaction(ctx, info.Signature, store.TransactionUpdate{
					Status:   &status,
					RawError: &info.Err,
					Memo:     &info.Memo,
				}); err != nil {
					return nil, err
				}
			}
			continue
		}
		if _, err := m.store.InsertTransaction(ctx, &types.Transaction{
			EscrowID:  esc.ID,
			Signature: info.Signature,
			Type:      types.TxDeposit,
			ToAddress: esc.PublicKey,
			Status:    string(info.Status),
			RawError:  info.Err,
			Memo:      info.Memo,
		}); err != nil {
			return nil, err
		}
		newDeposits++
	}

	required := m.requiredLamports(esc)
	funded := balance >= required && (haveConfirmedDeposit || esc.FundedAt != nil)

	if funded && esc.FundedAt == nil && !esc.Status.Terminal() {
		now := m.now().UTC()
		update := store.EscrowUpdate{FundedAt: &now}
		if esc.Status == types.StatusOpen ||
			esc.Status == types.StatusRolesPending ||
			esc.Status == types.StatusRolesClaimed {
			update.Status = ptr(types.StatusFunded)
		}
		esc, err = m.store.UpdateEscrow(ctx, esc.ID, update)
		if err != nil {
			return nil, err
		}
		m.log.Info("escrow funded",
			zap.String("escrow_id", esc.ID),
			zap.Uint64("balance_lamports", balance),
			zap.Uint64("required_lamports", required),
		)
	}

	return &FundingReport{
		Escrow:           esc,
		BalanceLamports:  balance,
		RequiredLamports: required,
		Funded:           esc.FundedAt != nil,
		NewDeposits:      newDeposits,
	}, nil
}

// MarkFunded force-marks an escrow as funded without a chain check. Payer or
// admin only; used when funding arrived through a path the scanner cannot see.
func (m *Manager) MarkFunded(ctx context.Context, id string, actor Actor) (*types.Escrow, error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && esc.PayerUserID != actor.UserID && esc.CreatorUserID != actor.UserID {
		return nil, types.ErrForbidden("only the sender, the creator, or an admin can mark the escrow funded")
	}
	if esc.Status.Terminal() {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}
	if esc.FundedAt != nil {
		return esc, nil
	}

	now := m.now().UTC()
	update := store.EscrowUpdate{FundedAt: &now}
	if esc.Status == types.StatusOpen ||
		esc.Status == types.StatusRolesPending ||
		esc.Status == types.StatusRolesClaimed {
		update.Status = ptr(types.StatusFunded)
	}
	return m.store.UpdateEscrow(ctx, esc.ID, update)
}

// MarkServiceComplete records that the recipient considers the service
// delivered. Recipient-only, and only after funding.
func (m *Manager) MarkServiceComplete(ctx context.Context, id string, actor Actor) (*types.Escrow, error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if esc.PayeeUserID == "" || esc.PayeeUserID != actor.UserID {
		return nil, types.ErrForbidden("only the recipient can mark the service complete")
	}
	if esc.Status.Terminal() {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}
	if esc.FundedAt == nil {
		return nil, types.ErrInvalidState("escrow is not funded yet")
	}
	if esc.ServiceMarkedCompleteAt != nil {
		return esc, nil
	}

	now := m.now().UTC()
	update := store.EscrowUpdate{ServiceMarkedCompleteAt: &now}
	if esc.Status == types.StatusFunded {
		update.Status = ptr(types.StatusServiceComplete)
	}
	return m.store.UpdateEscrow(ctx, esc.ID, update)
}

// OpenDispute freezes release. Either party may raise it on any non-terminal
// escrow; the dispute is cleared only by an admin-driven cancel or release.
func (m *Manager) OpenDispute(ctx context.Context, id string, actor Actor, reason string) (*types.Escrow, error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && !esc.IsParty(actor.UserID) {
		return nil, types.ErrForbidden("not a party to this escrow")
	}
	if esc.Status.Terminal() {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}
	if esc.DisputedAt != nil {
		return esc, nil
	}

	now := m.now().UTC()
	m.log.Warn("dispute opened",
		zap.String("escrow_id", esc.ID),
		zap.String("user_id", actor.UserID),
	)
	return m.store.UpdateEscrow(ctx, esc.ID, store.EscrowUpdate{
		DisputedAt:    &now,
		DisputeReason: &reason,
		Status:        ptr(types.StatusDisputed),
	})
}
