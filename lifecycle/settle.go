package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/settlement"
	"github.com/secureshuttle/escrow/types"
)

// ReleaseInput tunes a release request.
type ReleaseInput struct {
	RecipientOverride string
	AmountOverride    *uint64
	IdempotencyKey    string
}

// CancelInput tunes a cancel request.
type CancelInput struct {
	Mode            settlement.Mode
	OverrideAddress string
	IdempotencyKey  string
}

// ensureReleaseAllowed is the full precondition set for paying out: both
// roles bound to distinct identities, a destination known, funding observed,
// service marked complete, and no open dispute. An already released escrow
// passes through so repeat calls stay idempotent.
func ensureReleaseAllowed(esc *types.Escrow, in ReleaseInput) error {
	if esc.Status == types.StatusReleased {
		return nil
	}
	if esc.Status == types.StatusCancelled {
		return types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}
	if esc.DisputedAt != nil {
		return types.ErrInvalidState("escrow is disputed; release is blocked")
	}
	if !esc.HasBothRoles() {
		return types.ErrInvalidState("both roles must be claimed before release")
	}
	if esc.RecipientAddress == "" && in.RecipientOverride == "" {
		return types.ErrInvalidState("recipient address is not set")
	}
	if esc.FundedAt == nil {
		return types.ErrInvalidState("escrow is not funded")
	}
	if esc.ServiceMarkedCompleteAt == nil {
		return types.ErrInvalidState("service has not been marked complete")
	}
	return nil
}

// Release pays the recipient. Only the sender (or an admin) can trigger it,
// and only once every release precondition holds. Repeat calls return the
// recorded outcome without moving funds again.
func (m *Manager) Release(ctx context.Context, id string, actor Actor, in ReleaseInput) (*settlement.Outcome, *types.Escrow, error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin && (esc.PayerUserID == "" || esc.PayerUserID != actor.UserID) {
		return nil, nil, types.ErrForbidden("only the sender can release the escrow")
	}
	if err := ensureReleaseAllowed(esc, in); err != nil {
		return nil, nil, err
	}

	m.log.Info("release requested",
		zap.String("escrow_id", esc.ID),
		zap.String("user_id", actor.UserID),
	)
	outcome, err := m.engine.Release(ctx, esc, settlement.ReleaseOptions{
		RecipientOverride: in.RecipientOverride,
		AmountOverride:    in.AmountOverride,
		IdempotencyKey:    in.IdempotencyKey,
	})
	if err != nil {
		return nil, nil, err
	}
	updated, err := m.store.GetEscrow(ctx, esc.ID)
	return outcome, updated, err
}

// Cancel terminates the escrow under the requested settlement mode. The
// sender, the creator, or an admin may cancel; a dispute does not block
// cancellation. The outcome is nil when no funds moved.
func (m *Manager) Cancel(ctx context.Context, id string, actor Actor, in CancelInput) (*settlement.Outcome, *types.Escrow, error) {
	esc, err := m.Get(ctx, id, actor)
	if err != nil {
		return nil, nil, err
	}
	allowed := actor.IsAdmin ||
		(esc.PayerUserID != "" && esc.PayerUserID == actor.UserID) ||
		esc.CreatorUserID == actor.UserID
	if !allowed {
		return nil, nil, types.ErrForbidden("only the sender, the creator, or an admin can cancel the escrow")
	}
	if in.Mode == settlement.ModePayRecipient && esc.DisputedAt != nil && !actor.IsAdmin {
		return nil, nil, types.ErrInvalidState("escrow is disputed; pay_recipient settlement requires an admin")
	}

	m.log.Info("cancel requested",
		zap.String("escrow_id", esc.ID),
		zap.String("user_id", actor.UserID),
		zap.String("mode", string(in.Mode)),
	)
	return m.engine.Cancel(ctx, esc, settlement.CancelOptions{
		Mode:            in.Mode,
		OverrideAddress: in.OverrideAddress,
		IdempotencyKey:  in.IdempotencyKey,
	})
}

// ReleaseByPublicID resolves the public identifier and releases.
func (m *Manager) ReleaseByPublicID(ctx context.Context, publicID string, actor Actor, in ReleaseInput) (*settlement.Outcome, *types.Escrow, error) {
	esc, err := m.GetByPublicID(ctx, publicID, actor)
	if err != nil {
		return nil, nil, err
	}
	return m.Release(ctx, esc.ID, actor, in)
}

// CancelByPublicID resolves the public identifier and cancels.
func (m *Manager) CancelByPublicID(ctx context.Context, publicID string, actor Actor, in CancelInput) (*settlement.Outcome, *types.Escrow, error) {
	esc, err := m.GetByPublicID(ctx, publicID, actor)
	if err != nil {
		return nil, nil, err
	}
	return m.Cancel(ctx, esc.ID, actor, in)
}
