package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/ledger"
	"github.com/secureshuttle/escrow/store"
	"github.com/secureshuttle/escrow/types"
)

// ClaimRole binds the acting identity to one side of the escrow after
// validating the join token. One identity can never hold both roles, and a
// role already bound to someone else cannot be taken over.
func (m *Manager) ClaimRole(ctx context.Context, publicID string, actor Actor, role types.Role, joinToken string) (*types.Escrow, error) {
	if actor.UserID == "" {
		return nil, types.ErrAuthRequired()
	}
	esc, err := m.store.GetEscrowByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if esc == nil {
		return nil, types.ErrEscrowNotFound(publicID)
	}
	if esc.Status.Terminal() {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}
	if err := m.validateJoinToken(esc, joinToken); err != nil {
		return nil, err
	}

	update, err := m.bindRole(esc, actor.UserID, role)
	if err != nil {
		return nil, err
	}
	return m.store.UpdateEscrow(ctx, esc.ID, update)
}

// bindRole computes the partial update that claims role for userID, including
// the status advancement once both roles are bound.
func (m *Manager) bindRole(esc *types.Escrow, userID string, role types.Role) (store.EscrowUpdate, error) {
	now := m.now().UTC()
	var update store.EscrowUpdate

	payer, payee := esc.PayerUserID, esc.PayeeUserID

	switch role {
	case types.RoleSender:
		if payee == userID {
			return update, types.ErrInvalidState("identity already holds the recipient role")
		}
		if payer != "" && payer != userID {
			return update, types.ErrInvalidState("sender role is already claimed")
		}
		update.PayerUserID = &userID
		update.SenderClaimedAt = &now
		payer = userID

	case types.RoleRecipient:
		if payer == userID {
			return update, types.ErrInvalidState("identity already holds the sender role")
		}
		if payee != "" && payee != userID {
			return update, types.ErrInvalidState("recipient role is already claimed")
		}
		update.PayeeUserID = &userID
		update.RecipientClaimedAt = &now
		payee = userID

	default:
		return update, types.ErrInvalidState("unknown role %q", role)
	}

	if esc.Status == types.StatusOpen || esc.Status == types.StatusRolesPending {
		next := types.StatusRolesPending
		if payer != "" && payee != "" {
			next = types.StatusRolesClaimed
		}
		update.Status = &next
	}

	m.log.Info("role claimed",
		zap.String("escrow_id", esc.ID),
		zap.String("role", string(role)),
	)
	return update, nil
}

// SetRecipientAddress records where released funds should land. Recipient-only.
func (m *Manager) SetRecipientAddress(ctx context.Context, publicID string, actor Actor, joinToken, address string) (*types.Escrow, error) {
	esc, err := m.store.GetEscrowByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if esc == nil {
		return nil, types.ErrEscrowNotFound(publicID)
	}
	if esc.Status.Terminal() {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}
	if err := m.validateJoinToken(esc, joinToken); err != nil {
		return nil, err
	}
	if esc.PayeeUserID == "" || esc.PayeeUserID != actor.UserID {
		return nil, types.ErrForbidden("only the recipient can set the recipient address")
	}
	if err := ledger.ValidateAddress(address); err != nil {
		return nil, err
	}

	return m.store.UpdateEscrow(ctx, esc.ID, store.EscrowUpdate{
		RecipientAddress: &address,
	})
}

// CreateInvite issues a single-use recipient invite. Only the hash and expiry
// are persisted; the token itself is returned once.
func (m *Manager) CreateInvite(ctx context.Context, publicID string, actor Actor) (string, *types.Escrow, error) {
	esc, err := m.GetByPublicID(ctx, publicID, actor)
	if err != nil {
		return "", nil, err
	}
	if esc.Status.Terminal() {
		return "", nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}

	invite := NewToken()
	expiry := m.now().Add(m.cfg.InviteTTL).UTC()

	updated, err := m.store.UpdateEscrow(ctx, esc.ID, store.EscrowUpdate{
		InviteTokenHash: ptr(HashToken(invite)),
		InviteExpiresAt: &expiry,
	})
	if err != nil {
		return "", nil, err
	}
	return invite, updated, nil
}

// AcceptInvite validates an invite token, binds the recipient role, and
// stamps acceptance as one logical unit.
func (m *Manager) AcceptInvite(ctx context.Context, inviteToken string, actor Actor) (*types.Escrow, error) {
	if actor.UserID == "" {
		return nil, types.ErrAuthRequired()
	}
	if inviteToken == "" {
		return nil, types.ErrInviteToken("invite token is required")
	}

	esc, err := m.store.GetEscrowByInviteHash(ctx, HashToken(inviteToken))
	if err != nil {
		return nil, err
	}
	if esc == nil {
		return nil, types.ErrInviteToken("invite token is invalid")
	}
	if esc.InviteExpiresAt != nil && m.now().After(*esc.InviteExpiresAt) {
		return nil, types.ErrInviteToken("invite token has expired")
	}
	if esc.Status.Terminal() {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}

	update, err := m.bindRole(esc, actor.UserID, types.RoleRecipient)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	update.InviteUsedAt = &now
	update.AcceptedAt = &now

	return m.store.UpdateEscrow(ctx, esc.ID, update)
}

func ptr[T any](v T) *T {
	return &v
}
