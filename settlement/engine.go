// Package settlement executes release, refund, and payout transfers at most
// once per logical intent. Duplicate calls, crashes between submission and
// confirmation, and already-terminal escrows all resolve to the previously
// recorded outcome instead of a second transfer. There is no hard mutual
// exclusion across concurrent settlements of one escrow; the intent lookup is
// best-effort de-duplication.
package settlement

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/ledger"
	"github.com/secureshuttle/escrow/store"
	"github.com/secureshuttle/escrow/types"
	"github.com/secureshuttle/escrow/vault"
)

// Ledger is the slice of the ledger client the engine consumes.
type Ledger interface {
	Balance(ctx context.Context, address string) (uint64, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferResult, error)
	SignatureStatus(ctx context.Context, signature string) (ledger.SignatureStatus, error)
}

// Mode selects how a cancellation settles remaining funds.
type Mode string

const (
	ModeNone         Mode = "none"
	ModeRefundSender Mode = "refund_sender"
	ModePayRecipient Mode = "pay_recipient"
)

// Outcome is the caller-facing result of a settlement action.
type Outcome struct {
	Signature        string `json:"signature"`
	FromAddress      string `json:"from_address"`
	ToAddress        string `json:"to_address"`
	AmountLamports   uint64 `json:"amount_lamports"`
	Status           string `json:"status"`
	CommitmentTarget string `json:"commitment_target"`
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	EscrowID            string       `json:"escrow_id"`
	EscrowStatus        types.Status `json:"escrow_status"`
	UpdatedTransactions int          `json:"updated_transactions"`
}

// action parameterizes the shared idempotent settlement algorithm.
type action struct {
	name    string
	txType  types.TxType
	pending types.Status
	final   types.Status
}

var (
	actRelease = action{name: "release", txType: types.TxRelease, pending: types.StatusReleasePending, final: types.StatusReleased}
	actRefund  = action{name: "refund", txType: types.TxRefund, pending: types.StatusRefundPending, final: types.StatusCancelled}
)

// Engine coordinates the store, vault, and ledger for settlement actions.
type Engine struct {
	store  store.Store
	ledger Ledger
	vault  *vault.Vault
	log    *zap.Logger
}

// New builds a settlement engine.
func New(st store.Store, ld Ledger, v *vault.Vault, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: st, ledger: ld, vault: v, log: log.Named("settlement")}
}

// ReleaseOptions tune a release call. A nil AmountOverride sweeps the full
// balance minus the fixed fee.
type ReleaseOptions struct {
	RecipientOverride string
	AmountOverride    *uint64
	IdempotencyKey    string
}

// Release moves escrowed funds to the recipient, at most once per intent.
func (e *Engine) Release(ctx context.Context, esc *types.Escrow, opts ReleaseOptions) (*Outcome, error) {
	if esc.Status == types.StatusCancelled {
		return nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}

	recipient := opts.RecipientOverride
	if recipient == "" {
		recipient = esc.RecipientAddress
	}

	if esc.Status == types.StatusReleased {
		if prior, err := e.priorOutcome(ctx, esc, actRelease, recipient); err != nil || prior != nil {
			return prior, err
		}
	}

	if recipient == "" {
		return nil, types.NewError(types.KindInvalidAddress, "no recipient address configured or provided")
	}
	if err := ledger.ValidateAddress(recipient); err != nil {
		return nil, err
	}

	amount, err := e.resolveAmount(ctx, esc, opts.AmountOverride)
	if err != nil {
		return nil, err
	}

	return e.settle(ctx, esc, actRelease, recipient, amount, opts.IdempotencyKey)
}

// CancelOptions tune a cancellation. OverrideAddress redirects the settlement
// transfer for the refund_sender and pay_recipient modes.
type CancelOptions struct {
	Mode            Mode
	OverrideAddress string
	IdempotencyKey  string
}

// Cancel terminates an escrow under one of three settlement modes. The final
// status is cancelled, except for pay_recipient which settles like a release.
// The returned outcome is nil when no transfer happened.
func (e *Engine) Cancel(ctx context.Context, esc *types.Escrow, opts CancelOptions) (*Outcome, *types.Escrow, error) {
	if esc.Status == types.StatusCancelled {
		return nil, nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
	}

	switch opts.Mode {
	case "", ModeNone:
		if esc.Status == types.StatusReleased {
			return nil, nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
		}
		updated, err := e.finalizeWithoutTransfer(ctx, esc.ID, types.StatusCancelled)
		return nil, updated, err

	case ModeRefundSender:
		if esc.Status == types.StatusReleased {
			return nil, nil, types.ErrAlreadyTerminal(esc.ID, esc.Status)
		}
		dest := opts.OverrideAddress
		if dest == "" {
			dest = esc.SenderAddress
		}
		if dest == "" {
			return nil, nil, types.NewError(types.KindInvalidAddress, "refund address is required for refund_sender settlement")
		}
		if err := ledger.ValidateAddress(dest); err != nil {
			return nil, nil, err
		}

		balance, err := e.ledger.Balance(ctx, esc.PublicKey)
		if err != nil {
			return nil, nil, err
		}
		if balance <= ledger.FeeLamports {
			// Nothing sweepable beyond the fee; cancel without a transfer.
			updated, err := e.finalizeWithoutTransfer(ctx, esc.ID, types.StatusCancelled)
			return nil, updated, err
		}

		outcome, err := e.settle(ctx, esc, actRefund, dest, balance-ledger.FeeLamports, opts.IdempotencyKey)
		if err != nil {
			return nil, nil, err
		}
		updated, err := e.store.GetEscrow(ctx, esc.ID)
		return outcome, updated, err

	case ModePayRecipient:
		outcome, err := e.Release(ctx, esc, ReleaseOptions{
			RecipientOverride: opts.OverrideAddress,
			IdempotencyKey:    opts.IdempotencyKey,
		})
		if err != nil {
			return nil, nil, err
		}
		updated, err := e.store.GetEscrow(ctx, esc.ID)
		return outcome, updated, err

	default:
		return nil, nil, types.ErrInvalidState("invalid settlement mode %q", opts.Mode)
	}
}

// Reconcile re-fetches authoritative status for every ledger row of one
// escrow and promotes the escrow to terminal status when a release or refund
// record reaches confirmed commitment with no error.
func (e *Engine) Reconcile(ctx context.Context, escrowID string) (*ReconcileResult, error) {
	esc, err := e.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc == nil {
		return nil, types.ErrEscrowNotFound(escrowID)
	}

	txs, err := e.store.ListTransactions(ctx, esc.ID)
	if err != nil {
		return nil, err
	}

	updated := 0
	for _, tx := range txs {
		chain, err := e.ledger.SignatureStatus(ctx, tx.Signature)
		if err != nil {
			return nil, err
		}
		if chain.Status == ledger.CommitmentNotFound {
			continue
		}

		status := string(chain.Status)
		if _, err := e.store.UpdateTransaction(ctx, tx.Signature, store.TransactionUpdate{
			Status:   &status,
			RawError: &chain.Err,
		}); err != nil {
			return nil, err
		}
		updated++

		if chain.Err != "" || !chain.Status.Satisfies(ledger.CommitmentConfirmed) {
			continue
		}
		switch tx.Type {
		case types.TxRelease:
			if err := e.promote(ctx, esc.ID, types.StatusReleased, tx.Signature); err != nil {
				return nil, err
			}
		case types.TxRefund:
			if err := e.promote(ctx, esc.ID, types.StatusCancelled, tx.Signature); err != nil {
				return nil, err
			}
		}
	}

	esc, err = e.store.GetEscrow(ctx, esc.ID)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{
		EscrowID:            esc.ID,
		EscrowStatus:        esc.Status,
		UpdatedTransactions: updated,
	}, nil
}

// settle runs the shared idempotent-intent algorithm for one action.
func (e *Engine) settle(ctx context.Context, esc *types.Escrow, act action, dest string, amount uint64, idempotencyKey string) (*Outcome, error) {
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("%s:%d", act.name, esc.FinalizeNonce+1)
	}
	hash := IntentHash(esc.ID, dest, amount, idempotencyKey)

	// Same intent already settled: hand back the recorded outcome.
	if esc.LastIntentHash == hash && esc.SettledSignature != "" {
		prior, err := e.store.GetTransactionBySignature(ctx, esc.SettledSignature)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return outcomeFromTx(prior, esc, dest, amount), nil
		}
	}

	// Crash after submit, before finalize: adopt the recorded transaction.
	prior, err := e.findByIntent(ctx, esc.ID, act.txType, hash)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		if _, err := e.store.UpdateEscrow(ctx, esc.ID, store.EscrowUpdate{
			Status:           ptr(act.final),
			SettledSignature: &prior.Signature,
			FailureReason:    ptr(""),
		}); err != nil {
			return nil, err
		}
		e.log.Info("adopted prior settlement transaction",
			zap.String("escrow_id", esc.ID),
			zap.String("signature", prior.Signature),
		)
		return outcomeFromTx(prior, esc, dest, amount), nil
	}

	if _, err := e.store.UpdateEscrow(ctx, esc.ID, store.EscrowUpdate{
		Status:         &act.pending,
		LastIntentHash: &hash,
		FailureReason:  ptr(""),
	}); err != nil {
		return nil, err
	}

	secret, err := e.vault.Decrypt(esc.SecretKey)
	if err != nil {
		e.recordFailure(ctx, esc, err)
		return nil, err
	}

	result, err := e.ledger.Transfer(ctx, ledger.TransferRequest{
		SecretKey: secret,
		ToAddress: dest,
		Lamports:  amount,
	})
	if err != nil {
		e.recordFailure(ctx, esc, err)
		return nil, err
	}

	tx := &types.Transaction{
		EscrowID:             esc.ID,
		Signature:            result.Signature,
		Type:                 act.txType,
		AmountLamports:       amount,
		FromAddress:          esc.PublicKey,
		ToAddress:            dest,
		Status:               string(result.Status),
		IntentHash:           hash,
		CommitmentTarget:     string(result.CommitmentTarget),
		LastValidBlockHeight: result.LastValidBlockHeight,
		RPCEndpoint:          result.RPCEndpoint,
	}
	if _, err := e.store.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}

	nonce := esc.FinalizeNonce + 1
	if _, err := e.store.UpdateEscrow(ctx, esc.ID, store.EscrowUpdate{
		Status:           &act.final,
		FinalizeNonce:    &nonce,
		SettledSignature: &result.Signature,
		FailureReason:    ptr(""),
	}); err != nil {
		return nil, err
	}

	e.log.Info("settlement completed",
		zap.String("escrow_id", esc.ID),
		zap.String("action", act.name),
		zap.String("signature", result.Signature),
		zap.Uint64("amount_lamports", amount),
	)

	return &Outcome{
		Signature:        result.Signature,
		FromAddress:      esc.PublicKey,
		ToAddress:        dest,
		AmountLamports:   amount,
		Status:           string(result.Status),
		CommitmentTarget: string(result.CommitmentTarget),
	}, nil
}

// recordFailure restores the escrow after a failed transfer. When the caller
// was cancelled mid-confirmation the escrow keeps its _pending status so a
// later reconciliation can converge it; otherwise the status rolls back to
// the best non-terminal state derivable from its timestamps.
func (e *Engine) recordFailure(ctx context.Context, esc *types.Escrow, cause error) {
	reason := cause.Error()
	update := store.EscrowUpdate{FailureReason: &reason}
	if ctx.Err() == nil {
		update.Status = ptr(types.DeriveFallbackStatus(esc))
	}

	persistCtx := context.WithoutCancel(ctx)
	if _, err := e.store.UpdateEscrow(persistCtx, esc.ID, update); err != nil {
		e.log.Error("failed to record settlement failure",
			zap.String("escrow_id", esc.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) resolveAmount(ctx context.Context, esc *types.Escrow, override *uint64) (uint64, error) {
	balance, err := e.ledger.Balance(ctx, esc.PublicKey)
	if err != nil {
		return 0, err
	}

	fee := ledger.FeeLamports
	if override != nil {
		if balance < *override+fee {
			return 0, types.ErrInsufficientFunds(esc.PublicKey, balance, *override+fee)
		}
		return *override, nil
	}
	if balance <= fee {
		return 0, types.ErrInsufficientFunds(esc.PublicKey, balance, fee+1)
	}
	return balance - fee, nil
}

// priorOutcome resolves an already-terminal escrow to its recorded result:
// the most recent ledger transaction of the matching type, or a legacy
// synthesis from settled_signature when no record exists. Returns nil when
// neither is available.
func (e *Engine) priorOutcome(ctx context.Context, esc *types.Escrow, act action, dest string) (*Outcome, error) {
	txs, err := e.store.ListTransactions(ctx, esc.ID)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.Type == act.txType {
			return outcomeFromTx(tx, esc, dest, 0), nil
		}
	}

	if esc.SettledSignature != "" {
		return &Outcome{
			Signature:   esc.SettledSignature,
			FromAddress: esc.PublicKey,
			ToAddress:   dest,
			Status:      string(act.final),
		}, nil
	}
	return nil, nil
}

func (e *Engine) findByIntent(ctx context.Context, escrowID string, txType types.TxType, intentHash string) (*types.Transaction, error) {
	txs, err := e.store.ListTransactions(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.Type == txType && tx.IntentHash == intentHash {
			return tx, nil
		}
	}
	return nil, nil
}

func (e *Engine) finalizeWithoutTransfer(ctx context.Context, escrowID string, final types.Status) (*types.Escrow, error) {
	return e.store.UpdateEscrow(ctx, escrowID, store.EscrowUpdate{
		Status:        &final,
		FailureReason: ptr(""),
	})
}

func (e *Engine) promote(ctx context.Context, escrowID string, final types.Status, signature string) error {
	_, err := e.store.UpdateEscrow(ctx, escrowID, store.EscrowUpdate{
		Status:           &final,
		SettledSignature: &signature,
		FailureReason:    ptr(""),
	})
	return err
}

func outcomeFromTx(tx *types.Transaction, esc *types.Escrow, fallbackDest string, fallbackAmount uint64) *Outcome {
	out := &Outcome{
		Signature:        tx.Signature,
		FromAddress:      tx.FromAddress,
		ToAddress:        tx.ToAddress,
		AmountLamports:   tx.AmountLamports,
		Status:           tx.Status,
		CommitmentTarget: tx.CommitmentTarget,
	}
	if out.FromAddress == "" {
		out.FromAddress = esc.PublicKey
	}
	if out.ToAddress == "" {
		out.ToAddress = fallbackDest
	}
	if out.AmountLamports == 0 {
		out.AmountLamports = fallbackAmount
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
