package ledger

import (
	"context"
	"fmt"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/secureshuttle/escrow/types"
)

// TransferRequest describes one native transfer to sign, submit, and confirm.
// Zero-valued tunables fall back to the Client's configuration.
type TransferRequest struct {
	SecretKey string // base58 custodial secret
	ToAddress string
	Lamports  uint64

	CommitmentTarget Commitment
	Timeout          time.Duration
	PollInterval     time.Duration
	MaxSendRetries   int
}

// TransferResult is the confirmed outcome of a submitted transfer.
type TransferResult struct {
	Signature            string
	Status               Commitment
	Slot                 *uint64
	Confirmations        *uint64
	CommitmentTarget     Commitment
	LastValidBlockHeight uint64
	RPCEndpoint          string
}

// Transfer builds a single-instruction native transfer, signs it with the
// custodial key, submits it, and polls until the target commitment is reached.
// A signature that picks up an on-chain error fails immediately with no
// resubmission. When the current block height passes the blockhash's expiry
// height the transfer is resubmitted with a fresh blockhash, bounded by
// MaxSendRetries. Status polling itself never resubmits.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	key, err := solana.PrivateKeyFromBase58(req.SecretKey)
	if err != nil {
		return nil, types.NewError(types.KindInvalidAddress, "invalid custodial secret key")
	}
	to, err := parsePubkey(req.ToAddress)
	if err != nil {
		return nil, err
	}

	target := req.CommitmentTarget
	if target == "" {
		target = c.cfg.CommitmentTarget
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.ConfirmTimeout
	}
	poll := req.PollInterval
	if poll <= 0 {
		poll = c.cfg.PollInterval
	}
	retries := req.MaxSendRetries
	if retries <= 0 {
		retries = c.cfg.MaxSendRetries
	}

	from := key.PublicKey()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		signature, lastValidHeight, err := c.submitOnce(ctx, key, from, to, req.Lamports, target)
		if err != nil {
			lastErr = err
			if attempt >= retries {
				return nil, types.ErrRPC(lastErr)
			}
			continue
		}

		result, err := c.awaitCommitment(ctx, signature, target, lastValidHeight, timeout, poll)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		lastErr = fmt.Errorf("transaction %s did not reach %s before timeout or blockhash expiry",
			signature, target)
		c.log.Warn("transfer confirmation attempt exhausted",
			zap.String("signature", signature),
			zap.Int("attempt", attempt),
		)
		if attempt >= retries {
			return nil, types.ErrRPC(lastErr)
		}
	}

	return nil, types.ErrRPC(lastErr)
}

// submitOnce fetches a fresh blockhash, builds, signs, and submits the transfer.
func (c *Client) submitOnce(
	ctx context.Context,
	key solana.PrivateKey,
	from, to solana.PublicKey,
	lamports uint64,
	target Commitment,
) (signature string, lastValidHeight uint64, err error) {
	latest, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", 0, fmt.Errorf("fetch blockhash: %w", err)
	}

	ix := system.NewTransferInstruction(lamports, from, to).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		latest.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return "", 0, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(from) {
			return &key
		}
		return nil
	}); err != nil {
		return "", 0, fmt.Errorf("sign transaction: %w", err)
	}

	sendRetries := uint(3)
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpcCommitment(target),
		MaxRetries:          &sendRetries,
	})
	if err != nil {
		return "", 0, fmt.Errorf("send transaction: %w", err)
	}

	return sig.String(), latest.Value.LastValidBlockHeight, nil
}

// awaitCommitment polls the signature until the target commitment, an attached
// error, blockhash expiry, or the timeout. A nil result with nil error means
// the attempt ended without confirmation and the caller may resubmit.
func (c *Client) awaitCommitment(
	ctx context.Context,
	signature string,
	target Commitment,
	lastValidHeight uint64,
	timeout, poll time.Duration,
) (*TransferResult, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		status, err := c.SignatureStatus(ctx, signature)
		if err != nil {
			return nil, err
		}
		if status.Err != "" {
			return nil, types.NewError(types.KindRPCError,
				"transaction %s failed: %s", signature, status.Err)
		}
		if status.Status.Satisfies(target) {
			return &TransferResult{
				Signature:            signature,
				Status:               status.Status,
				Slot:                 status.Slot,
				Confirmations:        status.Confirmations,
				CommitmentTarget:     target,
				LastValidBlockHeight: lastValidHeight,
				RPCEndpoint:          c.endpoint,
			}, nil
		}

		// A transient block-height fetch failure falls through to the time
		// budget rather than aborting the poll.
		if height, herr := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed); herr == nil && height > lastValidHeight {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, types.NewError(types.KindRPCError,
				"confirmation of %s aborted: %v", signature, ctx.Err())
		case <-time.After(poll):
		}
	}

	return nil, nil
}

func rpcCommitment(c Commitment) rpc.CommitmentType {
	switch c {
	case CommitmentFinalized:
		return rpc.CommitmentFinalized
	case CommitmentProcessed:
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}
