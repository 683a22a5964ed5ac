package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureshuttle/escrow/types"
)

func blockhashResult(lastValidHeight uint64) *rpc.GetLatestBlockhashResult {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            solana.Hash{9},
			LastValidBlockHeight: lastValidHeight,
		},
	}
}

func statusResult(status rpc.ConfirmationStatusType, txErr interface{}) *rpc.GetSignatureStatusesResult {
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{{
		Slot:               500,
		ConfirmationStatus: status,
		Err:                txErr,
	}}}
}

func TestTransfer(t *testing.T) {
	wallet := solana.NewWallet()
	secret := wallet.PrivateKey.String()
	dest := testAddress()

	t.Run("signs, submits, and confirms", func(t *testing.T) {
		sends := 0
		fake := &fakeRPC{
			getLatestBlockhash: func(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
				return blockhashResult(1000), nil
			},
			sendTransaction: func(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
				sends++
				require.Len(t, tx.Signatures, 1)
				return tx.Signatures[0], nil
			},
			getSignatureStatuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
				return statusResult(rpc.ConfirmationStatusConfirmed, nil), nil
			},
			getBlockHeight: func(context.Context, rpc.CommitmentType) (uint64, error) {
				return 900, nil
			},
		}
		c := NewWithRPC(fake, Config{Endpoint: "http://node.test"}, nil)

		result, err := c.Transfer(context.Background(), TransferRequest{
			SecretKey: secret,
			ToAddress: dest,
			Lamports:  995_000,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, sends)
		assert.Equal(t, CommitmentConfirmed, result.Status)
		assert.Equal(t, CommitmentConfirmed, result.CommitmentTarget)
		assert.Equal(t, uint64(1000), result.LastValidBlockHeight)
		assert.Equal(t, "http://node.test", result.RPCEndpoint)
		assert.NotEmpty(t, result.Signature)
	})

	t.Run("attached error fails without resubmission", func(t *testing.T) {
		sends := 0
		fake := &fakeRPC{
			getLatestBlockhash: func(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
				return blockhashResult(1000), nil
			},
			sendTransaction: func(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
				sends++
				return tx.Signatures[0], nil
			},
			getSignatureStatuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
				return statusResult(rpc.ConfirmationStatusProcessed, "InsufficientFundsForFee"), nil
			},
		}
		c := NewWithRPC(fake, Config{MaxSendRetries: 3}, nil)

		_, err := c.Transfer(context.Background(), TransferRequest{
			SecretKey: secret,
			ToAddress: dest,
			Lamports:  100,
		})
		require.Error(t, err)
		assert.Equal(t, types.KindRPCError, types.KindOf(err))
		assert.True(t, strings.Contains(err.Error(), "failed"))
		assert.Equal(t, 1, sends)
	})

	t.Run("blockhash expiry triggers one resubmission", func(t *testing.T) {
		sends := 0
		fake := &fakeRPC{
			getLatestBlockhash: func(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
				return blockhashResult(1000), nil
			},
			sendTransaction: func(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
				sends++
				return tx.Signatures[0], nil
			},
			getSignatureStatuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
				if sends == 1 {
					return statusResult(rpc.ConfirmationStatusProcessed, nil), nil
				}
				return statusResult(rpc.ConfirmationStatusConfirmed, nil), nil
			},
			getBlockHeight: func(context.Context, rpc.CommitmentType) (uint64, error) {
				if sends == 1 {
					return 1001, nil // past expiry, first attempt is dead
				}
				return 900, nil
			},
		}
		c := NewWithRPC(fake, Config{MaxSendRetries: 1}, nil)

		result, err := c.Transfer(context.Background(), TransferRequest{
			SecretKey:    secret,
			ToAddress:    dest,
			Lamports:     100,
			PollInterval: time.Millisecond,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, sends)
		assert.Equal(t, CommitmentConfirmed, result.Status)
	})

	t.Run("confirmation timeout exhausts the attempt budget", func(t *testing.T) {
		fake := &fakeRPC{
			getLatestBlockhash: func(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
				return blockhashResult(1000), nil
			},
			sendTransaction: func(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
				return tx.Signatures[0], nil
			},
			getSignatureStatuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
				return statusResult(rpc.ConfirmationStatusProcessed, nil), nil
			},
			getBlockHeight: func(context.Context, rpc.CommitmentType) (uint64, error) {
				return 900, nil
			},
		}
		c := NewWithRPC(fake, Config{}, nil)

		_, err := c.Transfer(context.Background(), TransferRequest{
			SecretKey:    secret,
			ToAddress:    dest,
			Lamports:     100,
			Timeout:      20 * time.Millisecond,
			PollInterval: 2 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Equal(t, types.KindRPCError, types.KindOf(err))
	})

	t.Run("invalid custodial secret", func(t *testing.T) {
		c := NewWithRPC(&fakeRPC{}, Config{}, nil)

		_, err := c.Transfer(context.Background(), TransferRequest{
			SecretKey: "garbage",
			ToAddress: dest,
			Lamports:  100,
		})
		assert.Equal(t, types.KindInvalidAddress, types.KindOf(err))
	})
}
