package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureshuttle/escrow/types"
)

type fakeRPC struct {
	getBalance          func(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	getSignatureStatuses func(ctx context.Context, history bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	getSignaturesForAddr func(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	getLatestBlockhash  func(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	getBlockHeight      func(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	sendTransaction     func(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

func (f *fakeRPC) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return f.getBalance(ctx, account, commitment)
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, history bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return f.getSignatureStatuses(ctx, history, sigs...)
}

func (f *fakeRPC) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return f.getSignaturesForAddr(ctx, account, opts)
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return f.getLatestBlockhash(ctx, commitment)
}

func (f *fakeRPC) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	return f.getBlockHeight(ctx, commitment)
}

func (f *fakeRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	return f.sendTransaction(ctx, tx, opts)
}

func testAddress() string {
	return solana.NewWallet().PublicKey().String()
}

func TestGenerateKeypair(t *testing.T) {
	c := NewWithRPC(&fakeRPC{}, Config{}, nil)

	addr, secret := c.GenerateKeypair()
	require.NotEmpty(t, addr)
	require.NotEmpty(t, secret)

	// The secret must sign for the returned address.
	key, err := solana.PrivateKeyFromBase58(secret)
	require.NoError(t, err)
	assert.Equal(t, addr, key.PublicKey().String())

	addr2, _ := c.GenerateKeypair()
	assert.NotEqual(t, addr, addr2)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(testAddress()))

	err := ValidateAddress("not-an-address")
	assert.Equal(t, types.KindInvalidAddress, types.KindOf(err))
}

func TestBalance(t *testing.T) {
	t.Run("fetch and cache", func(t *testing.T) {
		calls := 0
		fake := &fakeRPC{
			getBalance: func(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
				calls++
				return &rpc.GetBalanceResult{Value: 1_000_000}, nil
			},
		}
		c := NewWithRPC(fake, Config{BalanceTTL: time.Minute}, nil)
		addr := testAddress()

		got, err := c.Balance(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), got)

		got, err = c.Balance(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), got)
		assert.Equal(t, 1, calls)
	})

	t.Run("invalid address rejected before network", func(t *testing.T) {
		fake := &fakeRPC{
			getBalance: func(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
				t.Fatal("network must not be reached")
				return nil, nil
			},
		}
		c := NewWithRPC(fake, Config{}, nil)

		_, err := c.Balance(context.Background(), "!!bad!!")
		assert.Equal(t, types.KindInvalidAddress, types.KindOf(err))
	})

	t.Run("transport fault maps to rpc_error", func(t *testing.T) {
		fake := &fakeRPC{
			getBalance: func(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
				return nil, errors.New("connection refused")
			},
		}
		c := NewWithRPC(fake, Config{}, nil)

		_, err := c.Balance(context.Background(), testAddress())
		assert.Equal(t, types.KindRPCError, types.KindOf(err))
	})
}

func TestSignatureStatus(t *testing.T) {
	sig := solana.Signature{}.String()

	t.Run("unknown signature is not_found", func(t *testing.T) {
		fake := &fakeRPC{
			getSignatureStatuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
				return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
			},
		}
		c := NewWithRPC(fake, Config{}, nil)

		status, err := c.SignatureStatus(context.Background(), sig)
		require.NoError(t, err)
		assert.Equal(t, CommitmentNotFound, status.Status)
		assert.Nil(t, status.Slot)
	})

	t.Run("confirmed with attached error", func(t *testing.T) {
		confs := uint64(12)
		fake := &fakeRPC{
			getSignatureStatuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
				return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{{
					Slot:               100,
					Confirmations:      &confs,
					Err:                map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
					ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
				}}}, nil
			},
		}
		c := NewWithRPC(fake, Config{}, nil)

		status, err := c.SignatureStatus(context.Background(), sig)
		require.NoError(t, err)
		assert.Equal(t, CommitmentConfirmed, status.Status)
		require.NotNil(t, status.Slot)
		assert.Equal(t, uint64(100), *status.Slot)
		assert.NotEmpty(t, status.Err)
	})

	t.Run("status served from cache within ttl", func(t *testing.T) {
		calls := 0
		fake := &fakeRPC{
			getSignatureStatuses: func(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
				calls++
				return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{{
					Slot:               7,
					ConfirmationStatus: rpc.ConfirmationStatusFinalized,
				}}}, nil
			},
		}
		c := NewWithRPC(fake, Config{StatusTTL: time.Minute}, nil)

		_, err := c.SignatureStatus(context.Background(), sig)
		require.NoError(t, err)
		_, err = c.SignatureStatus(context.Background(), sig)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestRecentSignatures(t *testing.T) {
	memo := "deposit memo"
	fake := &fakeRPC{
		getSignaturesForAddr: func(_ context.Context, _ solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
			assert.Equal(t, 10, *opts.Limit)
			return []*rpc.TransactionSignature{
				{
					Signature:          solana.Signature{1},
					Slot:               200,
					Memo:               &memo,
					ConfirmationStatus: rpc.ConfirmationStatusFinalized,
				},
				nil,
				{
					Signature:          solana.Signature{2},
					Slot:               190,
					Err:                "failed",
					ConfirmationStatus: rpc.ConfirmationStatusProcessed,
				},
			}, nil
		},
	}
	c := NewWithRPC(fake, Config{}, nil)

	infos, err := c.RecentSignatures(context.Background(), testAddress(), 10)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, CommitmentFinalized, infos[0].Status)
	assert.Equal(t, uint64(200), infos[0].Slot)
	assert.Equal(t, "deposit memo", infos[0].Memo)
	assert.Empty(t, infos[0].Err)

	assert.Equal(t, CommitmentProcessed, infos[1].Status)
	assert.Equal(t, "failed", infos[1].Err)
}
