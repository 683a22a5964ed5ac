package types

import "time"

// Transaction is one on-chain effect tracked for an escrow: a discovered
// deposit or a submitted release/refund. Signature is unique. Records are
// immutable after insertion except for status/error refresh by reconciliation.
type Transaction struct {
	ID       string
	EscrowID string

	Signature string
	Type      TxType

	AmountLamports uint64
	FromAddress    string
	ToAddress      string

	Status           string
	IntentHash       string
	CommitmentTarget string

	LastValidBlockHeight uint64
	RPCEndpoint          string

	RawError string
	Memo     string

	RecordedAt time.Time
}
