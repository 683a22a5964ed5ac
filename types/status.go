package types

import "time"

// Status is the lifecycle state of an escrow.
type Status string

const (
	StatusOpen            Status = "open"
	StatusRolesPending    Status = "roles_pending"
	StatusRolesClaimed    Status = "roles_claimed"
	StatusFunded          Status = "funded"
	StatusServiceComplete Status = "service_complete"
	StatusDisputed        Status = "disputed"
	StatusReleasePending  Status = "release_pending"
	StatusRefundPending   Status = "refund_pending"
	StatusReleased        Status = "released"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether the status permits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

// TxType classifies a ledger transaction record.
type TxType string

const (
	TxDeposit TxType = "deposit"
	TxRelease TxType = "release"
	TxRefund  TxType = "refund"
	TxUnknown TxType = "unknown"
)

// DeriveFallbackStatus infers the best non-terminal status for an escrow
// purely from which lifecycle timestamps are already set. It is the rollback
// target after a failed transfer: disputed wins over service-complete, which
// wins over funded, which wins over both-roles-bound.
func DeriveFallbackStatus(e *Escrow) Status {
	switch {
	case e.DisputedAt != nil:
		return StatusDisputed
	case e.ServiceMarkedCompleteAt != nil:
		return StatusServiceComplete
	case e.FundedAt != nil:
		return StatusFunded
	case e.PayerUserID != "" && e.PayeeUserID != "":
		return StatusRolesClaimed
	case e.PayerUserID != "" || e.PayeeUserID != "":
		return StatusRolesPending
	default:
		return StatusOpen
	}
}

// EpochMillis converts a time to the epoch-millisecond representation used at
// the document-store boundary. Zero time maps to 0.
func EpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromEpochMillis is the inverse of EpochMillis; ms <= 0 yields the zero time.
func FromEpochMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
