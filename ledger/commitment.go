package ledger

import "strings"

// Commitment is the finality level the ledger node reports for a signature.
// Levels form a total order: not_found < processed < confirmed < finalized.
type Commitment string

const (
	CommitmentNotFound  Commitment = "not_found"
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

var commitmentRank = map[Commitment]int{
	CommitmentNotFound:  0,
	CommitmentProcessed: 1,
	CommitmentConfirmed: 2,
	CommitmentFinalized: 3,
}

// NormalizeCommitment maps arbitrary node-reported commitment strings onto the
// four canonical levels. Unknown or empty input normalizes to processed, the
// weakest level a node would report for a known signature.
func NormalizeCommitment(value string) Commitment {
	lower := strings.ToLower(value)
	switch {
	case strings.Contains(lower, "finalized"):
		return CommitmentFinalized
	case strings.Contains(lower, "confirmed"):
		return CommitmentConfirmed
	default:
		return CommitmentProcessed
	}
}

// Rank returns the position of c in the commitment total order.
func (c Commitment) Rank() int {
	return commitmentRank[c]
}

// Satisfies reports whether c has reached at least the target level.
func (c Commitment) Satisfies(target Commitment) bool {
	return c.Rank() >= target.Rank()
}
