package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCommitment(t *testing.T) {
	tests := []struct {
		in   string
		want Commitment
	}{
		{"finalized", CommitmentFinalized},
		{"Finalized", CommitmentFinalized},
		{"CommitmentFinalized", CommitmentFinalized},
		{"confirmed", CommitmentConfirmed},
		{"CommitmentConfirmed", CommitmentConfirmed},
		{"processed", CommitmentProcessed},
		{"", CommitmentProcessed},
		{"banana", CommitmentProcessed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCommitment(tt.in), "input %q", tt.in)
	}
}

func TestCommitmentSatisfies(t *testing.T) {
	levels := []Commitment{
		CommitmentNotFound,
		CommitmentProcessed,
		CommitmentConfirmed,
		CommitmentFinalized,
	}
	for i, level := range levels {
		for j, target := range levels {
			assert.Equal(t, i >= j, level.Satisfies(target),
				"%s.Satisfies(%s)", level, target)
		}
	}
}
