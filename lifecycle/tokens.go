package lifecycle

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/secureshuttle/escrow/types"
)

// NewToken mints a high-entropy url-safe secret for join/invite flows. Only
// its hash is ever persisted.
func NewToken() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// HashToken is the persisted fingerprint of a join or invite token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// validateJoinToken checks the presented token against the escrow's stored
// hash and expiry.
func (m *Manager) validateJoinToken(esc *types.Escrow, token string) error {
	if token == "" {
		return types.ErrInviteToken("join token is required")
	}
	if esc.JoinTokenHash == "" || HashToken(token) != esc.JoinTokenHash {
		return types.ErrInviteToken("join token is invalid")
	}
	if esc.JoinExpiresAt != nil && m.now().After(*esc.JoinExpiresAt) {
		return types.ErrInviteToken("join token has expired")
	}
	return nil
}
