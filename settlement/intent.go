package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// IntentHash fingerprints one logical settlement intent. Identical parameters
// always produce the identical hash, which is how duplicate and retried
// invocations are collapsed into a single on-chain effect.
func IntentHash(escrowID, destination string, amountLamports uint64, idempotencyKey string) string {
	raw := fmt.Sprintf("%s:%s:%d:%s", escrowID, destination, amountLamports, idempotencyKey)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
