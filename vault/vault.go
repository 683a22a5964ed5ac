// Package vault encrypts the custodial secret key at rest. The symmetric key
// is derived by hashing configured secret material, never stored raw.
// Ciphertext carries the "enc::" prefix so legacy plaintext rows remain
// readable. A failed decryption is a configuration fault, not a business error.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const encryptedPrefix = "enc::"

const nonceSize = 24

// ErrDecryptFailed indicates the configured key cannot open the stored
// ciphertext. Callers should treat it as fatal misconfiguration.
var ErrDecryptFailed = errors.New("escrow signing key decryption failed")

// Vault seals and opens custodial secrets with one derived key.
type Vault struct {
	key [32]byte
}

// New derives the encryption key from configured secret material. Material
// prefixed with "base64:" is used verbatim after the marker; either way the
// key is the SHA-256 digest of the material, so the raw key never persists.
func New(material string) (*Vault, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, errors.New("escrow secret encryption key is not configured")
	}
	if rest, ok := strings.CutPrefix(material, "base64:"); ok {
		material = rest
	}

	v := &Vault{key: sha256.Sum256([]byte(material))}
	return v, nil
}

// Encrypt seals plaintext and tags it with the ciphertext prefix. Already
// sealed values pass through unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	raw := strings.TrimSpace(plaintext)
	if raw == "" {
		return "", errors.New("escrow secret key cannot be empty")
	}
	if strings.HasPrefix(raw, encryptedPrefix) {
		return raw, nil
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(raw), &nonce, &v.key)
	return encryptedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed value. Values without the ciphertext prefix are
// legacy plaintext and are returned as-is.
func (v *Vault) Decrypt(value string) (string, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", errors.New("escrow secret key is missing")
	}
	if !strings.HasPrefix(raw, encryptedPrefix) {
		return raw, nil
	}

	sealed, err := base64.RawURLEncoding.DecodeString(raw[len(encryptedPrefix):])
	if err != nil || len(sealed) <= nonceSize {
		return "", ErrDecryptFailed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
