package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// HashParams are the argon2id cost parameters.
type HashParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultHashParams follows the OWASP argon2id minimum (m=19MiB, t=2, p=1).
var DefaultHashParams = HashParams{
	Time:    2,
	Memory:  19 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// Hasher derives salted password hashes.
type Hasher struct {
	params HashParams
}

// NewHasher creates a hasher with the given parameters.
func NewHasher(p HashParams) *Hasher {
	return &Hasher{params: p}
}

// NewSalt returns a random hex encoded salt.
func (h *Hasher) NewSalt() (string, error) {
	b := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash returns the hex encoded argon2id hash of password under salt.
func (h *Hasher) Hash(password, salt string) string {
	key := argon2.IDKey([]byte(password), []byte(salt), h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return hex.EncodeToString(key)
}

// Verify reports whether password hashes to want under salt.
func (h *Hasher) Verify(password, salt, want string) bool {
	got := h.Hash(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
