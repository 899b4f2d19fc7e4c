package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces the deterministic keyed hash stored for a raw API key.
// The same input always maps to the same digest, so lookups are a single
// indexed query.
type Hasher struct {
	key []byte
}

func NewHasher(secret string) *Hasher {
	return &Hasher{key: []byte(secret)}
}

// Hash hashes the raw API key using the same strategy as key creation.
func (h *Hasher) Hash(raw string) string {
	mac := hmac.New(sha256.New, h.key)
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
