// Package audit implements the controller's append-only, signed action log.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"time"
)

// Category groups audit entries for filtering and reporting.
type Category string

const (
	CategorySystem        Category = "SYSTEM"
	CategoryAlarm         Category = "ALARM"
	CategoryBatch         Category = "BATCH"
	CategorySafety        Category = "SAFETY"
	CategoryControl       Category = "CONTROL"
	CategoryConfiguration Category = "CONFIGURATION"
	CategoryRedundancy    Category = "REDUNDANCY"
)

// Entry is one immutable audit record. Signature covers every other field.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	User        string    `json:"user"`
	Action      string    `json:"action"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Success     bool      `json:"success"`
	Signature   string    `json:"signature"`
}

// Signer computes entry signatures. With an empty key it uses plain SHA-256, otherwise
// HMAC-SHA256 keyed with the configured secret.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer. key may be empty.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Sign returns the hex signature of e, ignoring e.Signature.
func (s *Signer) Sign(e Entry) string {
	var h hash.Hash
	if len(s.key) > 0 {
		h = hmac.New(sha256.New, s.key)
	} else {
		h = sha256.New()
	}
	success := "0"
	if e.Success {
		success = "1"
	}
	for _, field := range []string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.User,
		e.Action,
		string(e.Category),
		e.Description,
		success,
	} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the signature of e and compares it in constant time.
func (s *Signer) Verify(e Entry) bool {
	expected := s.Sign(e)
	return hmac.Equal([]byte(expected), []byte(e.Signature))
}

// writeField length-prefixes each field so that moving bytes between adjacent fields
// changes the digest.
func writeField(h hash.Hash, field string) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(field)))
	h.Write(lenBuf[:n])
	h.Write([]byte(field))
}
