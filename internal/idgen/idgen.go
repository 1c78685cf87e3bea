// Package idgen provides identifier generation for escrows, sessions and receipts.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique identifiers. Implementations must be safe for
// concurrent use.
type Generator interface {
	NewID() string
}

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// NewID returns a new random UUID string.
func (UUID) NewID() string {
	return uuid.NewString()
}

// Sequence is a deterministic counter-based generator for tests.
// Format: prefix + zero-padded counter, e.g. "esc-000001".
type Sequence struct {
	Prefix string
	n      atomic.Uint64
}

// NewSequence creates a counter-based generator with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{Prefix: prefix}
}

// NewID returns the next identifier in the sequence.
func (s *Sequence) NewID() string {
	return fmt.Sprintf("%s%06d", s.Prefix, s.n.Add(1))
}

// Prefixed wraps a Generator so every id carries a fixed prefix.
type Prefixed struct {
	Prefix string
	Next   Generator
}

// NewID returns the wrapped generator's next id with the prefix prepended.
func (p Prefixed) NewID() string {
	return p.Prefix + p.Next.NewID()
}

// WithPrefix generates a random ID with a prefix (e.g. "wal_", "req_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
