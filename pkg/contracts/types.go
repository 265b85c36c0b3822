// Package contracts holds the shared vocabulary of the escrow service:
// principals, commitment identifiers, hash locks, escrow records, and the
// error taxonomy every component surfaces.
package contracts

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

// Principal is an opaque actor identity. It has no internal structure
// beyond equality; the transport layer is responsible for authenticating it.
type Principal string

// HashLock is a Keccak-256 digest committing to a secret preimage.
type HashLock [32]byte

// CommitmentID uniquely identifies one escrow instance.
type CommitmentID [32]byte

// State is the lifecycle state of an escrow record. Locked is initial;
// the other three are terminal and absorb.
type State string

const (
	StateLocked    State = "LOCKED"
	StateCompleted State = "COMPLETED"
	StateRefunded  State = "REFUNDED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRefunded || s == StateCancelled
}

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	switch s {
	case StateLocked, StateCompleted, StateRefunded, StateCancelled:
		return true
	}
	return false
}

// EscrowRecord represents one locked transfer pending resolution.
// Records are never physically deleted; terminal records persist for audit.
type EscrowRecord struct {
	ID           CommitmentID `json:"id"`
	HashLock     HashLock     `json:"hash_lock"`
	Locker       Principal    `json:"locker"`
	Counterparty Principal    `json:"counterparty"`
	Amount       uint64       `json:"amount"`
	CreatedAt    time.Time    `json:"created_at"`
	Expiry       time.Time    `json:"expiry"`
	State        State        `json:"state"`
}

// Keccak256 computes the legacy Keccak-256 digest over the concatenation of
// the given byte slices. This is the digest the bridge contracts use for
// hash locks and role tags.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// HashPreimage derives the hash lock for a secret preimage.
func HashPreimage(preimage []byte) HashLock {
	return Keccak256(preimage)
}

// DeriveCommitmentID deterministically derives a commitment identifier from
// the lock parameters and a per-lock nonce. Two locks differing in any input
// yield distinct ids.
func DeriveCommitmentID(locker, counterparty Principal, amount uint64, lock HashLock, nonce []byte) CommitmentID {
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], amount)
	return Keccak256([]byte(locker), []byte(counterparty), amt[:], lock[:], nonce)
}

func (id CommitmentID) String() string { return hex.EncodeToString(id[:]) }

func (h HashLock) String() string { return hex.EncodeToString(h[:]) }

// ParseCommitmentID decodes a 64-character hex string into a CommitmentID.
func ParseCommitmentID(s string) (CommitmentID, error) {
	var id CommitmentID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: commitment id is not valid hex", ErrInvalidParameters)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("%w: commitment id must be %d bytes, got %d", ErrInvalidParameters, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ParseHashLock decodes a 64-character hex string into a HashLock.
func ParseHashLock(s string) (HashLock, error) {
	var h HashLock
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("%w: hash lock is not valid hex", ErrInvalidParameters)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("%w: hash lock must be %d bytes, got %d", ErrInvalidParameters, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// MarshalJSON encodes the id as a hex string.
func (id CommitmentID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON decodes the id from a hex string.
func (id *CommitmentID) UnmarshalJSON(data []byte) error {
	s, err := unquote(data)
	if err != nil {
		return err
	}
	parsed, err := ParseCommitmentID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalJSON encodes the hash lock as a hex string.
func (h HashLock) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON decodes the hash lock from a hex string.
func (h *HashLock) UnmarshalJSON(data []byte) error {
	s, err := unquote(data)
	if err != nil {
		return err
	}
	parsed, err := ParseHashLock(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func unquote(data []byte) (string, error) {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return "", fmt.Errorf("%w: expected a JSON string", ErrInvalidParameters)
	}
	return string(data[1 : len(data)-1]), nil
}
