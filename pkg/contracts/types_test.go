package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestDeriveCommitmentIDDeterministic(t *testing.T) {
	lock := HashPreimage([]byte("secret"))
	nonce := []byte("nonce-1")

	a := DeriveCommitmentID("alice", "bob", 100, lock, nonce)
	b := DeriveCommitmentID("alice", "bob", 100, lock, nonce)
	if a != b {
		t.Fatal("same inputs must derive the same id")
	}
}

func TestDeriveCommitmentIDUnique(t *testing.T) {
	lock := HashPreimage([]byte("secret"))

	base := DeriveCommitmentID("alice", "bob", 100, lock, []byte("n1"))
	variants := []CommitmentID{
		DeriveCommitmentID("alice", "bob", 100, lock, []byte("n2")),
		DeriveCommitmentID("alice", "carol", 100, lock, []byte("n1")),
		DeriveCommitmentID("alice", "bob", 101, lock, []byte("n1")),
		DeriveCommitmentID("eve", "bob", 100, lock, []byte("n1")),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base id", i)
		}
	}
}

func TestHashPreimageMatchesKeccak(t *testing.T) {
	// keccak256("secret"), the hash lock the bridge test vectors use.
	const want = "65462b0520ef7d3df61b9992ed3bea0c56ead753be7c8b3614e0ce01e4cac41b"
	got := HashPreimage([]byte("secret"))
	if got.String() != want {
		t.Fatalf("keccak mismatch: got %s want %s", got, want)
	}
}

func TestParseCommitmentIDRoundTrip(t *testing.T) {
	lock := HashPreimage([]byte("x"))
	id := DeriveCommitmentID("a", "b", 1, lock, []byte("n"))

	parsed, err := ParseCommitmentID(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Fatal("round trip changed the id")
	}
}

func TestParseCommitmentIDRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "zz", "abcd", "not-hex-at-all"} {
		if _, err := ParseCommitmentID(input); !errors.Is(err, ErrInvalidParameters) {
			t.Fatalf("input %q: expected ErrInvalidParameters, got %v", input, err)
		}
	}
}

func TestHashLockJSONRoundTrip(t *testing.T) {
	lock := HashPreimage([]byte("secret"))

	raw, err := json.Marshal(lock)
	if err != nil {
		t.Fatal(err)
	}
	var decoded HashLock
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != lock {
		t.Fatal("round trip changed the hash lock")
	}
}

func TestStateTerminal(t *testing.T) {
	if StateLocked.Terminal() {
		t.Fatal("Locked must not be terminal")
	}
	for _, s := range []State{StateCompleted, StateRefunded, StateCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}

func TestErrorCodeCoversTaxonomy(t *testing.T) {
	cases := map[error]string{
		ErrUnauthorized:        "UNAUTHORIZED",
		ErrAlreadyInitialized:  "ALREADY_INITIALIZED",
		ErrDuplicateCommitment: "DUPLICATE_COMMITMENT",
		ErrNotFound:            "NOT_FOUND",
		ErrInvalidTransition:   "INVALID_TRANSITION",
		ErrInvalidPreimage:     "INVALID_PREIMAGE",
		ErrExpired:             "EXPIRED",
		ErrNotYetExpired:       "NOT_YET_EXPIRED",
		ErrInsufficientBalance: "INSUFFICIENT_BALANCE",
		ErrInvalidParameters:   "INVALID_PARAMETERS",
		ErrArithmeticOverflow:  "ARITHMETIC_OVERFLOW",
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %s, want %s", err, got, want)
		}
		// Wrapped errors must map to the same code.
		wrapped := fmt.Errorf("context: %w", err)
		if got := ErrorCode(wrapped); got != want {
			t.Fatalf("ErrorCode(wrapped %v) = %s, want %s", err, got, want)
		}
	}
	if got := ErrorCode(errors.New("boom")); got != "INTERNAL" {
		t.Fatalf("unknown error should map to INTERNAL, got %s", got)
	}
}
