// Package store implements durable storage for commitments and audit
// transitions. The store exclusively owns escrow records; Transition is the
// single atomic check-and-set gate through which record state ever changes.
package store

import (
	"context"
	"time"

	"github.com/bridgelock/escrow/pkg/contracts"
)

// TransitionValidator is a pure predicate over the current record and the
// caller's notion of now. It runs only on records still in the Locked state
// and must return nil to approve the transition; any error it returns aborts
// the transition and is surfaced unchanged.
type TransitionValidator func(rec *contracts.EscrowRecord, now time.Time) error

// CommitmentStore is the durable mapping from commitment id to escrow
// record. Implementations must make Transition atomic: of two racing calls
// on the same id, exactly one succeeds and the loser observes
// ErrInvalidTransition.
type CommitmentStore interface {
	// Insert stores a fresh Locked record. Fails with ErrDuplicateCommitment
	// if the id is already present.
	Insert(ctx context.Context, rec *contracts.EscrowRecord) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id contracts.CommitmentID) (*contracts.EscrowRecord, error)

	// Transition atomically moves the record into a terminal state. It fails
	// with ErrNotFound if the id is absent, ErrInvalidTransition if the
	// record is no longer Locked, and the validator's error if the validator
	// rejects. On success the record's state is newState.
	Transition(ctx context.Context, id contracts.CommitmentID, newState contracts.State, now time.Time, validate TransitionValidator) error

	// LockedTotal returns the sum of amounts of all records currently in the
	// Locked state. Used for conservation checks against pool custody.
	LockedTotal(ctx context.Context) (uint64, error)
}
