// Package escrow implements the hashed-timelock escrow engine: locking an
// asset under a Keccak-256 commitment and releasing it to whoever reveals
// the preimage within the time window, or back to the locker after expiry.
//
// The engine owns no state of its own; commitments live in the injected
// CommitmentStore and funds in the injected AssetLedger. A single mutex
// serializes mutating operations so each one is all-or-nothing: of two
// racing resolutions of the same commitment, exactly one succeeds and the
// loser observes ErrInvalidTransition.
package escrow

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bridgelock/escrow/pkg/audit"
	"github.com/bridgelock/escrow/pkg/contracts"
	"github.com/bridgelock/escrow/pkg/ledger"
	"github.com/bridgelock/escrow/pkg/roles"
	"github.com/bridgelock/escrow/pkg/store"
)

// Bounds limits the timelock duration a lock may request.
type Bounds struct {
	MinTimelock time.Duration
	MaxTimelock time.Duration
}

// DefaultBounds matches the bridge deployment defaults: one minute to
// thirty days.
func DefaultBounds() Bounds {
	return Bounds{MinTimelock: time.Minute, MaxTimelock: 30 * 24 * time.Hour}
}

// Engine is the per-escrow state machine: Locked, then exactly one of
// Completed, Refunded, or Cancelled.
type Engine struct {
	mu       sync.Mutex
	store    store.CommitmentStore
	ledger   ledger.AssetLedger
	registry *roles.Registry
	sink     audit.Sink
	bounds   Bounds
	clock    func() time.Time
	logger   *slog.Logger
}

// NewEngine wires an engine over its collaborators. A nil sink discards
// audit events; a nil logger falls back to slog.Default.
func NewEngine(cs store.CommitmentStore, al ledger.AssetLedger, reg *roles.Registry, sink audit.Sink, bounds Bounds, logger *slog.Logger) *Engine {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    cs,
		ledger:   al,
		registry: reg,
		sink:     sink,
		bounds:   bounds,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   logger.With("component", "escrow"),
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Lock debits amount from locker into pool custody and records a new Locked
// commitment. The returned id is derived from the lock parameters and a
// fresh nonce.
func (e *Engine) Lock(ctx context.Context, locker, counterparty contracts.Principal, amount uint64, lock contracts.HashLock, timelock time.Duration) (contracts.CommitmentID, error) {
	var zero contracts.CommitmentID

	if amount == 0 {
		return zero, fmt.Errorf("%w: amount must be positive", contracts.ErrInvalidParameters)
	}
	if locker == "" || counterparty == "" {
		return zero, fmt.Errorf("%w: locker and counterparty are required", contracts.ErrInvalidParameters)
	}
	if timelock < e.bounds.MinTimelock || timelock > e.bounds.MaxTimelock {
		return zero, fmt.Errorf("%w: timelock %s outside [%s, %s]",
			contracts.ErrInvalidParameters, timelock, e.bounds.MinTimelock, e.bounds.MaxTimelock)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	nonce := uuid.New()
	id := contracts.DeriveCommitmentID(locker, counterparty, amount, lock, nonce[:])

	if err := e.ledger.TransferInto(ctx, locker, amount); err != nil {
		return zero, err
	}

	rec := &contracts.EscrowRecord{
		ID:           id,
		HashLock:     lock,
		Locker:       locker,
		Counterparty: counterparty,
		Amount:       amount,
		CreatedAt:    now,
		Expiry:       now.Add(timelock),
		State:        contracts.StateLocked,
	}
	if err := e.store.Insert(ctx, rec); err != nil {
		// Undo the debit so the failed lock leaves no trace.
		if cerr := e.ledger.TransferOut(ctx, locker, amount); cerr != nil {
			e.logger.ErrorContext(ctx, "failed to compensate debit after insert failure",
				"commitment", id.String(), "error", cerr)
		}
		return zero, err
	}

	e.emit(ctx, audit.EventLockCreated, string(locker), id, amount)
	return id, nil
}

// Complete resolves a Locked commitment with its secret preimage and
// credits the counterparty. Knowledge of the preimage is the authorization;
// the caller's identity is irrelevant. Terminal records fail with
// ErrInvalidTransition regardless of expiry; Expired is only reported for
// records still Locked.
func (e *Engine) Complete(ctx context.Context, id contracts.CommitmentID, preimage []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := e.precheckPayout(ctx, rec.Counterparty, rec.Amount); err != nil {
		return err
	}

	now := e.clock()
	err = e.store.Transition(ctx, id, contracts.StateCompleted, now, func(r *contracts.EscrowRecord, now time.Time) error {
		digest := contracts.HashPreimage(preimage)
		if !bytes.Equal(digest[:], r.HashLock[:]) {
			return fmt.Errorf("%w: commitment %s", contracts.ErrInvalidPreimage, r.ID)
		}
		if now.After(r.Expiry) {
			return fmt.Errorf("%w: commitment %s expired at %s", contracts.ErrExpired, r.ID, r.Expiry.Format(time.RFC3339))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.ledger.TransferOut(ctx, rec.Counterparty, rec.Amount); err != nil {
		// Cannot happen after precheckPayout under the engine mutex; if the
		// ledger disagrees anyway the funds stay in custody and we surface it.
		e.logger.ErrorContext(ctx, "credit failed after transition", "commitment", id.String(), "error", err)
		return err
	}

	e.emit(ctx, audit.EventLockCompleted, string(rec.Counterparty), id, rec.Amount)
	return nil
}

// Refund returns a Locked commitment's funds to the locker once the time
// window has passed. Anyone may call it; the funds always go to the locker.
func (e *Engine) Refund(ctx context.Context, id contracts.CommitmentID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := e.precheckPayout(ctx, rec.Locker, rec.Amount); err != nil {
		return err
	}

	now := e.clock()
	err = e.store.Transition(ctx, id, contracts.StateRefunded, now, func(r *contracts.EscrowRecord, now time.Time) error {
		if !now.After(r.Expiry) {
			return fmt.Errorf("%w: commitment %s expires at %s", contracts.ErrNotYetExpired, r.ID, r.Expiry.Format(time.RFC3339))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.ledger.TransferOut(ctx, rec.Locker, rec.Amount); err != nil {
		e.logger.ErrorContext(ctx, "refund credit failed after transition", "commitment", id.String(), "error", err)
		return err
	}

	e.emit(ctx, audit.EventLockRefunded, string(rec.Locker), id, rec.Amount)
	return nil
}

// Cancel aborts a still-Locked commitment before any counterparty action
// and refunds the locker. Only the locker or an operator may cancel.
func (e *Engine) Cancel(ctx context.Context, caller contracts.Principal, id contracts.CommitmentID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if caller != rec.Locker {
		isOperator, err := e.registry.HasRole(ctx, roles.OperatorRole, caller)
		if err != nil {
			return err
		}
		if !isOperator {
			return fmt.Errorf("%w: %s may not cancel commitment %s", contracts.ErrUnauthorized, caller, id)
		}
	}
	if err := e.precheckPayout(ctx, rec.Locker, rec.Amount); err != nil {
		return err
	}

	now := e.clock()
	if err := e.store.Transition(ctx, id, contracts.StateCancelled, now, nil); err != nil {
		return err
	}

	if err := e.ledger.TransferOut(ctx, rec.Locker, rec.Amount); err != nil {
		e.logger.ErrorContext(ctx, "cancel credit failed after transition", "commitment", id.String(), "error", err)
		return err
	}

	e.emit(ctx, audit.EventLockCancelled, string(caller), id, rec.Amount)
	return nil
}

// Get returns the record for id.
func (e *Engine) Get(ctx context.Context, id contracts.CommitmentID) (*contracts.EscrowRecord, error) {
	return e.store.Get(ctx, id)
}

// PoolBalance returns the amount currently in pool custody.
func (e *Engine) PoolBalance(ctx context.Context) (uint64, error) {
	return e.ledger.PoolBalance(ctx)
}

// LockedTotal returns the sum of amounts of Locked records; conservation
// requires it to equal PoolBalance at all times (modulo administrative pool
// adjustments).
func (e *Engine) LockedTotal(ctx context.Context) (uint64, error) {
	return e.store.LockedTotal(ctx)
}

// precheckPayout rejects a resolution whose payout would fail: pool custody
// must cover the amount and the credit must not overflow the recipient's
// balance. Running this before Transition keeps the terminal commit and the
// payout atomic; a record never goes terminal with the funds still in custody.
func (e *Engine) precheckPayout(ctx context.Context, to contracts.Principal, amount uint64) error {
	pool, err := e.ledger.PoolBalance(ctx)
	if err != nil {
		return err
	}
	if pool < amount {
		return fmt.Errorf("%w: pool custody %d cannot cover payout of %d", contracts.ErrInsufficientBalance, pool, amount)
	}
	bal, err := e.ledger.BalanceOf(ctx, to)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("%w: crediting %d to %s", contracts.ErrArithmeticOverflow, amount, to)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, t audit.EventType, actor string, id contracts.CommitmentID, amount uint64) {
	err := e.sink.Record(ctx, audit.Event{
		Type:      t,
		Actor:     actor,
		Subject:   id.String(),
		Amount:    amount,
		Timestamp: e.clock(),
	})
	if err != nil {
		e.logger.WarnContext(ctx, "audit sink rejected event", "type", string(t), "error", err)
	}
}
