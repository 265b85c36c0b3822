package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bridgelock/escrow/pkg/contracts"
)

// MemoryCommitmentStore is a mutex-guarded in-memory CommitmentStore for
// tests and ephemeral deployments.
type MemoryCommitmentStore struct {
	mu      sync.RWMutex
	records map[contracts.CommitmentID]*contracts.EscrowRecord
}

// NewMemoryCommitmentStore creates an empty in-memory store.
func NewMemoryCommitmentStore() *MemoryCommitmentStore {
	return &MemoryCommitmentStore{records: make(map[contracts.CommitmentID]*contracts.EscrowRecord)}
}

func (s *MemoryCommitmentStore) Insert(ctx context.Context, rec *contracts.EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("%w: %s", contracts.ErrDuplicateCommitment, rec.ID)
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryCommitmentStore) Get(ctx context.Context, id contracts.CommitmentID) (*contracts.EscrowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: commitment %s", contracts.ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryCommitmentStore) Transition(ctx context.Context, id contracts.CommitmentID, newState contracts.State, now time.Time, validate TransitionValidator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: commitment %s", contracts.ErrNotFound, id)
	}
	if rec.State != contracts.StateLocked {
		return fmt.Errorf("%w: commitment %s is %s", contracts.ErrInvalidTransition, id, rec.State)
	}
	if validate != nil {
		cp := *rec
		if err := validate(&cp, now); err != nil {
			return err
		}
	}
	rec.State = newState
	return nil
}

func (s *MemoryCommitmentStore) LockedTotal(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, rec := range s.records {
		if rec.State == contracts.StateLocked {
			total += rec.Amount
		}
	}
	return total, nil
}
