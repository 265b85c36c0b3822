package roles

import (
	"context"
	"sync"
)

// Store persists role membership and admin-role assignments. The registry
// is the only writer; implementations must survive process restarts when
// durability is required (see SQLiteStore).
type Store interface {
	// Has reports whether principal holds role.
	Has(ctx context.Context, role Role, principal string) (bool, error)
	// Add records membership; adding an existing member is a no-op.
	Add(ctx context.Context, role Role, principal string) error
	// Remove erases membership; removing an absent member is a no-op.
	Remove(ctx context.Context, role Role, principal string) error
	// AdminOf returns the admin role for role and whether role is declared.
	AdminOf(ctx context.Context, role Role) (Role, bool, error)
	// DeclareRole records a role and its admin role.
	DeclareRole(ctx context.Context, role, admin Role) error
	// Initialized reports whether one-time initialization already ran.
	Initialized(ctx context.Context) (bool, error)
	// MarkInitialized records that initialization ran.
	MarkInitialized(ctx context.Context) error
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu          sync.RWMutex
	members     map[Role]map[string]struct{}
	admins      map[Role]Role
	initialized bool
}

// NewMemoryStore creates an empty in-memory role store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members: make(map[Role]map[string]struct{}),
		admins:  make(map[Role]Role),
	}
}

func (s *MemoryStore) Has(ctx context.Context, role Role, principal string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[role][principal]
	return ok, nil
}

func (s *MemoryStore) Add(ctx context.Context, role Role, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[role] == nil {
		s.members[role] = make(map[string]struct{})
	}
	s.members[role][principal] = struct{}{}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, role Role, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[role], principal)
	return nil
}

func (s *MemoryStore) AdminOf(ctx context.Context, role Role) (Role, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	admin, ok := s.admins[role]
	return admin, ok, nil
}

func (s *MemoryStore) DeclareRole(ctx context.Context, role, admin Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[role] = admin
	return nil
}

func (s *MemoryStore) Initialized(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized, nil
}

func (s *MemoryStore) MarkInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}
