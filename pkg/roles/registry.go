package roles

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bridgelock/escrow/pkg/audit"
	"github.com/bridgelock/escrow/pkg/contracts"
)

// Registry enforces the grant/revoke rules over a role Store. Granting or
// revoking a role requires the actor to hold that role's admin role;
// revocation is immediately effective for the very next check.
type Registry struct {
	store  Store
	sink   audit.Sink
	logger *slog.Logger
}

// NewRegistry creates a registry over the given store. A nil sink discards
// audit events; a nil logger falls back to slog.Default.
func NewRegistry(store Store, sink audit.Sink, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, sink: sink, logger: logger.With("component", "roles")}
}

// Initialize applies the configured initial grants exactly once. Every
// role's admin role must itself be declared by the grant list (the root
// admin role may administer itself). A second call fails with
// ErrAlreadyInitialized and changes nothing.
func (r *Registry) Initialize(ctx context.Context, grants []Grant) error {
	done, err := r.store.Initialized(ctx)
	if err != nil {
		return err
	}
	if done {
		return fmt.Errorf("%w: role registry", contracts.ErrAlreadyInitialized)
	}

	declared := make(map[Role]struct{}, len(grants))
	for _, g := range grants {
		declared[g.Role] = struct{}{}
	}
	for _, g := range grants {
		if _, ok := declared[g.AdminRole]; !ok {
			return fmt.Errorf("%w: admin role %s of role %s is not declared",
				contracts.ErrInvalidParameters, g.AdminRole, g.Role)
		}
	}

	for _, g := range grants {
		if err := r.store.DeclareRole(ctx, g.Role, g.AdminRole); err != nil {
			return err
		}
		if err := r.store.Add(ctx, g.Role, string(g.Principal)); err != nil {
			return err
		}
		r.emit(ctx, audit.EventRoleGranted, "system", g.Role, g.Principal)
	}
	if err := r.store.MarkInitialized(ctx); err != nil {
		return err
	}
	r.emit(ctx, audit.EventInitialized, "system", Role{}, "")
	return nil
}

// HasRole reports whether principal holds role.
func (r *Registry) HasRole(ctx context.Context, role Role, principal contracts.Principal) (bool, error) {
	return r.store.Has(ctx, role, string(principal))
}

// GetRoleAdmin returns the admin role for role, or ErrNotFound for an
// undeclared role.
func (r *Registry) GetRoleAdmin(ctx context.Context, role Role) (Role, error) {
	admin, ok, err := r.store.AdminOf(ctx, role)
	if err != nil {
		return Role{}, err
	}
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", contracts.ErrNotFound, role)
	}
	return admin, nil
}

// GrantRole adds principal to role. The actor must hold role's admin role.
// Granting an already-held role succeeds without effect.
func (r *Registry) GrantRole(ctx context.Context, actor contracts.Principal, role Role, principal contracts.Principal) error {
	if err := r.requireAdmin(ctx, actor, role); err != nil {
		return err
	}
	if err := r.store.Add(ctx, role, string(principal)); err != nil {
		return err
	}
	r.emit(ctx, audit.EventRoleGranted, string(actor), role, principal)
	return nil
}

// RevokeRole removes principal from role. The actor must hold role's admin
// role. Revoking an absent membership succeeds without effect.
func (r *Registry) RevokeRole(ctx context.Context, actor contracts.Principal, role Role, principal contracts.Principal) error {
	if err := r.requireAdmin(ctx, actor, role); err != nil {
		return err
	}
	if err := r.store.Remove(ctx, role, string(principal)); err != nil {
		return err
	}
	r.emit(ctx, audit.EventRoleRevoked, string(actor), role, principal)
	return nil
}

func (r *Registry) requireAdmin(ctx context.Context, actor contracts.Principal, role Role) error {
	admin, ok, err := r.store.AdminOf(ctx, role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: role %s", contracts.ErrNotFound, role)
	}
	held, err := r.store.Has(ctx, admin, string(actor))
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: %s does not hold admin role %s", contracts.ErrUnauthorized, actor, admin)
	}
	return nil
}

func (r *Registry) emit(ctx context.Context, t audit.EventType, actor string, role Role, principal contracts.Principal) {
	err := r.sink.Record(ctx, audit.Event{
		Type:    t,
		Actor:   actor,
		Subject: string(principal),
		Metadata: map[string]string{
			"role": role.String(),
		},
	})
	if err != nil {
		r.logger.WarnContext(ctx, "audit sink rejected event", "type", string(t), "error", err)
	}
}
