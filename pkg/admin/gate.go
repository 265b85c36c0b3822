// Package admin is the thin façade applying role checks before privileged
// operations: minting, minter-role administration, and pool custody
// adjustment. Revoking a role takes effect for the very next call through
// the gate.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bridgelock/escrow/pkg/audit"
	"github.com/bridgelock/escrow/pkg/contracts"
	"github.com/bridgelock/escrow/pkg/ledger"
	"github.com/bridgelock/escrow/pkg/roles"
)

// Gate wraps the ledger's privileged operations with registry checks.
type Gate struct {
	registry      *roles.Registry
	ledger        ledger.AssetLedger
	sink          audit.Sink
	maxPoolAdjust uint64
	logger        *slog.Logger
}

// NewGate creates a gate. maxPoolAdjust bounds a single pool adjustment in
// either direction; zero disables adjustments entirely.
func NewGate(reg *roles.Registry, al ledger.AssetLedger, sink audit.Sink, maxPoolAdjust uint64, logger *slog.Logger) *Gate {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		registry:      reg,
		ledger:        al,
		sink:          sink,
		maxPoolAdjust: maxPoolAdjust,
		logger:        logger.With("component", "admin"),
	}
}

// Mint issues amount to a principal. The actor must hold the minter role at
// call time.
func (g *Gate) Mint(ctx context.Context, actor, to contracts.Principal, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: mint amount must be positive", contracts.ErrInvalidParameters)
	}
	if err := g.require(ctx, actor, roles.MinterRole); err != nil {
		return err
	}
	if err := g.ledger.Mint(ctx, to, amount); err != nil {
		return err
	}
	g.emit(ctx, audit.EventMintPerformed, actor, string(to), amount)
	return nil
}

// GrantMinterRole grants the minter role; the actor must hold the minter
// admin role.
func (g *Gate) GrantMinterRole(ctx context.Context, actor, principal contracts.Principal) error {
	return g.registry.GrantRole(ctx, actor, roles.MinterRole, principal)
}

// RevokeMinterRole revokes the minter role; effective immediately.
func (g *Gate) RevokeMinterRole(ctx context.Context, actor, principal contracts.Principal) error {
	return g.registry.RevokeRole(ctx, actor, roles.MinterRole, principal)
}

// GrantMinterAdminRole grants the minter admin role.
func (g *Gate) GrantMinterAdminRole(ctx context.Context, actor, principal contracts.Principal) error {
	return g.registry.GrantRole(ctx, actor, roles.MinterAdminRole, principal)
}

// RevokeMinterAdminRole revokes the minter admin role.
func (g *Gate) RevokeMinterAdminRole(ctx context.Context, actor, principal contracts.Principal) error {
	return g.registry.RevokeRole(ctx, actor, roles.MinterAdminRole, principal)
}

// AdjustPool applies a signed administrative adjustment to pool custody,
// bounded by the configured maximum. The actor must hold the operator role.
func (g *Gate) AdjustPool(ctx context.Context, actor contracts.Principal, delta int64) error {
	magnitude := uint64(delta)
	if delta < 0 {
		magnitude = uint64(-delta)
	}
	if magnitude == 0 || magnitude > g.maxPoolAdjust {
		return fmt.Errorf("%w: pool adjustment %d outside (0, %d]",
			contracts.ErrInvalidParameters, delta, g.maxPoolAdjust)
	}
	if err := g.require(ctx, actor, roles.OperatorRole); err != nil {
		return err
	}
	if err := g.ledger.AdjustPool(ctx, delta); err != nil {
		return err
	}
	g.emit(ctx, audit.EventPoolAdjusted, actor, "pool", magnitude)
	return nil
}

func (g *Gate) require(ctx context.Context, actor contracts.Principal, role roles.Role) error {
	held, err := g.registry.HasRole(ctx, role, actor)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: %s does not hold role %s", contracts.ErrUnauthorized, actor, role)
	}
	return nil
}

func (g *Gate) emit(ctx context.Context, t audit.EventType, actor contracts.Principal, subject string, amount uint64) {
	err := g.sink.Record(ctx, audit.Event{
		Type:    t,
		Actor:   string(actor),
		Subject: subject,
		Amount:  amount,
	})
	if err != nil {
		g.logger.WarnContext(ctx, "audit sink rejected event", "type", string(t), "error", err)
	}
}
