// Package token is the fungible-asset façade over the AssetLedger: a named
// asset whose mint is gated by the minter role, with one-time
// initialization that seeds the role registry.
package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/bridgelock/escrow/pkg/admin"
	"github.com/bridgelock/escrow/pkg/contracts"
	"github.com/bridgelock/escrow/pkg/ledger"
	"github.com/bridgelock/escrow/pkg/roles"
)

// Token is the asset façade. Transfer and BalanceOf delegate to the ledger;
// Mint goes through the admin gate so the minter role applies.
type Token struct {
	mu          sync.Mutex
	name        string
	symbol      string
	ledger      ledger.AssetLedger
	registry    *roles.Registry
	gate        *admin.Gate
	initialized bool
}

// New creates an uninitialized token façade.
func New(name, symbol string, al ledger.AssetLedger, reg *roles.Registry, gate *admin.Gate) *Token {
	return &Token{name: name, symbol: symbol, ledger: al, registry: reg, gate: gate}
}

func (t *Token) Name() string   { return t.name }
func (t *Token) Symbol() string { return t.symbol }

// Initialize runs exactly once: it applies the initial role grants to the
// registry. A second call fails with ErrAlreadyInitialized and leaves all
// state exactly as the first call left it.
func (t *Token) Initialize(ctx context.Context, grants []roles.Grant) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return fmt.Errorf("%w: token %s", contracts.ErrAlreadyInitialized, t.symbol)
	}
	if err := t.registry.Initialize(ctx, grants); err != nil {
		return err
	}
	t.initialized = true
	return nil
}

// DefaultGrants is the grant set the original token contract applied at
// initialization: the deployer gets the minter admin role (self-
// administered), the minter role under it, and the self-administered
// operator role.
func DefaultGrants(deployer contracts.Principal) []roles.Grant {
	return []roles.Grant{
		{Role: roles.MinterAdminRole, Principal: deployer, AdminRole: roles.MinterAdminRole},
		{Role: roles.MinterRole, Principal: deployer, AdminRole: roles.MinterAdminRole},
		{Role: roles.OperatorRole, Principal: deployer, AdminRole: roles.OperatorRole},
	}
}

// Mint issues new units, gated by the minter role.
func (t *Token) Mint(ctx context.Context, actor, to contracts.Principal, amount uint64) error {
	if err := t.requireInitialized(); err != nil {
		return err
	}
	return t.gate.Mint(ctx, actor, to, amount)
}

// Transfer moves units between principals.
func (t *Token) Transfer(ctx context.Context, from, to contracts.Principal, amount uint64) error {
	if err := t.requireInitialized(); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: transfer amount must be positive", contracts.ErrInvalidParameters)
	}
	return t.ledger.Transfer(ctx, from, to, amount)
}

// BalanceOf returns a principal's balance.
func (t *Token) BalanceOf(ctx context.Context, p contracts.Principal) (uint64, error) {
	return t.ledger.BalanceOf(ctx, p)
}

func (t *Token) requireInitialized() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return fmt.Errorf("%w: token %s is not initialized", contracts.ErrInvalidParameters, t.symbol)
	}
	return nil
}
