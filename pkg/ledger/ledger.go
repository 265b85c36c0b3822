// Package ledger defines the AssetLedger capability the escrow engine
// consumes, plus an in-memory reference implementation. The ledger owns
// per-principal balances and the pool custody balance; all arithmetic is
// overflow-checked and every operation is all-or-nothing.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/bridgelock/escrow/pkg/contracts"
)

// AssetLedger is the fungible-asset capability consumed by the engine and
// the admin gate. Implementations must be safe for concurrent use.
type AssetLedger interface {
	// Mint credits newly issued units to a principal.
	Mint(ctx context.Context, p contracts.Principal, amount uint64) error
	// Transfer moves units between two principals.
	Transfer(ctx context.Context, from, to contracts.Principal, amount uint64) error
	// TransferInto debits a principal and credits pool custody.
	TransferInto(ctx context.Context, p contracts.Principal, amount uint64) error
	// TransferOut debits pool custody and credits a principal.
	TransferOut(ctx context.Context, p contracts.Principal, amount uint64) error
	// BalanceOf returns a principal's balance.
	BalanceOf(ctx context.Context, p contracts.Principal) (uint64, error)
	// PoolBalance returns the amount currently held in pool custody.
	PoolBalance(ctx context.Context) (uint64, error)
	// AdjustPool applies a signed administrative adjustment to pool custody.
	AdjustPool(ctx context.Context, delta int64) error
}

// checkedAdd returns a+b or ErrArithmeticOverflow.
func checkedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%w: %d + %d", contracts.ErrArithmeticOverflow, a, b)
	}
	return a + b, nil
}

// checkedSub returns a-b or ErrInsufficientBalance.
func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: have %d, need %d", contracts.ErrInsufficientBalance, a, b)
	}
	return a - b, nil
}

// Memory is an in-memory AssetLedger. It backs tests and single-node
// deployments where the asset has no external home.
type Memory struct {
	mu       sync.RWMutex
	balances map[contracts.Principal]uint64
	pool     uint64
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[contracts.Principal]uint64)}
}

func (l *Memory) Mint(ctx context.Context, p contracts.Principal, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := checkedAdd(l.balances[p], amount)
	if err != nil {
		return err
	}
	l.balances[p] = next
	return nil
}

func (l *Memory) Transfer(ctx context.Context, from, to contracts.Principal, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	debited, err := checkedSub(l.balances[from], amount)
	if err != nil {
		return err
	}
	credited, err := checkedAdd(l.balances[to], amount)
	if err != nil {
		return err
	}
	l.balances[from] = debited
	l.balances[to] = credited
	return nil
}

func (l *Memory) TransferInto(ctx context.Context, p contracts.Principal, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	debited, err := checkedSub(l.balances[p], amount)
	if err != nil {
		return err
	}
	pool, err := checkedAdd(l.pool, amount)
	if err != nil {
		return err
	}
	l.balances[p] = debited
	l.pool = pool
	return nil
}

func (l *Memory) TransferOut(ctx context.Context, p contracts.Principal, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, err := checkedSub(l.pool, amount)
	if err != nil {
		return err
	}
	credited, err := checkedAdd(l.balances[p], amount)
	if err != nil {
		return err
	}
	l.pool = pool
	l.balances[p] = credited
	return nil
}

func (l *Memory) BalanceOf(ctx context.Context, p contracts.Principal) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[p], nil
}

func (l *Memory) PoolBalance(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pool, nil
}

func (l *Memory) AdjustPool(ctx context.Context, delta int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if delta >= 0 {
		pool, err := checkedAdd(l.pool, uint64(delta))
		if err != nil {
			return err
		}
		l.pool = pool
		return nil
	}
	pool, err := checkedSub(l.pool, uint64(-delta))
	if err != nil {
		return err
	}
	l.pool = pool
	return nil
}
