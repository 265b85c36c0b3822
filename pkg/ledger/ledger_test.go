package ledger

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/bridgelock/escrow/pkg/contracts"
)

func TestMemoryMintAndBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	if err := l.Mint(ctx, "alice", 100); err != nil {
		t.Fatal(err)
	}
	bal, err := l.BalanceOf(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 100 {
		t.Fatalf("expected 100, got %d", bal)
	}
}

func TestMemoryMintOverflow(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	if err := l.Mint(ctx, "alice", math.MaxUint64); err != nil {
		t.Fatal(err)
	}
	err := l.Mint(ctx, "alice", 1)
	if !errors.Is(err, contracts.ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	// Balance untouched by the failed mint.
	bal, _ := l.BalanceOf(ctx, "alice")
	if bal != math.MaxUint64 {
		t.Fatalf("failed mint must not change balance, got %d", bal)
	}
}

func TestMemoryTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	_ = l.Mint(ctx, "alice", 100)

	if err := l.Transfer(ctx, "alice", "bob", 40); err != nil {
		t.Fatal(err)
	}
	aliceBal, _ := l.BalanceOf(ctx, "alice")
	bobBal, _ := l.BalanceOf(ctx, "bob")
	if aliceBal != 60 || bobBal != 40 {
		t.Fatalf("expected 60/40, got %d/%d", aliceBal, bobBal)
	}
}

func TestMemoryTransferInsufficient(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	_ = l.Mint(ctx, "alice", 10)

	err := l.Transfer(ctx, "alice", "bob", 11)
	if !errors.Is(err, contracts.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestMemoryPoolCustody(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	_ = l.Mint(ctx, "alice", 100)

	if err := l.TransferInto(ctx, "alice", 70); err != nil {
		t.Fatal(err)
	}
	pool, _ := l.PoolBalance(ctx)
	aliceBal, _ := l.BalanceOf(ctx, "alice")
	if pool != 70 || aliceBal != 30 {
		t.Fatalf("expected pool 70 / alice 30, got %d/%d", pool, aliceBal)
	}

	if err := l.TransferOut(ctx, "bob", 70); err != nil {
		t.Fatal(err)
	}
	pool, _ = l.PoolBalance(ctx)
	bobBal, _ := l.BalanceOf(ctx, "bob")
	if pool != 0 || bobBal != 70 {
		t.Fatalf("expected pool 0 / bob 70, got %d/%d", pool, bobBal)
	}
}

func TestMemoryTransferOutOverdraw(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	err := l.TransferOut(ctx, "bob", 1)
	if !errors.Is(err, contracts.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestMemoryAdjustPool(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	if err := l.AdjustPool(ctx, 500); err != nil {
		t.Fatal(err)
	}
	if err := l.AdjustPool(ctx, -200); err != nil {
		t.Fatal(err)
	}
	pool, _ := l.PoolBalance(ctx)
	if pool != 300 {
		t.Fatalf("expected 300, got %d", pool)
	}

	err := l.AdjustPool(ctx, -301)
	if !errors.Is(err, contracts.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}
