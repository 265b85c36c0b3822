//go:build property

package escrow

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/bridgelock/escrow/pkg/contracts"
	"github.com/bridgelock/escrow/pkg/ledger"
	"github.com/bridgelock/escrow/pkg/roles"
	"github.com/bridgelock/escrow/pkg/store"
)

// escrowAction is one randomly generated step against a single commitment.
type escrowAction struct {
	Amount   uint64
	Preimage string
	// Resolution: 0 complete, 1 refund, 2 cancel, 3 leave locked.
	Resolution int
	// WrongSecret completes with a bogus preimage instead.
	WrongSecret bool
}

func genAction() gopter.Gen {
	return gen.Struct(reflect.TypeOf(escrowAction{}), map[string]gopter.Gen{
		"Amount":      gen.UInt64Range(1, 500),
		"Preimage":    gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		"Resolution":  gen.IntRange(0, 3),
		"WrongSecret": gen.Bool(),
	})
}

// TestPropertyConservation drives random lock/resolve sequences and checks
// after every step that pool custody equals the sum of Locked amounts and
// that total value in the system never changes.
func TestPropertyConservation(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)

	properties.Property("pool custody equals locked total and value is conserved",
		prop.ForAll(func(actions []escrowAction) bool {
			ctx := context.Background()

			registry := roles.NewRegistry(roles.NewMemoryStore(), nil, nil)
			require.NoError(t, registry.Initialize(ctx, []roles.Grant{
				{Role: roles.OperatorRole, Principal: "operator", AdminRole: roles.OperatorRole},
			}))

			assets := ledger.NewMemory()
			const supply = uint64(1_000_000)
			require.NoError(t, assets.Mint(ctx, "alice", supply))

			now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
			clock := now
			engine := NewEngine(store.NewMemoryCommitmentStore(), assets, registry, nil, DefaultBounds(), nil).
				WithClock(func() time.Time { return clock })

			check := func() bool {
				pool, err := engine.PoolBalance(ctx)
				if err != nil {
					return false
				}
				total, err := engine.LockedTotal(ctx)
				if err != nil {
					return false
				}
				aliceBal, _ := assets.BalanceOf(ctx, "alice")
				bobBal, _ := assets.BalanceOf(ctx, "bob")
				return pool == total && aliceBal+bobBal+pool == supply
			}

			for _, a := range actions {
				id, err := engine.Lock(ctx, "alice", "bob", a.Amount,
					contracts.HashPreimage([]byte(a.Preimage)), time.Hour)
				if err != nil {
					return false
				}
				if !check() {
					return false
				}

				switch a.Resolution {
				case 0:
					secret := a.Preimage
					if a.WrongSecret {
						secret = a.Preimage + "x"
					}
					err = engine.Complete(ctx, id, []byte(secret))
					if a.WrongSecret && err == nil {
						return false
					}
				case 1:
					clock = clock.Add(time.Hour + time.Second)
					if err := engine.Refund(ctx, id); err != nil {
						return false
					}
				case 2:
					if err := engine.Cancel(ctx, "operator", id); err != nil {
						return false
					}
				}
				if !check() {
					return false
				}
			}
			return true
		}, gen.SliceOfN(10, genAction())))

	properties.TestingRun(t)
}
