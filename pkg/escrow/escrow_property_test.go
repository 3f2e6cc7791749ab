//go:build property
// +build property

package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// TestCollectReclaimExclusive verifies an escrow settles at most once.
// Property: for any interleaving of collect and reclaim attempts at any
// times, at most one succeeds and the locked amount is never duplicated.
func TestCollectReclaimExclusive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("collect and reclaim are mutually exclusive", prop.ForAll(
		func(amount uint64, ttl int, steps []int) bool {
			e := newEnv(t)
			e.approve(e.tokA, alice, e.fungible.Address(), amount)
			exp := t0.Add(time.Duration(ttl) * time.Second)
			esc := e.lockFungible(alice, FungibleData{Terms: trivialTerms(e), Token: e.tokA.Address(), Amount: amount}, exp)
			res := e.result(bob, "done")

			successes := 0
			for _, step := range steps {
				e.now = t0.Add(time.Duration(step/2) * time.Second)
				var err error
				if step%2 == 0 {
					_, err = substrate.Call(context.Background(), e.host, bob, "collect", func(tx *substrate.Tx) (any, error) {
						return e.fungible.Collect(tx, esc.UID, res.UID)
					})
				} else {
					_, err = substrate.Call(context.Background(), e.host, alice, "reclaim", func(tx *substrate.Tx) (any, error) {
						return e.fungible.Reclaim(tx, esc.UID)
					})
				}
				if err == nil {
					successes++
				}
			}

			total := e.balance(e.tokA, alice) + e.balance(e.tokA, bob) + e.balance(e.tokA, e.fungible.Address())
			return successes <= 1 && total == 1000
		},
		gen.UInt64Range(1, 1000),
		gen.IntRange(1, 20),
		gen.SliceOf(gen.IntRange(0, 60)),
	))

	properties.TestingRun(t)
}
