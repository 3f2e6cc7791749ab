// Package arbiter defines the predicate escrows consult before releasing
// custody, together with the stateless arbiters.
//
// An arbiter decides whether a fulfillment record satisfies a demand attached
// to an escrow. Decide is always invoked through a read-only view of the call,
// so an arbiter can observe state but never change it. A false verdict means
// "not satisfied"; an error means the decision itself could not be made
// (malformed demand, missing component) and aborts the enclosing call.
package arbiter

import (
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Arbiter decides fulfillments.
type Arbiter interface {
	substrate.Component
	Decide(tx *substrate.Tx, fulfillment registry.Record, demand []byte, escrowID registry.UID) (bool, error)
}

// Resolve returns the arbiter deployed at addr.
func Resolve(tx *substrate.Tx, addr substrate.Address) (Arbiter, error) {
	return substrate.Lookup[Arbiter](tx, addr)
}

// Decide resolves addr and asks it to decide through a read-only view.
func Decide(tx *substrate.Tx, addr substrate.Address, fulfillment registry.Record, demand []byte, escrowID registry.UID) (bool, error) {
	a, err := Resolve(tx, addr)
	if err != nil {
		return false, err
	}
	return a.Decide(tx.ReadOnly(), fulfillment, demand, escrowID)
}

// CheckIntrinsic fails with Expired or Revoked when rec is no longer live at
// now.
func CheckIntrinsic(rec registry.Record, now time.Time) error {
	if rec.IsExpired(now) {
		return protoerr.New(protoerr.KindExpired, "arbiter.CheckIntrinsic", "record %s expired at %s", rec.UID, rec.ExpirationTime)
	}
	if rec.IsRevoked() {
		return protoerr.New(protoerr.KindRevoked, "arbiter.CheckIntrinsic", "record %s revoked at %s", rec.UID, rec.RevocationTime)
	}
	return nil
}

// CheckIntrinsicSchema is CheckIntrinsic plus a schema check.
func CheckIntrinsicSchema(rec registry.Record, schema registry.SchemaUID, now time.Time) error {
	if rec.Schema != schema {
		return protoerr.New(protoerr.KindSchemaMismatch, "arbiter.CheckIntrinsic", "record %s has schema %s, want %s", rec.UID, rec.Schema, schema)
	}
	return CheckIntrinsic(rec, now)
}
