package escrow

import (
	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// BundleData locks a heterogeneous batch. Every slot is pulled and released
// independently; any failing slot aborts the whole call.
type BundleData struct {
	Terms
	obligation.Bundle
}

func (d BundleData) WithTerms(t Terms) BundleData {
	d.Terms = t
	return d
}

var bundleShape = shape("escrow.bundle", obligation.BundleRequired, obligation.BundleProperties)

type bundleKind struct{ shape *codec.Schema }

func (k bundleKind) Shape() *codec.Schema { return k.shape }

func (bundleKind) Validate(d BundleData) error { return d.Bundle.Validate() }

func (bundleKind) Pull(tx *substrate.Tx, d BundleData, payer substrate.Address) error {
	return d.Move(tx, payer, tx.Caller())
}

func (bundleKind) Release(tx *substrate.Tx, d BundleData, to substrate.Address) error {
	return d.Move(tx, tx.Caller(), to)
}

func (bundleKind) Covers(locked, demanded BundleData) bool {
	return locked.Bundle.Covers(demanded.Bundle)
}
