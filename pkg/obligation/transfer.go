package obligation

import (
	"github.com/Mindburn-Labs/helm/settlement/pkg/assets"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// The transfer helpers resolve an asset ledger and move assets with
// tx.Caller() as the acting account. Any failure, including an unresolvable
// ledger, is TransferFailed wrapping the cause. Components pass a view from
// Obligation.Act so that they act as themselves.

func TransferFungible(tx *substrate.Tx, token, from, to substrate.Address, amount uint64) error {
	const op = "obligation.TransferFungible"
	t, err := substrate.Lookup[*assets.FungibleToken](tx, token)
	if err != nil {
		return protoerr.Wrap(protoerr.KindTransferFailed, op, err)
	}
	return protoerr.Wrap(protoerr.KindTransferFailed, op, t.TransferFrom(tx, from, to, amount))
}

func TransferNonFungible(tx *substrate.Tx, token, from, to substrate.Address, id uint64) error {
	const op = "obligation.TransferNonFungible"
	t, err := substrate.Lookup[*assets.NonFungibleToken](tx, token)
	if err != nil {
		return protoerr.Wrap(protoerr.KindTransferFailed, op, err)
	}
	return protoerr.Wrap(protoerr.KindTransferFailed, op, t.TransferFrom(tx, from, to, id))
}

func TransferMulti(tx *substrate.Tx, token, from, to substrate.Address, id, amount uint64) error {
	const op = "obligation.TransferMulti"
	t, err := substrate.Lookup[*assets.MultiToken](tx, token)
	if err != nil {
		return protoerr.Wrap(protoerr.KindTransferFailed, op, err)
	}
	return protoerr.Wrap(protoerr.KindTransferFailed, op, t.TransferFrom(tx, from, to, id, amount))
}
