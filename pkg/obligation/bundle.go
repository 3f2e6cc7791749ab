package obligation

import (
	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Bundle is a heterogeneous asset batch described by parallel sequences.
// Within each category the sequences must have equal length.
type Bundle struct {
	FungibleTokens    []substrate.Address `json:"fungible_tokens"`
	FungibleAmounts   []codec.Uint64      `json:"fungible_amounts"`
	NonFungibleTokens []substrate.Address `json:"nonfungible_tokens"`
	NonFungibleIDs    []codec.Uint64      `json:"nonfungible_ids"`
	MultiTokens       []substrate.Address `json:"multi_tokens"`
	MultiIDs          []codec.Uint64      `json:"multi_ids"`
	MultiAmounts      []codec.Uint64      `json:"multi_amounts"`
}

// BundleRequired lists the JSON fields of Bundle.
var BundleRequired = []string{
	"fungible_tokens", "fungible_amounts",
	"nonfungible_tokens", "nonfungible_ids",
	"multi_tokens", "multi_ids", "multi_amounts",
}

// BundleProperties is the JSON Schema properties fragment of Bundle.
const BundleProperties = `"fungible_tokens": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}},
    "fungible_amounts": {"type": ["array", "null"], "items": {"type": "string", "pattern": "^[0-9]+$"}},
    "nonfungible_tokens": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}},
    "nonfungible_ids": {"type": ["array", "null"], "items": {"type": "string", "pattern": "^[0-9]+$"}},
    "multi_tokens": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}},
    "multi_ids": {"type": ["array", "null"], "items": {"type": "string", "pattern": "^[0-9]+$"}},
    "multi_amounts": {"type": ["array", "null"], "items": {"type": "string", "pattern": "^[0-9]+$"}}`

// Validate checks the parallel-sequence invariant and rejects empty bundles.
func (b Bundle) Validate() error {
	const op = "obligation.Bundle"
	switch {
	case len(b.FungibleTokens) != len(b.FungibleAmounts):
		return protoerr.New(protoerr.KindInvalidArgument, op, "%d fungible tokens but %d amounts",
			len(b.FungibleTokens), len(b.FungibleAmounts))
	case len(b.NonFungibleTokens) != len(b.NonFungibleIDs):
		return protoerr.New(protoerr.KindInvalidArgument, op, "%d non-fungible tokens but %d ids",
			len(b.NonFungibleTokens), len(b.NonFungibleIDs))
	case len(b.MultiTokens) != len(b.MultiIDs) || len(b.MultiTokens) != len(b.MultiAmounts):
		return protoerr.New(protoerr.KindInvalidArgument, op, "%d multi tokens, %d ids, %d amounts",
			len(b.MultiTokens), len(b.MultiIDs), len(b.MultiAmounts))
	case len(b.FungibleTokens)+len(b.NonFungibleTokens)+len(b.MultiTokens) == 0:
		return protoerr.New(protoerr.KindInvalidArgument, op, "empty bundle")
	}
	return nil
}

// Move transfers every slot of b with tx.Caller() acting. The first failing
// slot aborts.
func (b Bundle) Move(tx *substrate.Tx, from, to substrate.Address) error {
	for i, token := range b.FungibleTokens {
		if err := TransferFungible(tx, token, from, to, uint64(b.FungibleAmounts[i])); err != nil {
			return err
		}
	}
	for i, token := range b.NonFungibleTokens {
		if err := TransferNonFungible(tx, token, from, to, uint64(b.NonFungibleIDs[i])); err != nil {
			return err
		}
	}
	for i, token := range b.MultiTokens {
		if err := TransferMulti(tx, token, from, to, uint64(b.MultiIDs[i]), uint64(b.MultiAmounts[i])); err != nil {
			return err
		}
	}
	return nil
}

// Covers reports whether b holds at least the demanded batch, slot by slot:
// identical tokens and ids, amounts no smaller.
func (b Bundle) Covers(demanded Bundle) bool {
	if b.Validate() != nil || demanded.Validate() != nil {
		return false
	}
	if len(b.FungibleTokens) != len(demanded.FungibleTokens) ||
		len(b.NonFungibleTokens) != len(demanded.NonFungibleTokens) ||
		len(b.MultiTokens) != len(demanded.MultiTokens) {
		return false
	}
	for i := range demanded.FungibleTokens {
		if b.FungibleTokens[i] != demanded.FungibleTokens[i] || b.FungibleAmounts[i] < demanded.FungibleAmounts[i] {
			return false
		}
	}
	for i := range demanded.NonFungibleTokens {
		if b.NonFungibleTokens[i] != demanded.NonFungibleTokens[i] || b.NonFungibleIDs[i] != demanded.NonFungibleIDs[i] {
			return false
		}
	}
	for i := range demanded.MultiTokens {
		if b.MultiTokens[i] != demanded.MultiTokens[i] ||
			b.MultiIDs[i] != demanded.MultiIDs[i] ||
			b.MultiAmounts[i] < demanded.MultiAmounts[i] {
			return false
		}
	}
	return true
}
