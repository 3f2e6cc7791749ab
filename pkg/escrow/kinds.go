package escrow

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

const termsProperties = `"arbiter": {"type": "string", "minLength": 1},
    "demand": {"type": ["string", "null"]}`

const uintPattern = `{"type": "string", "pattern": "^[0-9]+$"}`

func shape(name string, required []string, properties string) *codec.Schema {
	req := `"arbiter", "demand"`
	for _, r := range required {
		req += fmt.Sprintf(", %q", r)
	}
	return codec.MustCompile(name, "1.0.0", fmt.Sprintf(`{
  "type": "object",
  "required": [%s],
  "additionalProperties": false,
  "properties": {
    %s,
    %s
  }
}`, req, termsProperties, properties))
}

// FungibleData locks Amount of a fungible token.
type FungibleData struct {
	Terms
	Token  substrate.Address `json:"token"`
	Amount uint64            `json:"amount,string"`
}

// WithTerms returns a copy of d locked against t.
func (d FungibleData) WithTerms(t Terms) FungibleData {
	d.Terms = t
	return d
}

type fungibleKind struct{ shape *codec.Schema }

var fungibleShape = shape("escrow.fungible", []string{"token", "amount"},
	`"token": {"type": "string", "minLength": 1},
    "amount": `+uintPattern)

func (k fungibleKind) Shape() *codec.Schema { return k.shape }

func (fungibleKind) Validate(d FungibleData) error {
	if d.Amount == 0 {
		return protoerr.New(protoerr.KindInvalidArgument, "escrow.Fungible", "amount must be positive")
	}
	return nil
}

func (fungibleKind) Pull(tx *substrate.Tx, d FungibleData, payer substrate.Address) error {
	return obligation.TransferFungible(tx, d.Token, payer, tx.Caller(), d.Amount)
}

func (fungibleKind) Release(tx *substrate.Tx, d FungibleData, to substrate.Address) error {
	return obligation.TransferFungible(tx, d.Token, tx.Caller(), to, d.Amount)
}

func (fungibleKind) Covers(locked, demanded FungibleData) bool {
	return locked.Token == demanded.Token && locked.Amount >= demanded.Amount
}

// NonFungibleData locks one non-fungible token.
type NonFungibleData struct {
	Terms
	Token substrate.Address `json:"token"`
	ID    uint64            `json:"id,string"`
}

func (d NonFungibleData) WithTerms(t Terms) NonFungibleData {
	d.Terms = t
	return d
}

type nonFungibleKind struct{ shape *codec.Schema }

var nonFungibleShape = shape("escrow.nonfungible", []string{"token", "id"},
	`"token": {"type": "string", "minLength": 1},
    "id": `+uintPattern)

func (k nonFungibleKind) Shape() *codec.Schema { return k.shape }

func (nonFungibleKind) Validate(NonFungibleData) error { return nil }

func (nonFungibleKind) Pull(tx *substrate.Tx, d NonFungibleData, payer substrate.Address) error {
	return obligation.TransferNonFungible(tx, d.Token, payer, tx.Caller(), d.ID)
}

func (nonFungibleKind) Release(tx *substrate.Tx, d NonFungibleData, to substrate.Address) error {
	return obligation.TransferNonFungible(tx, d.Token, tx.Caller(), to, d.ID)
}

func (nonFungibleKind) Covers(locked, demanded NonFungibleData) bool {
	return locked.Token == demanded.Token && locked.ID == demanded.ID
}

// MultiData locks Amount units of ID of a multi-unit token.
type MultiData struct {
	Terms
	Token  substrate.Address `json:"token"`
	ID     uint64            `json:"id,string"`
	Amount uint64            `json:"amount,string"`
}

func (d MultiData) WithTerms(t Terms) MultiData {
	d.Terms = t
	return d
}

type multiKind struct{ shape *codec.Schema }

var multiShape = shape("escrow.multi", []string{"token", "id", "amount"},
	`"token": {"type": "string", "minLength": 1},
    "id": `+uintPattern+`,
    "amount": `+uintPattern)

func (k multiKind) Shape() *codec.Schema { return k.shape }

func (multiKind) Validate(d MultiData) error {
	if d.Amount == 0 {
		return protoerr.New(protoerr.KindInvalidArgument, "escrow.Multi", "amount must be positive")
	}
	return nil
}

func (multiKind) Pull(tx *substrate.Tx, d MultiData, payer substrate.Address) error {
	return obligation.TransferMulti(tx, d.Token, payer, tx.Caller(), d.ID, d.Amount)
}

func (multiKind) Release(tx *substrate.Tx, d MultiData, to substrate.Address) error {
	return obligation.TransferMulti(tx, d.Token, tx.Caller(), to, d.ID, d.Amount)
}

func (multiKind) Covers(locked, demanded MultiData) bool {
	return locked.Token == demanded.Token && locked.ID == demanded.ID && locked.Amount >= demanded.Amount
}

// Concrete escrow kinds.
type (
	FungibleEscrow    = Escrow[FungibleData]
	NonFungibleEscrow = Escrow[NonFungibleData]
	MultiEscrow       = Escrow[MultiData]
	BundleEscrow      = Escrow[BundleData]
)

func NewFungible(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*FungibleEscrow, error) {
	return New[FungibleData](ctx, h, reg, addr, fungibleKind{shape: fungibleShape})
}

func NewNonFungible(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*NonFungibleEscrow, error) {
	return New[NonFungibleData](ctx, h, reg, addr, nonFungibleKind{shape: nonFungibleShape})
}

func NewMulti(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*MultiEscrow, error) {
	return New[MultiData](ctx, h, reg, addr, multiKind{shape: multiShape})
}

func NewBundle(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*BundleEscrow, error) {
	return New[BundleData](ctx, h, reg, addr, bundleKind{shape: bundleShape})
}
