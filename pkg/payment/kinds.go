package payment

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

const uintPattern = `{"type": "string", "pattern": "^[0-9]+$"}`

func shape(name string, required []string, properties string) *codec.Schema {
	req := `"payee"`
	for _, r := range required {
		req += fmt.Sprintf(", %q", r)
	}
	return codec.MustCompile(name, "1.0.0", fmt.Sprintf(`{
  "type": "object",
  "required": [%s],
  "additionalProperties": false,
  "properties": {
    "payee": {"type": "string", "minLength": 1},
    %s
  }
}`, req, properties))
}

// FungibleData pays Amount of Token to Payee.
type FungibleData struct {
	Token  substrate.Address `json:"token"`
	Amount uint64            `json:"amount,string"`
	Payee  substrate.Address `json:"payee"`
}

func (d FungibleData) PaymentPayee() substrate.Address { return d.Payee }

var fungibleShape = shape("payment.fungible", []string{"token", "amount"},
	`"token": {"type": "string", "minLength": 1},
    "amount": `+uintPattern)

type fungibleKind struct{}

func (fungibleKind) Shape() *codec.Schema { return fungibleShape }

func (fungibleKind) Validate(d FungibleData) error {
	if d.Amount == 0 {
		return protoerr.New(protoerr.KindInvalidArgument, "payment.Fungible", "amount must be positive")
	}
	return nil
}

func (fungibleKind) Move(tx *substrate.Tx, d FungibleData, payer substrate.Address) error {
	return obligation.TransferFungible(tx, d.Token, payer, d.Payee, d.Amount)
}

func (fungibleKind) Covers(paid, demanded FungibleData) bool {
	return paid.Token == demanded.Token && paid.Payee == demanded.Payee && paid.Amount >= demanded.Amount
}

// NonFungibleData pays token ID to Payee.
type NonFungibleData struct {
	Token substrate.Address `json:"token"`
	ID    uint64            `json:"id,string"`
	Payee substrate.Address `json:"payee"`
}

func (d NonFungibleData) PaymentPayee() substrate.Address { return d.Payee }

var nonFungibleShape = shape("payment.nonfungible", []string{"token", "id"},
	`"token": {"type": "string", "minLength": 1},
    "id": `+uintPattern)

type nonFungibleKind struct{}

func (nonFungibleKind) Shape() *codec.Schema { return nonFungibleShape }

func (nonFungibleKind) Validate(NonFungibleData) error { return nil }

func (nonFungibleKind) Move(tx *substrate.Tx, d NonFungibleData, payer substrate.Address) error {
	return obligation.TransferNonFungible(tx, d.Token, payer, d.Payee, d.ID)
}

func (nonFungibleKind) Covers(paid, demanded NonFungibleData) bool {
	return paid.Token == demanded.Token && paid.ID == demanded.ID && paid.Payee == demanded.Payee
}

// MultiData pays Amount units of ID to Payee.
type MultiData struct {
	Token  substrate.Address `json:"token"`
	ID     uint64            `json:"id,string"`
	Amount uint64            `json:"amount,string"`
	Payee  substrate.Address `json:"payee"`
}

func (d MultiData) PaymentPayee() substrate.Address { return d.Payee }

var multiShape = shape("payment.multi", []string{"token", "id", "amount"},
	`"token": {"type": "string", "minLength": 1},
    "id": `+uintPattern+`,
    "amount": `+uintPattern)

type multiKind struct{}

func (multiKind) Shape() *codec.Schema { return multiShape }

func (multiKind) Validate(d MultiData) error {
	if d.Amount == 0 {
		return protoerr.New(protoerr.KindInvalidArgument, "payment.Multi", "amount must be positive")
	}
	return nil
}

func (multiKind) Move(tx *substrate.Tx, d MultiData, payer substrate.Address) error {
	return obligation.TransferMulti(tx, d.Token, payer, d.Payee, d.ID, d.Amount)
}

func (multiKind) Covers(paid, demanded MultiData) bool {
	return paid.Token == demanded.Token && paid.ID == demanded.ID &&
		paid.Payee == demanded.Payee && paid.Amount >= demanded.Amount
}

// BundleData pays a heterogeneous batch to Payee.
type BundleData struct {
	obligation.Bundle
	Payee substrate.Address `json:"payee"`
}

func (d BundleData) PaymentPayee() substrate.Address { return d.Payee }

var bundleShape = shape("payment.bundle", obligation.BundleRequired, obligation.BundleProperties)

type bundleKind struct{}

func (bundleKind) Shape() *codec.Schema { return bundleShape }

func (bundleKind) Validate(d BundleData) error { return d.Bundle.Validate() }

func (bundleKind) Move(tx *substrate.Tx, d BundleData, payer substrate.Address) error {
	return d.Bundle.Move(tx, payer, d.Payee)
}

func (bundleKind) Covers(paid, demanded BundleData) bool {
	return paid.Payee == demanded.Payee && paid.Bundle.Covers(demanded.Bundle)
}

// Concrete payment kinds.
type (
	FungiblePayment    = Payment[FungibleData]
	NonFungiblePayment = Payment[NonFungibleData]
	MultiPayment       = Payment[MultiData]
	BundlePayment      = Payment[BundleData]
)

func NewFungible(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*FungiblePayment, error) {
	return New[FungibleData](ctx, h, reg, addr, fungibleKind{})
}

func NewNonFungible(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*NonFungiblePayment, error) {
	return New[NonFungibleData](ctx, h, reg, addr, nonFungibleKind{})
}

func NewMulti(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*MultiPayment, error) {
	return New[MultiData](ctx, h, reg, addr, multiKind{})
}

func NewBundle(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*BundlePayment, error) {
	return New[BundleData](ctx, h, reg, addr, bundleKind{})
}
