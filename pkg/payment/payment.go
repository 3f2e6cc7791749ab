// Package payment implements payment obligations: an immediate, irrevocable
// transfer from the caller to a payee, recorded so that an escrow can name
// the payment kind as its arbiter and demand a payment of at least some
// amount.
package payment

import (
	"context"
	"log/slog"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// EventMade is emitted for every payment.
const EventMade = "PaymentMade"

// Data is the payload of a payment record.
type Data interface {
	PaymentPayee() substrate.Address
}

// Kind moves one asset shape from payer to payee.
type Kind[D Data] interface {
	Shape() *codec.Schema
	Validate(d D) error
	// Move transfers d from payer to its payee. tx.Caller() is the pulling
	// account.
	Move(tx *substrate.Tx, d D, payer substrate.Address) error
	// Covers reports whether paid delivers at least demanded to the same payee.
	Covers(paid, demanded D) bool
}

// Payment is the payment obligation of one asset kind.
type Payment[D Data] struct {
	ob     *obligation.Obligation[D]
	kind   Kind[D]
	logger *slog.Logger
}

// New registers the payment schema of kind and returns the payment deployed
// at addr. Payment records are irrevocable.
func New[D Data](ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address, kind Kind[D]) (*Payment[D], error) {
	o, err := obligation.New[D](ctx, h, reg, addr, kind.Shape(), false)
	if err != nil {
		return nil, err
	}
	return &Payment[D]{
		ob:     o,
		kind:   kind,
		logger: slog.Default().With("component", "payment", "kind", kind.Shape().Name()),
	}, nil
}

func (p *Payment[D]) Address() substrate.Address { return p.ob.Address() }

// BindIdentity receives the identity the payment pulls approved assets with.
func (p *Payment[D]) BindIdentity(id *substrate.Identity) { p.ob.BindIdentity(id) }

func (p *Payment[D]) SchemaUID() registry.SchemaUID { return p.ob.SchemaUID() }

func (p *Payment[D]) Read(tx *substrate.Tx, uid registry.UID) (registry.Record, error) {
	return p.ob.Read(tx, uid)
}

func (p *Payment[D]) ReadData(tx *substrate.Tx, uid registry.UID) (registry.Record, D, error) {
	return p.ob.ReadData(tx, uid)
}

// EncodeData encodes d as a payment payload. Escrows naming this kind as
// arbiter use it as their demand.
func (p *Payment[D]) EncodeData(d D) ([]byte, error) {
	return p.kind.Shape().Encode(d)
}

// DecodeDemand decodes a demand addressed to this kind.
func (p *Payment[D]) DecodeDemand(demand []byte) (D, error) {
	return p.ob.Decode(demand)
}

// Pay transfers d from the caller to its payee and records the payment with
// recipient as record owner. An empty recipient means the caller.
func (p *Payment[D]) Pay(tx *substrate.Tx, d D, recipient substrate.Address) (registry.Record, error) {
	payer := tx.Caller()
	if recipient.IsZero() {
		recipient = payer
	}
	if d.PaymentPayee().IsZero() {
		return registry.Record{}, protoerr.New(protoerr.KindInvalidArgument, "payment.Pay", "payee is empty")
	}
	if err := p.kind.Validate(d); err != nil {
		return registry.Record{}, err
	}
	pull, err := p.ob.Act(tx)
	if err != nil {
		return registry.Record{}, err
	}
	if err := p.kind.Move(pull, d, payer); err != nil {
		return registry.Record{}, err
	}
	rec, err := p.ob.Create(tx, d, obligation.CreateOpts{Payer: payer, Recipient: recipient})
	if err != nil {
		return registry.Record{}, err
	}

	tx.Emit(p.Address(), EventMade, map[string]string{
		"uid":       string(rec.UID),
		"payer":     string(payer),
		"payee":     string(d.PaymentPayee()),
		"recipient": string(recipient),
	})
	p.logger.InfoContext(tx.Context(), "payment made", "uid", rec.UID, "payer", payer, "payee", d.PaymentPayee())
	return rec, nil
}

// Decide lets the payment kind act as an arbiter: f must be a payment of
// this kind delivering at least the demanded assets to the demanded payee.
func (p *Payment[D]) Decide(tx *substrate.Tx, f registry.Record, demand []byte, _ registry.UID) (bool, error) {
	want, err := p.DecodeDemand(demand)
	if err != nil {
		return false, err
	}
	if f.Schema != p.SchemaUID() || f.IsRevoked() || f.IsExpired(tx.Now()) {
		return false, nil
	}
	got, err := p.ob.Decode(f.Data)
	if err != nil {
		return false, nil
	}
	return p.kind.Covers(got, want), nil
}
