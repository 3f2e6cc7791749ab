// Package obligation is the base every obligation kind builds on: a
// component that owns one registry schema and creates, reads and revokes
// typed records of it.
package obligation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Event names.
const (
	EventCreated = "ObligationCreated"
	EventRevoked = "ObligationRevoked"
)

// CreateOpts are the record fields of a new obligation besides its data.
type CreateOpts struct {
	Expiration time.Time // zero means no expiration
	Payer      substrate.Address
	Recipient  substrate.Address
	RefUID     registry.UID
}

// Obligation owns the registry schema of one obligation kind with payload D.
type Obligation[D any] struct {
	addr   substrate.Address
	reg    *registry.Registry
	shape  *codec.Schema
	schema registry.Schema
	cap    *registry.Capability
	id     *substrate.Identity
	logger *slog.Logger
}

// New registers shape as a schema owned by addr and returns the obligation.
func New[D any](ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address, shape *codec.Schema, revocable bool) (*Obligation[D], error) {
	o := &Obligation[D]{
		addr:   addr,
		reg:    reg,
		shape:  shape,
		logger: slog.Default().With("component", "obligation", "kind", shape.Name()),
	}
	def := registry.Definition{
		Name:      shape.Name(),
		Version:   shape.Version().String(),
		Shape:     shape.Source(),
		Revocable: revocable,
	}
	err := h.Execute(ctx, addr, "obligation.register", func(tx *substrate.Tx) error {
		s, c, err := reg.RegisterSchema(tx, def)
		if err != nil {
			return err
		}
		o.schema, o.cap = s, c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("obligation %s: register schema: %w", shape.Name(), err)
	}
	return o, nil
}

func (o *Obligation[D]) Address() substrate.Address { return o.addr }

// Schema returns the registered schema.
func (o *Obligation[D]) Schema() registry.Schema { return o.schema }

func (o *Obligation[D]) SchemaUID() registry.SchemaUID { return o.schema.UID }

func (o *Obligation[D]) Registry() *registry.Registry { return o.reg }

// BindIdentity receives the host identity of the deployed obligation.
func (o *Obligation[D]) BindIdentity(id *substrate.Identity) { o.id = id }

// Act returns a view of tx acting as the obligation's own address. It fails
// with Unauthorized until the obligation has been deployed.
func (o *Obligation[D]) Act(tx *substrate.Tx) (*substrate.Tx, error) {
	return tx.As(o.id)
}

// Create encodes data and attests it as a new record of this kind.
func (o *Obligation[D]) Create(tx *substrate.Tx, data D, opts CreateOpts) (registry.Record, error) {
	payload, err := o.shape.Encode(data)
	if err != nil {
		return registry.Record{}, err
	}
	rec, err := o.reg.Attest(tx, o.cap, registry.Request{
		Recipient:  opts.Recipient,
		Expiration: opts.Expiration,
		Revocable:  o.schema.Revocable,
		RefUID:     opts.RefUID,
		Data:       payload,
	})
	if err != nil {
		return registry.Record{}, err
	}
	tx.Emit(o.addr, EventCreated, map[string]string{
		"uid":       string(rec.UID),
		"schema":    string(rec.Schema),
		"payer":     string(opts.Payer),
		"recipient": string(opts.Recipient),
	})
	o.logger.DebugContext(tx.Context(), "obligation created", "uid", rec.UID, "payer", opts.Payer, "recipient", opts.Recipient)
	return rec, nil
}

// Read returns the record uid, which must be of this kind.
func (o *Obligation[D]) Read(tx *substrate.Tx, uid registry.UID) (registry.Record, error) {
	rec, err := o.reg.Read(tx, uid)
	if err != nil {
		return registry.Record{}, err
	}
	if rec.Schema != o.schema.UID {
		return registry.Record{}, protoerr.New(protoerr.KindSchemaMismatch, "obligation.Read",
			"record %s is not a %s", uid, o.shape.Name())
	}
	return rec, nil
}

// Decode parses a payload of this kind.
func (o *Obligation[D]) Decode(payload []byte) (D, error) {
	var d D
	if err := o.shape.Decode(payload, &d); err != nil {
		var zero D
		return zero, err
	}
	return d, nil
}

// ReadData reads uid and decodes its payload.
func (o *Obligation[D]) ReadData(tx *substrate.Tx, uid registry.UID) (registry.Record, D, error) {
	var zero D
	rec, err := o.Read(tx, uid)
	if err != nil {
		return registry.Record{}, zero, err
	}
	d, err := o.Decode(rec.Data)
	if err != nil {
		return registry.Record{}, zero, err
	}
	return rec, d, nil
}

// Revoke revokes the record uid of this kind.
func (o *Obligation[D]) Revoke(tx *substrate.Tx, uid registry.UID) (registry.Record, error) {
	rec, err := o.reg.Revoke(tx, o.cap, uid)
	if err != nil {
		return registry.Record{}, err
	}
	tx.Emit(o.addr, EventRevoked, map[string]string{
		"uid":       string(uid),
		"schema":    string(rec.Schema),
		"recipient": string(rec.Recipient),
		"caller":    string(tx.Caller()),
	})
	return rec, nil
}
