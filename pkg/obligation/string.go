package obligation

import (
	"context"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// StringData is a free-form result statement.
type StringData struct {
	Item string `json:"item"`
}

var stringShape = codec.MustCompile("obligation.string", "1.0.0", `{
  "type": "object",
  "required": ["item"],
  "additionalProperties": false,
  "properties": {"item": {"type": "string"}}
}`)

// StringObligation records result statements. Oracle and optimistic flows
// use them as fulfillments.
type StringObligation struct {
	ob *Obligation[StringData]
}

func NewStringObligation(ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address) (*StringObligation, error) {
	o, err := New[StringData](ctx, h, reg, addr, stringShape, false)
	if err != nil {
		return nil, err
	}
	return &StringObligation{ob: o}, nil
}

// Make records item on behalf of the caller, optionally referencing another
// record (typically the escrow it answers).
func (s *StringObligation) Make(tx *substrate.Tx, item string, ref registry.UID) (registry.Record, error) {
	return s.ob.Create(tx, StringData{Item: item}, CreateOpts{
		Payer:     tx.Caller(),
		Recipient: tx.Caller(),
		RefUID:    ref,
	})
}

// Item reads the statement recorded in uid.
func (s *StringObligation) Item(tx *substrate.Tx, uid registry.UID) (string, error) {
	_, d, err := s.ob.ReadData(tx, uid)
	return d.Item, err
}

func (s *StringObligation) Address() substrate.Address { return s.ob.Address() }

func (s *StringObligation) SchemaUID() registry.SchemaUID { return s.ob.SchemaUID() }

// Read returns statement record uid.
func (s *StringObligation) Read(tx *substrate.Tx, uid registry.UID) (registry.Record, error) {
	return s.ob.Read(tx, uid)
}
