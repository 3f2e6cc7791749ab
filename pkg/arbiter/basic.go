package arbiter

import (
	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Trivial accepts every fulfillment.
type Trivial struct{ addr substrate.Address }

func NewTrivial(addr substrate.Address) *Trivial { return &Trivial{addr: addr} }

func (a *Trivial) Address() substrate.Address { return a.addr }

func (a *Trivial) Decide(*substrate.Tx, registry.Record, []byte, registry.UID) (bool, error) {
	return true, nil
}

// Intrinsics accepts any fulfillment that is neither expired nor revoked.
type Intrinsics struct{ addr substrate.Address }

func NewIntrinsics(addr substrate.Address) *Intrinsics { return &Intrinsics{addr: addr} }

func (a *Intrinsics) Address() substrate.Address { return a.addr }

func (a *Intrinsics) Decide(tx *substrate.Tx, f registry.Record, _ []byte, _ registry.UID) (bool, error) {
	return CheckIntrinsic(f, tx.Now()) == nil, nil
}

// SchemaDemand names the schema a fulfillment must have.
type SchemaDemand struct {
	Schema registry.SchemaUID `json:"schema"`
}

var schemaDemandShape = codec.MustCompile("arbiter.intrinsics_schema", "1.0.0", `{
  "type": "object",
  "required": ["schema"],
  "additionalProperties": false,
  "properties": {"schema": {"type": "string", "minLength": 1}}
}`)

// IntrinsicsSchema accepts live fulfillments of the demanded schema.
type IntrinsicsSchema struct{ addr substrate.Address }

func NewIntrinsicsSchema(addr substrate.Address) *IntrinsicsSchema {
	return &IntrinsicsSchema{addr: addr}
}

func (a *IntrinsicsSchema) Address() substrate.Address { return a.addr }

func (a *IntrinsicsSchema) EncodeDemand(d SchemaDemand) ([]byte, error) {
	return schemaDemandShape.Encode(d)
}

func (a *IntrinsicsSchema) Decide(tx *substrate.Tx, f registry.Record, demand []byte, _ registry.UID) (bool, error) {
	var d SchemaDemand
	if err := schemaDemandShape.Decode(demand, &d); err != nil {
		return false, err
	}
	return CheckIntrinsicSchema(f, d.Schema, tx.Now()) == nil, nil
}

// RecordDemand names one specific fulfillment record.
type RecordDemand struct {
	UID registry.UID `json:"uid"`
}

var recordDemandShape = codec.MustCompile("arbiter.specific_record", "1.0.0", `{
  "type": "object",
  "required": ["uid"],
  "additionalProperties": false,
  "properties": {"uid": {"type": "string", "minLength": 1}}
}`)

// SpecificRecord accepts only the demanded record.
type SpecificRecord struct{ addr substrate.Address }

func NewSpecificRecord(addr substrate.Address) *SpecificRecord { return &SpecificRecord{addr: addr} }

func (a *SpecificRecord) Address() substrate.Address { return a.addr }

func (a *SpecificRecord) EncodeDemand(d RecordDemand) ([]byte, error) {
	return recordDemandShape.Encode(d)
}

func (a *SpecificRecord) Decide(_ *substrate.Tx, f registry.Record, demand []byte, _ registry.UID) (bool, error) {
	var d RecordDemand
	if err := recordDemandShape.Decode(demand, &d); err != nil {
		return false, err
	}
	return f.UID == d.UID, nil
}

// TrustedPartyDemand requires the fulfillment to be addressed to Creator and
// then defers to a base arbiter.
type TrustedPartyDemand struct {
	Creator     substrate.Address `json:"creator"`
	BaseArbiter substrate.Address `json:"base_arbiter"`
	BaseDemand  []byte            `json:"base_demand"`
}

var trustedPartyShape = codec.MustCompile("arbiter.trusted_party", "1.0.0", `{
  "type": "object",
  "required": ["creator", "base_arbiter", "base_demand"],
  "additionalProperties": false,
  "properties": {
    "creator": {"type": "string", "minLength": 1},
    "base_arbiter": {"type": "string", "minLength": 1},
    "base_demand": {"type": ["string", "null"]}
  }
}`)

// TrustedParty accepts fulfillments recorded for a trusted creator that also
// satisfy the base arbiter.
type TrustedParty struct{ addr substrate.Address }

func NewTrustedParty(addr substrate.Address) *TrustedParty { return &TrustedParty{addr: addr} }

func (a *TrustedParty) Address() substrate.Address { return a.addr }

func (a *TrustedParty) EncodeDemand(d TrustedPartyDemand) ([]byte, error) {
	return trustedPartyShape.Encode(d)
}

func (a *TrustedParty) Decide(tx *substrate.Tx, f registry.Record, demand []byte, escrowID registry.UID) (bool, error) {
	var d TrustedPartyDemand
	if err := trustedPartyShape.Decode(demand, &d); err != nil {
		return false, err
	}
	if f.Recipient != d.Creator {
		return false, nil
	}
	return Decide(tx, d.BaseArbiter, f, d.BaseDemand, escrowID)
}
