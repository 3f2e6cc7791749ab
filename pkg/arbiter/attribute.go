package arbiter

import (
	"strconv"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Attribute fields and comparison operators.
const (
	FieldRecipient      = "recipient"
	FieldAttester       = "attester"
	FieldSchema         = "schema"
	FieldRefUID         = "ref_uid"
	FieldTime           = "time"
	FieldExpirationTime = "expiration_time"
	FieldRevocable      = "revocable"

	OpEq  = "eq"
	OpNeq = "neq"
	OpGte = "gte"
	OpLte = "lte"
)

// AttributeDemand compares one record field with Value. Times are RFC 3339,
// booleans "true"/"false". When BaseArbiter is set the fulfillment must also
// satisfy it.
type AttributeDemand struct {
	Field       string            `json:"field"`
	Op          string            `json:"op"`
	Value       string            `json:"value"`
	BaseArbiter substrate.Address `json:"base_arbiter,omitempty"`
	BaseDemand  []byte            `json:"base_demand,omitempty"`
}

var attributeShape = codec.MustCompile("arbiter.attribute", "1.0.0", `{
  "type": "object",
  "required": ["field", "op", "value"],
  "additionalProperties": false,
  "properties": {
    "field": {"enum": ["recipient", "attester", "schema", "ref_uid", "time", "expiration_time", "revocable"]},
    "op": {"enum": ["eq", "neq", "gte", "lte"]},
    "value": {"type": "string"},
    "base_arbiter": {"type": "string"},
    "base_demand": {"type": "string"}
  }
}`)

// Attribute checks a single record attribute.
type Attribute struct{ addr substrate.Address }

func NewAttribute(addr substrate.Address) *Attribute { return &Attribute{addr: addr} }

func (a *Attribute) Address() substrate.Address { return a.addr }

func (a *Attribute) EncodeDemand(d AttributeDemand) ([]byte, error) {
	return attributeShape.Encode(d)
}

func (a *Attribute) Decide(tx *substrate.Tx, f registry.Record, demand []byte, escrowID registry.UID) (bool, error) {
	var d AttributeDemand
	if err := attributeShape.Decode(demand, &d); err != nil {
		return false, err
	}
	ok, err := compareAttribute(f, d)
	if err != nil || !ok {
		return false, err
	}
	if d.BaseArbiter.IsZero() {
		return true, nil
	}
	return Decide(tx, d.BaseArbiter, f, d.BaseDemand, escrowID)
}

func compareAttribute(f registry.Record, d AttributeDemand) (bool, error) {
	const op = "arbiter.Attribute"
	switch d.Field {
	case FieldRecipient:
		return compareString(op, string(f.Recipient), d)
	case FieldAttester:
		return compareString(op, string(f.Attester), d)
	case FieldSchema:
		return compareString(op, string(f.Schema), d)
	case FieldRefUID:
		return compareString(op, string(f.RefUID), d)
	case FieldTime:
		return compareTime(op, f.Time, d)
	case FieldExpirationTime:
		return compareTime(op, f.ExpirationTime, d)
	case FieldRevocable:
		want, err := strconv.ParseBool(d.Value)
		if err != nil {
			return false, protoerr.Wrap(protoerr.KindDecode, op, err)
		}
		switch d.Op {
		case OpEq:
			return f.Revocable == want, nil
		case OpNeq:
			return f.Revocable != want, nil
		}
	}
	return false, protoerr.New(protoerr.KindDecode, op, "operator %s not supported for %s", d.Op, d.Field)
}

func compareString(op, got string, d AttributeDemand) (bool, error) {
	switch d.Op {
	case OpEq:
		return got == d.Value, nil
	case OpNeq:
		return got != d.Value, nil
	}
	return false, protoerr.New(protoerr.KindDecode, op, "operator %s not supported for %s", d.Op, d.Field)
}

func compareTime(op string, got time.Time, d AttributeDemand) (bool, error) {
	want, err := time.Parse(time.RFC3339, d.Value)
	if err != nil {
		return false, protoerr.Wrap(protoerr.KindDecode, op, err)
	}
	switch d.Op {
	case OpEq:
		return got.Equal(want), nil
	case OpNeq:
		return !got.Equal(want), nil
	case OpGte:
		return !got.Before(want), nil
	case OpLte:
		return !got.After(want), nil
	}
	return false, protoerr.New(protoerr.KindDecode, op, "unknown operator %s", d.Op)
}
