package arbiter

import (
	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// MultiDemand pairs arbiters with their demands, index by index.
type MultiDemand struct {
	Arbiters []substrate.Address `json:"arbiters"`
	Demands  [][]byte            `json:"demands"`
}

var multiShape = codec.MustCompile("arbiter.multi", "1.0.0", `{
  "type": "object",
  "required": ["arbiters", "demands"],
  "additionalProperties": false,
  "properties": {
    "arbiters": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "demands": {"type": "array", "items": {"type": ["string", "null"]}}
  }
}`)

func decodeMulti(op string, demand []byte) (MultiDemand, error) {
	var d MultiDemand
	if err := multiShape.Decode(demand, &d); err != nil {
		return MultiDemand{}, err
	}
	if len(d.Arbiters) != len(d.Demands) {
		return MultiDemand{}, protoerr.New(protoerr.KindDecode, op,
			"%d arbiters but %d demands", len(d.Arbiters), len(d.Demands))
	}
	return d, nil
}

// EncodeMulti encodes a demand for All or Any.
func EncodeMulti(d MultiDemand) ([]byte, error) {
	if len(d.Arbiters) != len(d.Demands) {
		return nil, protoerr.New(protoerr.KindInvalidArgument, "arbiter.EncodeMulti",
			"%d arbiters but %d demands", len(d.Arbiters), len(d.Demands))
	}
	return multiShape.Encode(d)
}

// All accepts a fulfillment every listed arbiter accepts. Errors abort.
type All struct{ addr substrate.Address }

func NewAll(addr substrate.Address) *All { return &All{addr: addr} }

func (a *All) Address() substrate.Address { return a.addr }

func (a *All) Decide(tx *substrate.Tx, f registry.Record, demand []byte, escrowID registry.UID) (bool, error) {
	d, err := decodeMulti("arbiter.All", demand)
	if err != nil {
		return false, err
	}
	for i, addr := range d.Arbiters {
		ok, err := Decide(tx, addr, f, d.Demands[i], escrowID)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Any accepts a fulfillment at least one listed arbiter accepts. An arbiter
// that fails to decide counts as a rejection.
type Any struct{ addr substrate.Address }

func NewAny(addr substrate.Address) *Any { return &Any{addr: addr} }

func (a *Any) Address() substrate.Address { return a.addr }

func (a *Any) Decide(tx *substrate.Tx, f registry.Record, demand []byte, escrowID registry.UID) (bool, error) {
	d, err := decodeMulti("arbiter.Any", demand)
	if err != nil {
		return false, err
	}
	for i, addr := range d.Arbiters {
		if ok, err := Decide(tx, addr, f, d.Demands[i], escrowID); err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

// NotDemand wraps one arbiter/demand pair.
type NotDemand struct {
	Arbiter substrate.Address `json:"arbiter"`
	Demand  []byte            `json:"demand"`
}

var notShape = codec.MustCompile("arbiter.not", "1.0.0", `{
  "type": "object",
  "required": ["arbiter", "demand"],
  "additionalProperties": false,
  "properties": {
    "arbiter": {"type": "string", "minLength": 1},
    "demand": {"type": ["string", "null"]}
  }
}`)

// Not inverts the wrapped arbiter's verdict. Errors are not inverted.
type Not struct{ addr substrate.Address }

func NewNot(addr substrate.Address) *Not { return &Not{addr: addr} }

func (a *Not) Address() substrate.Address { return a.addr }

func (a *Not) EncodeDemand(d NotDemand) ([]byte, error) { return notShape.Encode(d) }

func (a *Not) Decide(tx *substrate.Tx, f registry.Record, demand []byte, escrowID registry.UID) (bool, error) {
	var d NotDemand
	if err := notShape.Decode(demand, &d); err != nil {
		return false, err
	}
	ok, err := Decide(tx, d.Arbiter, f, d.Demand, escrowID)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
