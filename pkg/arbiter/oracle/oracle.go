// Package oracle implements the trusted-oracle arbiter: any account can act
// as an oracle and record a verdict on a subject record; an escrow names the
// oracle it trusts in its demand.
package oracle

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Event names.
const (
	EventDecided   = "ArbitrationMade"
	EventRequested = "ArbitrationRequested"
)

// Demand names the trusted oracle. Data is free-form context for the oracle.
type Demand struct {
	Oracle substrate.Address `json:"oracle"`
	Data   string            `json:"data,omitempty"`
}

var demandShape = codec.MustCompile("arbiter.oracle", "1.0.0", `{
  "type": "object",
  "required": ["oracle"],
  "additionalProperties": false,
  "properties": {
    "oracle": {"type": "string", "minLength": 1},
    "data": {"type": "string"}
  }
}`)

// Arbiter stores oracle verdicts keyed by (subject, oracle).
type Arbiter struct {
	addr   substrate.Address
	reg    *registry.Registry
	logger *slog.Logger
}

func New(addr substrate.Address, reg *registry.Registry) *Arbiter {
	return &Arbiter{addr: addr, reg: reg, logger: slog.Default().With("component", "oracle")}
}

func (a *Arbiter) Address() substrate.Address { return a.addr }

func (a *Arbiter) EncodeDemand(d Demand) ([]byte, error) { return demandShape.Encode(d) }

func (a *Arbiter) decisionKey(subject registry.UID, oracle substrate.Address) string {
	return fmt.Sprintf("oracle/%s/decision/%s/%s", a.addr, subject, oracle)
}

// SetDecision records the caller's verdict on subject. A later call by the
// same oracle replaces the verdict; the event carries the previous value.
func (a *Arbiter) SetDecision(tx *substrate.Tx, subject registry.UID, value bool) error {
	if subject == "" {
		return protoerr.New(protoerr.KindInvalidArgument, "oracle.SetDecision", "subject is empty")
	}
	oracle := tx.Caller()
	prev, found, err := a.Decision(tx, subject, oracle)
	if err != nil {
		return err
	}
	if err := tx.Put(a.decisionKey(subject, oracle), []byte(strconv.FormatBool(value))); err != nil {
		return err
	}

	attrs := map[string]string{
		"subject":  string(subject),
		"oracle":   string(oracle),
		"decision": strconv.FormatBool(value),
	}
	if found {
		attrs["previous"] = strconv.FormatBool(prev)
		a.logger.WarnContext(tx.Context(), "oracle decision overwritten", "subject", subject, "oracle", oracle, "previous", prev, "decision", value)
	}
	tx.Emit(a.addr, EventDecided, attrs)
	return nil
}

// Decision returns oracle's verdict on subject and whether one was recorded.
func (a *Arbiter) Decision(tx *substrate.Tx, subject registry.UID, oracle substrate.Address) (bool, bool, error) {
	b, ok, err := tx.Get(a.decisionKey(subject, oracle))
	if err != nil || !ok {
		return false, false, err
	}
	v, err := strconv.ParseBool(string(b))
	if err != nil {
		return false, false, fmt.Errorf("oracle: corrupt decision for %s: %w", subject, err)
	}
	return v, true, nil
}

// RequestArbitration asks oracle to rule on subject. Only the subject's
// attester or recipient may ask.
func (a *Arbiter) RequestArbitration(tx *substrate.Tx, subject registry.UID, oracle substrate.Address) error {
	const op = "oracle.RequestArbitration"
	if oracle.IsZero() {
		return protoerr.New(protoerr.KindInvalidArgument, op, "oracle is empty")
	}
	rec, err := a.reg.Read(tx, subject)
	if err != nil {
		return err
	}
	if caller := tx.Caller(); caller != rec.Attester && caller != rec.Recipient {
		return protoerr.New(protoerr.KindUnauthorized, op, "%s is neither attester nor recipient of %s", caller, subject)
	}
	tx.Emit(a.addr, EventRequested, map[string]string{
		"subject":   string(subject),
		"oracle":    string(oracle),
		"requester": string(tx.Caller()),
	})
	return nil
}

// Decide returns the demanded oracle's verdict on f, false when none exists.
func (a *Arbiter) Decide(tx *substrate.Tx, f registry.Record, demand []byte, _ registry.UID) (bool, error) {
	var d Demand
	if err := demandShape.Decode(demand, &d); err != nil {
		return false, err
	}
	v, _, err := a.Decision(tx, f.UID, d.Oracle)
	return v, err
}
