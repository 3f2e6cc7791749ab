// Package optimistic implements the challenge-window arbiter.
//
// A fulfiller claims a result by recording a string statement and opens a
// validation session for it. The claim is accepted once the mediation period
// passes unchallenged. Before that, anyone may request mediation once, which
// recomputes the expected result and settles the session immediately.
package optimistic

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Event names.
const (
	EventStarted  = "ValidationStarted"
	EventMediated = "ValidationMediated"
)

// Demand names the computation the fulfillment must have performed.
type Demand struct {
	Computer string `json:"computer"`
	Input    string `json:"input"`
	// MediationPeriod is in seconds.
	MediationPeriod uint64 `json:"mediation_period,string"`
}

var demandShape = codec.MustCompile("arbiter.optimistic", "1.0.0", `{
  "type": "object",
  "required": ["computer", "input", "mediation_period"],
  "additionalProperties": false,
  "properties": {
    "computer": {"type": "string", "minLength": 1},
    "input": {"type": "string"},
    "mediation_period": {"type": "string", "pattern": "^[0-9]+$"}
  }
}`)

// Session is one validation of a fulfillment under a demand.
type Session struct {
	ID          string       `json:"id"`
	Fulfillment registry.UID `json:"fulfillment"`
	Demand      string       `json:"demand"` // hash of the canonical demand
	Computer    string       `json:"computer"`
	Input       string       `json:"input"`
	Deadline    time.Time    `json:"deadline"`
	Mediated    bool         `json:"mediated"`
	Valid       bool         `json:"valid"`
}

// Arbiter is the optimistic arbiter. Fulfillments must be statements of the
// given string obligation.
type Arbiter struct {
	addr      substrate.Address
	results   *obligation.StringObligation
	computers map[string]Computer
	logger    *slog.Logger
}

func New(addr substrate.Address, results *obligation.StringObligation, computers ...Computer) *Arbiter {
	m := make(map[string]Computer, len(computers))
	for _, c := range computers {
		m[c.Name()] = c
	}
	return &Arbiter{
		addr:      addr,
		results:   results,
		computers: m,
		logger:    slog.Default().With("component", "optimistic"),
	}
}

func (a *Arbiter) Address() substrate.Address { return a.addr }

func (a *Arbiter) EncodeDemand(d Demand) ([]byte, error) { return demandShape.Encode(d) }

func decode(demand []byte) (Demand, string, error) {
	var d Demand
	if err := demandShape.Decode(demand, &d); err != nil {
		return Demand{}, "", err
	}
	canonical, err := codec.Encode(d)
	if err != nil {
		return Demand{}, "", err
	}
	return d, codec.Hash(canonical), nil
}

// SessionID derives the session of fulfillment under the demand hash.
func SessionID(fulfillment registry.UID, demandHash string) string {
	return codec.Hash([]byte(string(fulfillment) + "/" + demandHash))
}

func (a *Arbiter) sessionKey(id string) string {
	return fmt.Sprintf("optimistic/%s/session/%s", a.addr, id)
}

// Session returns session id.
func (a *Arbiter) Session(tx *substrate.Tx, id string) (Session, error) {
	var s Session
	found, err := tx.GetJSON(a.sessionKey(id), &s)
	if err != nil {
		return Session{}, err
	}
	if !found {
		return Session{}, protoerr.New(protoerr.KindNotFound, "optimistic.Session", "no session %s", id)
	}
	return s, nil
}

// StartValidation opens the session of fulfillmentID under demand with a
// deadline one mediation period from now.
func (a *Arbiter) StartValidation(tx *substrate.Tx, fulfillmentID registry.UID, demand []byte) (Session, error) {
	const op = "optimistic.StartValidation"
	d, hash, err := decode(demand)
	if err != nil {
		return Session{}, err
	}
	if _, ok := a.computers[d.Computer]; !ok {
		return Session{}, protoerr.New(protoerr.KindInvalidArgument, op, "unknown computer %q", d.Computer)
	}
	if _, err := a.results.Read(tx, fulfillmentID); err != nil {
		return Session{}, err
	}

	id := SessionID(fulfillmentID, hash)
	if _, found, err := tx.Get(a.sessionKey(id)); err != nil {
		return Session{}, err
	} else if found {
		return Session{}, protoerr.New(protoerr.KindAlreadyResolved, op, "validation of %s already started", fulfillmentID)
	}

	s := Session{
		ID:          id,
		Fulfillment: fulfillmentID,
		Demand:      hash,
		Computer:    d.Computer,
		Input:       d.Input,
		Deadline:    tx.Now().Add(time.Duration(d.MediationPeriod) * time.Second),
	}
	if err := tx.PutJSON(a.sessionKey(id), s); err != nil {
		return Session{}, err
	}
	tx.Emit(a.addr, EventStarted, map[string]string{
		"session":     id,
		"fulfillment": string(fulfillmentID),
		"deadline":    s.Deadline.Format(time.RFC3339),
		"starter":     string(tx.Caller()),
	})
	return s, nil
}

// Mediate recomputes the demanded result and compares it with the claimed
// statement. It must happen before the deadline and only once.
func (a *Arbiter) Mediate(tx *substrate.Tx, sessionID string) (Session, error) {
	const op = "optimistic.Mediate"
	s, err := a.Session(tx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.Mediated {
		return Session{}, protoerr.New(protoerr.KindAlreadyResolved, op, "session %s already mediated", sessionID)
	}
	if !tx.Now().Before(s.Deadline) {
		return Session{}, protoerr.New(protoerr.KindExpired, op, "mediation window of %s closed at %s", sessionID, s.Deadline.Format(time.RFC3339))
	}

	claimed, err := a.results.Item(tx, s.Fulfillment)
	if err != nil {
		return Session{}, err
	}
	computer, ok := a.computers[s.Computer]
	if !ok {
		return Session{}, protoerr.New(protoerr.KindInternal, op, "computer %q is no longer available", s.Computer)
	}
	expected, err := computer.Compute(tx.Context(), s.Input)
	if err != nil {
		return Session{}, protoerr.Wrap(protoerr.KindInternal, op, err)
	}

	s.Mediated = true
	s.Valid = expected == claimed
	if err := tx.PutJSON(a.sessionKey(sessionID), s); err != nil {
		return Session{}, err
	}
	tx.Emit(a.addr, EventMediated, map[string]string{
		"session":  sessionID,
		"valid":    strconv.FormatBool(s.Valid),
		"mediator": string(tx.Caller()),
	})
	a.logger.InfoContext(tx.Context(), "validation mediated", "session", sessionID, "valid", s.Valid)
	return s, nil
}

// Decide accepts f when its session was mediated valid, or when it was never
// mediated and the deadline has passed.
func (a *Arbiter) Decide(tx *substrate.Tx, f registry.Record, demand []byte, _ registry.UID) (bool, error) {
	_, hash, err := decode(demand)
	if err != nil {
		return false, err
	}
	var s Session
	found, err := tx.GetJSON(a.sessionKey(SessionID(f.UID, hash)), &s)
	if err != nil || !found {
		return false, err
	}
	if s.Mediated {
		return s.Valid, nil
	}
	return !tx.Now().Before(s.Deadline), nil
}
