// Package vote implements the majority-vote arbiter.
//
// A demand lists the authorized voters and the quorum. Each (subject,
// demand) pair is its own session, so tallies collected under one voter set
// never count toward another. A session completes once the yes votes reach
// quorum or enough no votes make quorum unreachable; later votes fail.
package vote

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Event names.
const (
	EventCast      = "VoteCast"
	EventCompleted = "VotingCompleted"
)

// Demand is the voter set and the number of yes votes required.
type Demand struct {
	Voters []substrate.Address `json:"voters"`
	Quorum uint64              `json:"quorum,string"`
}

var demandShape = codec.MustCompile("arbiter.vote", "1.0.0", `{
  "type": "object",
  "required": ["voters", "quorum"],
  "additionalProperties": false,
  "properties": {
    "voters": {"type": "array", "minItems": 1, "uniqueItems": true, "items": {"type": "string", "minLength": 1}},
    "quorum": {"type": "string", "pattern": "^[1-9][0-9]*$"}
  }
}`)

// Session is the tally of one (subject, demand) pair.
type Session struct {
	Subject   registry.UID `json:"subject"`
	Demand    string       `json:"demand"` // hash of the canonical demand
	Yes       uint64       `json:"yes"`
	No        uint64       `json:"no"`
	Completed bool         `json:"completed"`
	Approved  bool         `json:"approved"`
}

// Arbiter is the majority-vote arbiter.
type Arbiter struct {
	addr   substrate.Address
	reg    *registry.Registry
	logger *slog.Logger
}

func New(addr substrate.Address, reg *registry.Registry) *Arbiter {
	return &Arbiter{addr: addr, reg: reg, logger: slog.Default().With("component", "vote")}
}

func (a *Arbiter) Address() substrate.Address { return a.addr }

// EncodeDemand canonically encodes d. Quorum must not exceed the voter count.
func (a *Arbiter) EncodeDemand(d Demand) ([]byte, error) {
	if d.Quorum > uint64(len(d.Voters)) {
		return nil, protoerr.New(protoerr.KindInvalidArgument, "vote.EncodeDemand", "quorum %d exceeds %d voters", d.Quorum, len(d.Voters))
	}
	return demandShape.Encode(d)
}

// decode returns the demand and the session hash derived from its canonical
// form, so equivalent encodings share one session.
func decode(demand []byte) (Demand, string, error) {
	var d Demand
	if err := demandShape.Decode(demand, &d); err != nil {
		return Demand{}, "", err
	}
	if d.Quorum > uint64(len(d.Voters)) {
		return Demand{}, "", protoerr.New(protoerr.KindDecode, "vote.Demand", "quorum %d exceeds %d voters", d.Quorum, len(d.Voters))
	}
	canonical, err := codec.Encode(d)
	if err != nil {
		return Demand{}, "", err
	}
	return d, codec.Hash(canonical), nil
}

func (a *Arbiter) sessionKey(subject registry.UID, hash string) string {
	return fmt.Sprintf("vote/%s/session/%s/%s", a.addr, subject, hash)
}

func (a *Arbiter) votedKey(subject registry.UID, hash string, voter substrate.Address) string {
	return fmt.Sprintf("vote/%s/voted/%s/%s/%s", a.addr, subject, hash, voter)
}

func (a *Arbiter) load(tx *substrate.Tx, subject registry.UID, hash string) (Session, error) {
	s := Session{Subject: subject, Demand: hash}
	if _, err := tx.GetJSON(a.sessionKey(subject, hash), &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Session returns the tally for subject under demand.
func (a *Arbiter) Session(tx *substrate.Tx, subject registry.UID, demand []byte) (Session, error) {
	_, hash, err := decode(demand)
	if err != nil {
		return Session{}, err
	}
	return a.load(tx, subject, hash)
}

// CastVote records the caller's vote on subject under demand.
func (a *Arbiter) CastVote(tx *substrate.Tx, subject registry.UID, approve bool, demand []byte) (Session, error) {
	const op = "vote.CastVote"
	d, hash, err := decode(demand)
	if err != nil {
		return Session{}, err
	}
	if _, err := a.reg.Read(tx, subject); err != nil {
		return Session{}, err
	}
	voter := tx.Caller()
	if !slices.Contains(d.Voters, voter) {
		return Session{}, protoerr.New(protoerr.KindUnauthorized, op, "%s is not a voter", voter)
	}
	s, err := a.load(tx, subject, hash)
	if err != nil {
		return Session{}, err
	}
	_, voted, err := tx.Get(a.votedKey(subject, hash, voter))
	if err != nil {
		return Session{}, err
	}
	if voted {
		return Session{}, protoerr.New(protoerr.KindAlreadyVoted, op, "%s already voted on %s", voter, subject)
	}
	if s.Completed {
		return Session{}, protoerr.New(protoerr.KindAlreadyResolved, op, "voting on %s is complete", subject)
	}

	if approve {
		s.Yes++
	} else {
		s.No++
	}
	if err := tx.Put(a.votedKey(subject, hash, voter), []byte(strconv.FormatBool(approve))); err != nil {
		return Session{}, err
	}
	tx.Emit(a.addr, EventCast, map[string]string{
		"subject": string(subject),
		"demand":  hash,
		"voter":   string(voter),
		"vote":    strconv.FormatBool(approve),
	})

	voters := uint64(len(d.Voters))
	switch {
	case s.Yes >= d.Quorum:
		s.Completed, s.Approved = true, true
	case s.No > voters-d.Quorum:
		s.Completed = true
	}
	if s.Completed {
		tx.Emit(a.addr, EventCompleted, map[string]string{
			"subject":  string(subject),
			"demand":   hash,
			"approved": strconv.FormatBool(s.Approved),
			"yes":      strconv.FormatUint(s.Yes, 10),
			"no":       strconv.FormatUint(s.No, 10),
		})
		a.logger.InfoContext(tx.Context(), "voting completed", "subject", subject, "approved", s.Approved)
	}
	if err := tx.PutJSON(a.sessionKey(subject, hash), s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Decide is true once the yes votes on f under demand reach quorum.
func (a *Arbiter) Decide(tx *substrate.Tx, f registry.Record, demand []byte, _ registry.UID) (bool, error) {
	d, hash, err := decode(demand)
	if err != nil {
		return false, err
	}
	s, err := a.load(tx, f.UID, hash)
	if err != nil {
		return false, err
	}
	return s.Yes >= d.Quorum, nil
}
