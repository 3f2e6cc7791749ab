// Package escrow implements escrow obligations: custody of an asset batch
// released either to the fulfiller of a demand, once the named arbiter
// accepts the fulfillment, or back to the owner after expiry.
//
// An escrow record moves from Created to exactly one of Settled (Collect) or
// Reclaimed (Reclaim). Both paths revoke the record, and revocation can only
// happen once, so at most one of them ever succeeds.
//
// Every escrow kind is also an arbiter: a record of the kind can be named as
// fulfillment of another escrow that demands an equivalent locked batch.
package escrow

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/arbiter"
	"github.com/Mindburn-Labs/helm/settlement/pkg/codec"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Event names.
const (
	EventLocked    = "EscrowLocked"
	EventCollected = "EscrowCollected"
	EventReclaimed = "EscrowReclaimed"
)

// State is the lifecycle state of an escrow record.
type State string

const (
	StateCreated   State = "created"
	StateSettled   State = "settled"
	StateReclaimed State = "reclaimed"
)

// Terms are the arbiter and demand an escrow is locked against.
type Terms struct {
	Arbiter substrate.Address `json:"arbiter"`
	Demand  []byte            `json:"demand"`
}

// EscrowTerms returns t. Kinds embed Terms to satisfy Data.
func (t Terms) EscrowTerms() Terms { return t }

// matches reports whether t fulfils demanded. An empty demanded sub-demand
// accepts any sub-demand.
func (t Terms) matches(demanded Terms) bool {
	if t.Arbiter != demanded.Arbiter {
		return false
	}
	return len(demanded.Demand) == 0 || bytes.Equal(t.Demand, demanded.Demand)
}

// Data is the payload of an escrow record.
type Data interface {
	EscrowTerms() Terms
}

// Kind moves one asset shape in and out of custody.
type Kind[D Data] interface {
	Shape() *codec.Schema
	// Validate rejects batches that could never be pulled.
	Validate(d D) error
	// Pull and Release run with the custodian as tx.Caller().
	Pull(tx *substrate.Tx, d D, payer substrate.Address) error
	Release(tx *substrate.Tx, d D, to substrate.Address) error
	// Covers reports whether locked holds at least the assets of demanded.
	Covers(locked, demanded D) bool
}

// Outcome records how a revoked escrow was resolved.
type Outcome struct {
	State       State             `json:"state"`
	Fulfillment registry.UID      `json:"fulfillment,omitempty"`
	Beneficiary substrate.Address `json:"beneficiary"`
	By          substrate.Address `json:"by"`
	At          time.Time         `json:"at"`
}

// Escrow is the escrow obligation of one asset kind.
type Escrow[D Data] struct {
	ob     *obligation.Obligation[D]
	kind   Kind[D]
	logger *slog.Logger
}

// New registers the escrow schema of kind and returns the escrow deployed at
// addr. The caller deploys it on the host.
func New[D Data](ctx context.Context, h *substrate.Host, reg *registry.Registry, addr substrate.Address, kind Kind[D]) (*Escrow[D], error) {
	o, err := obligation.New[D](ctx, h, reg, addr, kind.Shape(), true)
	if err != nil {
		return nil, err
	}
	return &Escrow[D]{
		ob:     o,
		kind:   kind,
		logger: slog.Default().With("component", "escrow", "kind", kind.Shape().Name()),
	}, nil
}

func (e *Escrow[D]) Address() substrate.Address { return e.ob.Address() }

// BindIdentity receives the custody identity when the escrow is deployed.
func (e *Escrow[D]) BindIdentity(id *substrate.Identity) { e.ob.BindIdentity(id) }

func (e *Escrow[D]) Schema() registry.Schema { return e.ob.Schema() }

func (e *Escrow[D]) SchemaUID() registry.SchemaUID { return e.ob.SchemaUID() }

// Read returns escrow record uid.
func (e *Escrow[D]) Read(tx *substrate.Tx, uid registry.UID) (registry.Record, error) {
	return e.ob.Read(tx, uid)
}

// ReadData returns escrow record uid and its decoded payload.
func (e *Escrow[D]) ReadData(tx *substrate.Tx, uid registry.UID) (registry.Record, D, error) {
	return e.ob.ReadData(tx, uid)
}

func (e *Escrow[D]) Decode(payload []byte) (D, error) { return e.ob.Decode(payload) }

func (e *Escrow[D]) outcomeKey(uid registry.UID) string {
	return fmt.Sprintf("escrow/%s/outcome/%s", e.Address(), uid)
}

// EncodeData encodes d as a record payload or demand of this kind.
func (e *Escrow[D]) EncodeData(d D) ([]byte, error) {
	return e.kind.Shape().Encode(d)
}

// Lock pulls the batch in d from the caller and creates an escrow owned by
// the caller.
func (e *Escrow[D]) Lock(tx *substrate.Tx, d D, expiration time.Time) (registry.Record, error) {
	return e.LockFor(tx, d, expiration, tx.Caller(), tx.Caller())
}

// LockFor pulls the batch from payer, who must be the caller, and creates an
// escrow owned by recipient. Recipient receives the batch back on reclaim.
func (e *Escrow[D]) LockFor(tx *substrate.Tx, d D, expiration time.Time, payer, recipient substrate.Address) (registry.Record, error) {
	const op = "escrow.Lock"
	if payer != tx.Caller() {
		return registry.Record{}, protoerr.New(protoerr.KindUnauthorized, op, "caller %s cannot lock assets of %s", tx.Caller(), payer)
	}
	if recipient.IsZero() {
		return registry.Record{}, protoerr.New(protoerr.KindInvalidArgument, op, "recipient is empty")
	}
	if err := e.kind.Validate(d); err != nil {
		return registry.Record{}, err
	}
	terms := d.EscrowTerms()
	if _, err := arbiter.Resolve(tx, terms.Arbiter); err != nil {
		return registry.Record{}, err
	}

	custody, err := e.ob.Act(tx)
	if err != nil {
		return registry.Record{}, err
	}
	if err := e.kind.Pull(custody, d, payer); err != nil {
		return registry.Record{}, err
	}
	rec, err := e.ob.Create(tx, d, obligation.CreateOpts{
		Expiration: expiration,
		Payer:      payer,
		Recipient:  recipient,
	})
	if err != nil {
		return registry.Record{}, err
	}

	attrs := map[string]string{
		"uid":       string(rec.UID),
		"payer":     string(payer),
		"recipient": string(recipient),
		"arbiter":   string(terms.Arbiter),
	}
	if !expiration.IsZero() {
		attrs["expiration"] = expiration.Format(time.RFC3339)
	}
	tx.Emit(e.Address(), EventLocked, attrs)
	e.logger.InfoContext(tx.Context(), "escrow locked", "uid", rec.UID, "payer", payer, "arbiter", terms.Arbiter)
	return rec, nil
}

// Collect releases the escrowed batch to the recipient of fulfillmentID if
// the escrow's arbiter accepts it.
func (e *Escrow[D]) Collect(tx *substrate.Tx, escrowID, fulfillmentID registry.UID) (registry.Record, error) {
	const op = "escrow.Collect"
	rec, d, err := e.ReadData(tx, escrowID)
	if err != nil {
		return registry.Record{}, err
	}
	if err := arbiter.CheckIntrinsic(rec, tx.Now()); err != nil {
		return registry.Record{}, err
	}
	fulfillment, err := e.ob.Registry().Read(tx, fulfillmentID)
	if err != nil {
		return registry.Record{}, err
	}

	terms := d.EscrowTerms()
	ok, err := arbiter.Decide(tx, terms.Arbiter, fulfillment, terms.Demand, escrowID)
	if err != nil {
		return registry.Record{}, err
	}
	if !ok {
		return registry.Record{}, protoerr.New(protoerr.KindFulfillmentRejected, op,
			"arbiter %s rejected %s for escrow %s", terms.Arbiter, fulfillmentID, escrowID)
	}

	revoked, err := e.ob.Revoke(tx, escrowID)
	if err != nil {
		return registry.Record{}, err
	}
	if err := e.settle(tx, escrowID, Outcome{
		State:       StateSettled,
		Fulfillment: fulfillmentID,
		Beneficiary: fulfillment.Recipient,
	}); err != nil {
		return registry.Record{}, err
	}
	if err := e.release(tx, d, fulfillment.Recipient); err != nil {
		return registry.Record{}, err
	}

	tx.Emit(e.Address(), EventCollected, map[string]string{
		"uid":         string(escrowID),
		"fulfillment": string(fulfillmentID),
		"beneficiary": string(fulfillment.Recipient),
		"collector":   string(tx.Caller()),
	})
	e.logger.InfoContext(tx.Context(), "escrow collected", "uid", escrowID, "fulfillment", fulfillmentID, "beneficiary", fulfillment.Recipient)
	return revoked, nil
}

// Reclaim returns an expired escrow's batch to its owner. Anyone may call it;
// the batch always goes to the escrow's recipient.
func (e *Escrow[D]) Reclaim(tx *substrate.Tx, escrowID registry.UID) (registry.Record, error) {
	const op = "escrow.Reclaim"
	rec, d, err := e.ReadData(tx, escrowID)
	if err != nil {
		return registry.Record{}, err
	}
	if !rec.IsExpired(tx.Now()) {
		if !rec.HasExpiration() {
			return registry.Record{}, protoerr.New(protoerr.KindUnauthorized, op, "escrow %s never expires", escrowID)
		}
		return registry.Record{}, protoerr.New(protoerr.KindUnauthorized, op,
			"escrow %s expires at %s", escrowID, rec.ExpirationTime.Format(time.RFC3339))
	}

	revoked, err := e.ob.Revoke(tx, escrowID)
	if err != nil {
		return registry.Record{}, err
	}
	if err := e.settle(tx, escrowID, Outcome{State: StateReclaimed, Beneficiary: rec.Recipient}); err != nil {
		return registry.Record{}, err
	}
	if err := e.release(tx, d, rec.Recipient); err != nil {
		return registry.Record{}, err
	}

	tx.Emit(e.Address(), EventReclaimed, map[string]string{
		"uid":         string(escrowID),
		"beneficiary": string(rec.Recipient),
		"caller":      string(tx.Caller()),
	})
	e.logger.InfoContext(tx.Context(), "escrow reclaimed", "uid", escrowID, "beneficiary", rec.Recipient)
	return revoked, nil
}

func (e *Escrow[D]) release(tx *substrate.Tx, d D, to substrate.Address) error {
	custody, err := e.ob.Act(tx)
	if err != nil {
		return err
	}
	return e.kind.Release(custody, d, to)
}

func (e *Escrow[D]) settle(tx *substrate.Tx, uid registry.UID, o Outcome) error {
	o.By = tx.Caller()
	o.At = tx.Now()
	return tx.PutJSON(e.outcomeKey(uid), o)
}

// Outcome returns how escrow uid was resolved. It reports false while the
// escrow is still Created.
func (e *Escrow[D]) Outcome(tx *substrate.Tx, uid registry.UID) (Outcome, bool, error) {
	var o Outcome
	found, err := tx.GetJSON(e.outcomeKey(uid), &o)
	return o, found, err
}

// State derives the lifecycle state of escrow uid.
func (e *Escrow[D]) State(tx *substrate.Tx, uid registry.UID) (State, error) {
	rec, err := e.Read(tx, uid)
	if err != nil {
		return "", err
	}
	if !rec.IsRevoked() {
		return StateCreated, nil
	}
	o, found, err := e.Outcome(tx, uid)
	if err != nil {
		return "", err
	}
	if !found {
		return "", protoerr.New(protoerr.KindInternal, "escrow.State", "revoked escrow %s has no outcome", uid)
	}
	return o.State, nil
}

// Decide lets the escrow kind act as an arbiter. A fulfillment satisfies the
// demand when it is a live or settled escrow of this kind holding at least
// the demanded assets under the demanded terms.
func (e *Escrow[D]) Decide(tx *substrate.Tx, f registry.Record, demand []byte, _ registry.UID) (bool, error) {
	want, err := e.Decode(demand)
	if err != nil {
		return false, err
	}
	if f.Schema != e.SchemaUID() || f.IsExpired(tx.Now()) {
		return false, nil
	}
	if f.IsRevoked() {
		o, found, err := e.Outcome(tx, f.UID)
		if err != nil {
			return false, err
		}
		if !found || o.State != StateSettled {
			return false, nil
		}
	}
	got, err := e.Decode(f.Data)
	if err != nil {
		return false, nil
	}
	return e.kind.Covers(got, want) && got.EscrowTerms().matches(want.EscrowTerms()), nil
}
