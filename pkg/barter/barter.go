// Package barter composes escrows and payments into one-call trades.
//
// A buyer locks a bid in an escrow whose arbiter is a payment kind and whose
// demand is the payment the buyer wants. A seller answers with Pay, which
// makes that payment to the buyer and collects the bid in the same call.
// Either step fails as a whole.
package barter

import (
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/assets"
	"github.com/Mindburn-Labs/helm/settlement/pkg/escrow"
	"github.com/Mindburn-Labs/helm/settlement/pkg/payment"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Bid is escrow data that can be locked against new terms.
type Bid[E any] interface {
	escrow.Data
	WithTerms(escrow.Terms) E
}

// Buy locks bid in esc against a payment of ask through pay. The escrow
// expires at expiration; a zero time never expires.
func Buy[E Bid[E], P payment.Data](tx *substrate.Tx, esc *escrow.Escrow[E], bid E, pay *payment.Payment[P], ask P, expiration time.Time) (registry.Record, error) {
	demand, err := pay.EncodeData(ask)
	if err != nil {
		return registry.Record{}, err
	}
	return esc.Lock(tx, bid.WithTerms(escrow.Terms{Arbiter: pay.Address(), Demand: demand}), expiration)
}

// Pay makes the payment demanded by escrow escrowID and collects the escrow
// with it. The caller receives the escrowed batch.
func Pay[E escrow.Data, P payment.Data](tx *substrate.Tx, esc *escrow.Escrow[E], escrowID registry.UID, pay *payment.Payment[P]) (registry.Record, error) {
	const op = "barter.Pay"
	_, bid, err := esc.ReadData(tx, escrowID)
	if err != nil {
		return registry.Record{}, err
	}
	terms := bid.EscrowTerms()
	if terms.Arbiter != pay.Address() {
		return registry.Record{}, protoerr.New(protoerr.KindInvalidArgument, op,
			"escrow %s is arbitrated by %s, not %s", escrowID, terms.Arbiter, pay.Address())
	}
	ask, err := pay.DecodeDemand(terms.Demand)
	if err != nil {
		return registry.Record{}, err
	}
	rec, err := pay.Pay(tx, ask, tx.Caller())
	if err != nil {
		return registry.Record{}, err
	}
	if _, err := esc.Collect(tx, escrowID, rec.UID); err != nil {
		return registry.Record{}, err
	}
	slog.Default().DebugContext(tx.Context(), "barter settled", "escrow", escrowID, "payment", rec.UID, "seller", tx.Caller())
	return rec, nil
}

// SignedPermit is a permit token for one fungible token.
type SignedPermit struct {
	Token *assets.FungibleToken
	JWT   string
}

// applyPermits consumes each permit. They must be signed by the caller and
// name spender.
func applyPermits(tx *substrate.Tx, spender substrate.Address, permits []SignedPermit) error {
	const op = "barter.Permit"
	for _, p := range permits {
		claims, err := p.Token.Permit(tx, p.JWT)
		if err != nil {
			return err
		}
		if claims.Owner != tx.Caller() {
			return protoerr.New(protoerr.KindUnauthorized, op, "permit owner %s is not the caller %s", claims.Owner, tx.Caller())
		}
		if claims.Spender != spender {
			return protoerr.New(protoerr.KindUnauthorized, op, "permit spender %s, expected %s", claims.Spender, spender)
		}
	}
	return nil
}

// PermitAndBuy is Buy preceded by the permits that let esc pull the bid.
func PermitAndBuy[E Bid[E], P payment.Data](tx *substrate.Tx, permits []SignedPermit, esc *escrow.Escrow[E], bid E, pay *payment.Payment[P], ask P, expiration time.Time) (registry.Record, error) {
	if err := applyPermits(tx, esc.Address(), permits); err != nil {
		return registry.Record{}, err
	}
	return Buy(tx, esc, bid, pay, ask, expiration)
}

// PermitAndPay is Pay preceded by the permits that let pay move the payment.
func PermitAndPay[E escrow.Data, P payment.Data](tx *substrate.Tx, permits []SignedPermit, esc *escrow.Escrow[E], escrowID registry.UID, pay *payment.Payment[P]) (registry.Record, error) {
	if err := applyPermits(tx, pay.Address(), permits); err != nil {
		return registry.Record{}, err
	}
	return Pay(tx, esc, escrowID, pay)
}
