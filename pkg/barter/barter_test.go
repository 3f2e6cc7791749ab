package barter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/settlement/pkg/assets"
	"github.com/Mindburn-Labs/helm/settlement/pkg/escrow"
	"github.com/Mindburn-Labs/helm/settlement/pkg/identity"
	"github.com/Mindburn-Labs/helm/settlement/pkg/notify"
	"github.com/Mindburn-Labs/helm/settlement/pkg/payment"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

const (
	minter substrate.Address = "0xminter"
	alice  substrate.Address = "0xalice"
	bob    substrate.Address = "0xbob"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	t    *testing.T
	host *substrate.Host
	sink *notify.MemorySink
	now  time.Time

	tokA, tokB *assets.FungibleToken
	nft        *assets.NonFungibleToken

	fungibleEsc *escrow.FungibleEscrow
	nftEsc      *escrow.NonFungibleEscrow
	fungiblePay *payment.FungiblePayment
	nftPay      *payment.NonFungiblePayment
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{t: t, now: t0, sink: notify.NewMemorySink()}
	e.host = substrate.NewHost(substrate.NewMemoryBackend(),
		substrate.WithClock(func() time.Time { return e.now }),
		substrate.WithSinks(e.sink))

	reg := registry.New("0xregistry")
	e.tokA = assets.NewFungible("0xtokA", minter, "A")
	e.tokB = assets.NewFungible("0xtokB", minter, "B")
	e.nft = assets.NewNonFungible("0xnft", minter, "N")
	for _, c := range []substrate.Component{reg, e.tokA, e.tokB, e.nft} {
		require.NoError(t, e.host.Deploy(c))
	}

	var err error
	e.fungibleEsc, err = escrow.NewFungible(ctx, e.host, reg, "0xescrow-fungible")
	require.NoError(t, err)
	e.nftEsc, err = escrow.NewNonFungible(ctx, e.host, reg, "0xescrow-nft")
	require.NoError(t, err)
	e.fungiblePay, err = payment.NewFungible(ctx, e.host, reg, "0xpayment-fungible")
	require.NoError(t, err)
	e.nftPay, err = payment.NewNonFungible(ctx, e.host, reg, "0xpayment-nft")
	require.NoError(t, err)
	for _, c := range []substrate.Component{e.fungibleEsc, e.nftEsc, e.fungiblePay, e.nftPay} {
		require.NoError(t, e.host.Deploy(c))
	}

	e.exec(minter, func(tx *substrate.Tx) error {
		if err := e.tokA.Mint(tx, alice, 1000); err != nil {
			return err
		}
		if err := e.tokB.Mint(tx, bob, 1000); err != nil {
			return err
		}
		return e.nft.Mint(tx, alice, 7)
	})
	return e
}

func (e *env) exec(caller substrate.Address, fn func(tx *substrate.Tx) error) {
	e.t.Helper()
	require.NoError(e.t, e.host.Execute(context.Background(), caller, e.t.Name(), fn))
}

func (e *env) balance(tok *assets.FungibleToken, who substrate.Address) uint64 {
	e.t.Helper()
	n, err := substrate.Query(context.Background(), e.host, func(tx *substrate.Tx) (uint64, error) {
		return tok.BalanceOf(tx, who)
	})
	require.NoError(e.t, err)
	return n
}

func (e *env) buyAForB(bid, ask uint64) registry.Record {
	e.t.Helper()
	e.exec(alice, func(tx *substrate.Tx) error { return e.tokA.Approve(tx, e.fungibleEsc.Address(), bid) })
	rec, err := substrate.Call(context.Background(), e.host, alice, "buy", func(tx *substrate.Tx) (registry.Record, error) {
		return BuyFungibleForFungible(tx, e.fungibleEsc, e.fungiblePay, e.tokA.Address(), bid, e.tokB.Address(), ask, t0.Add(time.Hour))
	})
	require.NoError(e.t, err)
	return rec
}

func (e *env) payFungible(seller substrate.Address, escrowID registry.UID) (registry.Record, error) {
	return substrate.Call(context.Background(), e.host, seller, "pay", func(tx *substrate.Tx) (registry.Record, error) {
		return Pay(tx, e.fungibleEsc, escrowID, e.fungiblePay)
	})
}

func TestFungibleForFungible(t *testing.T) {
	e := newEnv(t)
	esc := e.buyAForB(100, 200)
	assert.Equal(t, uint64(100), e.balance(e.tokA, e.fungibleEsc.Address()))

	e.exec(bob, func(tx *substrate.Tx) error { return e.tokB.Approve(tx, e.fungiblePay.Address(), 200) })
	paid, err := e.payFungible(bob, esc.UID)
	require.NoError(t, err)
	assert.Equal(t, bob, paid.Recipient)

	assert.Equal(t, uint64(900), e.balance(e.tokA, alice))
	assert.Equal(t, uint64(200), e.balance(e.tokB, alice))
	assert.Equal(t, uint64(100), e.balance(e.tokA, bob))
	assert.Equal(t, uint64(800), e.balance(e.tokB, bob))
	assert.Zero(t, e.balance(e.tokA, e.fungibleEsc.Address()))
	assert.Zero(t, e.balance(e.tokB, e.fungibleEsc.Address()))
	assert.Zero(t, e.balance(e.tokB, e.fungiblePay.Address()))

	state, err := substrate.Query(context.Background(), e.host, func(tx *substrate.Tx) (escrow.State, error) {
		return e.fungibleEsc.State(tx, esc.UID)
	})
	require.NoError(t, err)
	assert.Equal(t, escrow.StateSettled, state)
	assert.Len(t, e.sink.Named(payment.EventMade), 1)
	assert.Len(t, e.sink.Named(escrow.EventCollected), 1)

	_, err = e.payFungible(bob, esc.UID)
	assert.ErrorIs(t, err, protoerr.ErrRevoked)
}

func TestFailedPayLeavesNothingBehind(t *testing.T) {
	e := newEnv(t)
	esc := e.buyAForB(100, 200)

	e.exec(bob, func(tx *substrate.Tx) error { return e.tokB.Approve(tx, e.fungiblePay.Address(), 150) })
	_, err := e.payFungible(bob, esc.UID)
	assert.ErrorIs(t, err, protoerr.ErrTransferFailed)

	assert.Equal(t, uint64(1000), e.balance(e.tokB, bob))
	assert.Zero(t, e.balance(e.tokB, alice))
	assert.Equal(t, uint64(100), e.balance(e.tokA, e.fungibleEsc.Address()))
	assert.Empty(t, e.sink.Named(payment.EventMade))

	_, err = substrate.Call(context.Background(), e.host, bob, "pay", func(tx *substrate.Tx) (registry.Record, error) {
		return Pay(tx, e.fungibleEsc, esc.UID, e.nftPay)
	})
	assert.ErrorIs(t, err, protoerr.ErrInvalidArgument)
}

func TestUnansweredBidIsReclaimed(t *testing.T) {
	e := newEnv(t)
	esc := e.buyAForB(100, 200)
	e.now = t0.Add(time.Hour)

	e.exec(bob, func(tx *substrate.Tx) error { return e.tokB.Approve(tx, e.fungiblePay.Address(), 200) })
	_, err := e.payFungible(bob, esc.UID)
	assert.ErrorIs(t, err, protoerr.ErrExpired)

	e.exec(bob, func(tx *substrate.Tx) error {
		_, err := e.fungibleEsc.Reclaim(tx, esc.UID)
		return err
	})
	assert.Equal(t, uint64(1000), e.balance(e.tokA, alice))
	assert.Equal(t, uint64(1000), e.balance(e.tokB, bob))
}

func TestNonFungibleForFungible(t *testing.T) {
	e := newEnv(t)
	e.exec(alice, func(tx *substrate.Tx) error { return e.nft.Approve(tx, e.nftEsc.Address(), 7) })
	esc, err := substrate.Call(context.Background(), e.host, alice, "buy", func(tx *substrate.Tx) (registry.Record, error) {
		return BuyNonFungibleForFungible(tx, e.nftEsc, e.fungiblePay, e.nft.Address(), 7, e.tokB.Address(), 300, time.Time{})
	})
	require.NoError(t, err)

	e.exec(bob, func(tx *substrate.Tx) error { return e.tokB.Approve(tx, e.fungiblePay.Address(), 300) })
	_, err = substrate.Call(context.Background(), e.host, bob, "pay", func(tx *substrate.Tx) (registry.Record, error) {
		return Pay(tx, e.nftEsc, esc.UID, e.fungiblePay)
	})
	require.NoError(t, err)

	owner, err := substrate.Query(context.Background(), e.host, func(tx *substrate.Tx) (substrate.Address, error) {
		return e.nft.OwnerOf(tx, 7)
	})
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
	assert.Equal(t, uint64(300), e.balance(e.tokB, alice))
}

func TestFungibleForNonFungible(t *testing.T) {
	e := newEnv(t)
	e.exec(minter, func(tx *substrate.Tx) error { return e.nft.Mint(tx, bob, 9) })
	e.exec(alice, func(tx *substrate.Tx) error { return e.tokA.Approve(tx, e.fungibleEsc.Address(), 50) })
	esc, err := substrate.Call(context.Background(), e.host, alice, "buy", func(tx *substrate.Tx) (registry.Record, error) {
		return BuyFungibleForNonFungible(tx, e.fungibleEsc, e.nftPay, e.tokA.Address(), 50, e.nft.Address(), 9, time.Time{})
	})
	require.NoError(t, err)

	e.exec(bob, func(tx *substrate.Tx) error { return e.nft.Approve(tx, e.nftPay.Address(), 9) })
	_, err = substrate.Call(context.Background(), e.host, bob, "pay", func(tx *substrate.Tx) (registry.Record, error) {
		return Pay(tx, e.fungibleEsc, esc.UID, e.nftPay)
	})
	require.NoError(t, err)

	owner, err := substrate.Query(context.Background(), e.host, func(tx *substrate.Tx) (substrate.Address, error) {
		return e.nft.OwnerOf(tx, 9)
	})
	require.NoError(t, err)
	assert.Equal(t, alice, owner)
	assert.Equal(t, uint64(50), e.balance(e.tokA, bob))
}

func TestPermitTrade(t *testing.T) {
	e := newEnv(t)
	buyerKey, err := identity.KeyFromSeed(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	sellerKey, err := identity.KeyFromSeed(bytes.Repeat([]byte{4}, 32))
	require.NoError(t, err)
	buyer, seller := buyerKey.Address(), sellerKey.Address()
	e.exec(minter, func(tx *substrate.Tx) error {
		if err := e.tokA.Mint(tx, buyer, 100); err != nil {
			return err
		}
		return e.tokB.Mint(tx, seller, 200)
	})

	bidPermit, err := assets.SignPermit(buyerKey, assets.Permit{
		Token: e.tokA.Address(), Spender: e.fungibleEsc.Address(), Value: 100, Deadline: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	esc, err := substrate.Call(context.Background(), e.host, buyer, "buy", func(tx *substrate.Tx) (registry.Record, error) {
		return PermitAndBuyFungibleForFungible(tx, SignedPermit{Token: e.tokA, JWT: bidPermit},
			e.fungibleEsc, e.fungiblePay, 100, e.tokB.Address(), 200, t0.Add(time.Hour))
	})
	require.NoError(t, err)

	askPermit, err := assets.SignPermit(sellerKey, assets.Permit{
		Token: e.tokB.Address(), Spender: e.fungiblePay.Address(), Value: 200, Deadline: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = substrate.Call(context.Background(), e.host, seller, "pay", func(tx *substrate.Tx) (registry.Record, error) {
		return PermitAndPay(tx, []SignedPermit{{Token: e.tokB, JWT: askPermit}}, e.fungibleEsc, esc.UID, e.fungiblePay)
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(200), e.balance(e.tokB, buyer))
	assert.Equal(t, uint64(100), e.balance(e.tokA, seller))
	assert.Zero(t, e.balance(e.tokA, e.fungibleEsc.Address()))
}

func TestPermitMisuse(t *testing.T) {
	e := newEnv(t)
	key, err := identity.KeyFromSeed(bytes.Repeat([]byte{5}, 32))
	require.NoError(t, err)
	e.exec(minter, func(tx *substrate.Tx) error { return e.tokA.Mint(tx, key.Address(), 100) })

	wrongSpender, err := assets.SignPermit(key, assets.Permit{
		Token: e.tokA.Address(), Spender: "0xelsewhere", Value: 100, Deadline: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	good, err := assets.SignPermit(key, assets.Permit{
		Token: e.tokA.Address(), Spender: e.fungibleEsc.Address(), Value: 100, Deadline: t0.Add(time.Hour),
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		caller substrate.Address
		permit string
	}{
		{name: "wrong spender", caller: key.Address(), permit: wrongSpender},
		{name: "caller is not the owner", caller: alice, permit: good},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := substrate.Call(context.Background(), e.host, tt.caller, "buy", func(tx *substrate.Tx) (registry.Record, error) {
				return PermitAndBuyFungibleForFungible(tx, SignedPermit{Token: e.tokA, JWT: tt.permit},
					e.fungibleEsc, e.fungiblePay, 100, e.tokB.Address(), 1, time.Time{})
			})
			assert.ErrorIs(t, err, protoerr.ErrUnauthorized)
		})
	}
	assert.Equal(t, uint64(100), e.balance(e.tokA, key.Address()), "rejected permits leave no allowance behind")
}
