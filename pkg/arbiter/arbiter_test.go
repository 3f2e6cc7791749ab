package arbiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

const (
	alice substrate.Address = "0xalice"
	bob   substrate.Address = "0xbob"
)

var t0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	host *substrate.Host
	reg  *registry.Registry
	cap  *registry.Capability
	now  time.Time

	trivial   *Trivial
	intr      *Intrinsics
	intrSch   *IntrinsicsSchema
	specific  *SpecificRecord
	trusted   *TrustedParty
	attribute *Attribute
	all       *All
	any       *Any
	not       *Not
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: t0}
	f.host = substrate.NewHost(substrate.NewMemoryBackend(), substrate.WithClock(func() time.Time { return f.now }))
	f.reg = registry.New("0xregistry")
	f.trivial = NewTrivial("0xtrivial")
	f.intr = NewIntrinsics("0xintrinsics")
	f.intrSch = NewIntrinsicsSchema("0xintrinsics2")
	f.specific = NewSpecificRecord("0xspecific")
	f.trusted = NewTrustedParty("0xtrusted")
	f.attribute = NewAttribute("0xattribute")
	f.all = NewAll("0xall")
	f.any = NewAny("0xany")
	f.not = NewNot("0xnot")
	for _, c := range []substrate.Component{f.reg, f.trivial, f.intr, f.intrSch, f.specific, f.trusted, f.attribute, f.all, f.any, f.not} {
		require.NoError(t, f.host.Deploy(c))
	}
	require.NoError(t, f.host.Execute(context.Background(), "0xissuer", "register", func(tx *substrate.Tx) error {
		var err error
		_, f.cap, err = f.reg.RegisterSchema(tx, registry.Definition{Name: "fulfillment", Version: "1.0.0", Shape: "{}", Revocable: true})
		return err
	}))
	return f
}

func (f *fixture) record(t *testing.T, recipient substrate.Address, expiration time.Time) registry.Record {
	t.Helper()
	rec, err := substrate.Call(context.Background(), f.host, "0xissuer", "attest", func(tx *substrate.Tx) (registry.Record, error) {
		return f.reg.Attest(tx, f.cap, registry.Request{Recipient: recipient, Expiration: expiration, Revocable: true, Data: []byte(`{}`)})
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) decide(addr substrate.Address, rec registry.Record, demand []byte) (bool, error) {
	return substrate.Query(context.Background(), f.host, func(tx *substrate.Tx) (bool, error) {
		return Decide(tx, addr, rec, demand, "escrow-1")
	})
}

func TestTrivialAndIntrinsics(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, alice, t0.Add(time.Hour))

	ok, err := f.decide(f.trivial.Address(), rec, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.decide(f.intr.Address(), rec, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	f.now = t0.Add(time.Hour)
	ok, err = f.decide(f.intr.Address(), rec, nil)
	require.NoError(t, err)
	assert.False(t, ok, "expired fulfillment")

	demand, err := f.intrSch.EncodeDemand(SchemaDemand{Schema: rec.Schema})
	require.NoError(t, err)
	f.now = t0
	ok, err = f.decide(f.intrSch.Address(), rec, demand)
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := f.intrSch.EncodeDemand(SchemaDemand{Schema: "other"})
	require.NoError(t, err)
	ok, err = f.decide(f.intrSch.Address(), rec, other)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.decide(f.intrSch.Address(), rec, []byte(`{"nope":1}`))
	assert.ErrorIs(t, err, protoerr.ErrDecode)
}

func TestSpecificRecordAndTrustedParty(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, alice, time.Time{})
	other := f.record(t, bob, time.Time{})

	demand, err := f.specific.EncodeDemand(RecordDemand{UID: rec.UID})
	require.NoError(t, err)
	ok, err := f.decide(f.specific.Address(), rec, demand)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.decide(f.specific.Address(), other, demand)
	require.NoError(t, err)
	assert.False(t, ok)

	trusted, err := f.trusted.EncodeDemand(TrustedPartyDemand{Creator: alice, BaseArbiter: f.trivial.Address()})
	require.NoError(t, err)
	ok, err = f.decide(f.trusted.Address(), rec, trusted)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.decide(f.trusted.Address(), other, trusted)
	require.NoError(t, err)
	assert.False(t, ok)

	missingBase, err := f.trusted.EncodeDemand(TrustedPartyDemand{Creator: alice, BaseArbiter: "0xnowhere"})
	require.NoError(t, err)
	_, err = f.decide(f.trusted.Address(), rec, missingBase)
	assert.ErrorIs(t, err, protoerr.ErrNotFound)
}

func TestAttribute(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, alice, t0.Add(time.Hour))

	cases := []struct {
		name string
		d    AttributeDemand
		want bool
	}{
		{"recipient eq", AttributeDemand{Field: FieldRecipient, Op: OpEq, Value: "0xalice"}, true},
		{"recipient neq", AttributeDemand{Field: FieldRecipient, Op: OpNeq, Value: "0xalice"}, false},
		{"attester eq", AttributeDemand{Field: FieldAttester, Op: OpEq, Value: "0xissuer"}, true},
		{"schema eq", AttributeDemand{Field: FieldSchema, Op: OpEq, Value: string(rec.Schema)}, true},
		{"ref empty", AttributeDemand{Field: FieldRefUID, Op: OpEq, Value: ""}, true},
		{"time gte", AttributeDemand{Field: FieldTime, Op: OpGte, Value: t0.Format(time.RFC3339)}, true},
		{"time lte earlier", AttributeDemand{Field: FieldTime, Op: OpLte, Value: t0.Add(-time.Second).Format(time.RFC3339)}, false},
		{"expiration lte", AttributeDemand{Field: FieldExpirationTime, Op: OpLte, Value: t0.Add(2 * time.Hour).Format(time.RFC3339)}, true},
		{"revocable", AttributeDemand{Field: FieldRevocable, Op: OpEq, Value: "true"}, true},
		{"with base", AttributeDemand{Field: FieldRecipient, Op: OpEq, Value: "0xalice", BaseArbiter: f.trivial.Address()}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			demand, err := f.attribute.EncodeDemand(tc.d)
			require.NoError(t, err)
			ok, err := f.decide(f.attribute.Address(), rec, demand)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}

	bad, err := f.attribute.EncodeDemand(AttributeDemand{Field: FieldRecipient, Op: OpGte, Value: "x"})
	require.NoError(t, err)
	_, err = f.decide(f.attribute.Address(), rec, bad)
	assert.ErrorIs(t, err, protoerr.ErrDecode)

	_, err = f.attribute.EncodeDemand(AttributeDemand{Field: "color", Op: OpEq})
	assert.ErrorIs(t, err, protoerr.ErrInvalidArgument)
}

func TestComposition(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, alice, time.Time{})

	isBob, err := f.attribute.EncodeDemand(AttributeDemand{Field: FieldRecipient, Op: OpEq, Value: "0xbob"})
	require.NoError(t, err)

	all, err := EncodeMulti(MultiDemand{
		Arbiters: []substrate.Address{f.trivial.Address(), f.intr.Address()},
		Demands:  [][]byte{nil, nil},
	})
	require.NoError(t, err)
	ok, err := f.decide(f.all.Address(), rec, all)
	require.NoError(t, err)
	assert.True(t, ok)

	mixed, err := EncodeMulti(MultiDemand{
		Arbiters: []substrate.Address{f.trivial.Address(), f.attribute.Address()},
		Demands:  [][]byte{nil, isBob},
	})
	require.NoError(t, err)
	ok, err = f.decide(f.all.Address(), rec, mixed)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.decide(f.any.Address(), rec, mixed)
	require.NoError(t, err)
	assert.True(t, ok)

	broken, err := EncodeMulti(MultiDemand{
		Arbiters: []substrate.Address{"0xnowhere", f.trivial.Address()},
		Demands:  [][]byte{nil, nil},
	})
	require.NoError(t, err)
	ok, err = f.decide(f.any.Address(), rec, broken)
	require.NoError(t, err)
	assert.True(t, ok, "failing member counts as rejection")
	_, err = f.decide(f.all.Address(), rec, broken)
	assert.ErrorIs(t, err, protoerr.ErrNotFound)

	_, err = EncodeMulti(MultiDemand{Arbiters: []substrate.Address{f.trivial.Address()}})
	assert.ErrorIs(t, err, protoerr.ErrInvalidArgument)

	notBob, err := f.not.EncodeDemand(NotDemand{Arbiter: f.attribute.Address(), Demand: isBob})
	require.NoError(t, err)
	ok, err = f.decide(f.not.Address(), rec, notBob)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckIntrinsic(t *testing.T) {
	rec := registry.Record{UID: "r", Schema: "s", ExpirationTime: t0}
	assert.NoError(t, CheckIntrinsic(rec, t0.Add(-time.Second)))
	assert.ErrorIs(t, CheckIntrinsic(rec, t0), protoerr.ErrExpired)

	rec.ExpirationTime = time.Time{}
	rec.RevocationTime = t0
	assert.ErrorIs(t, CheckIntrinsic(rec, t0), protoerr.ErrRevoked)
	assert.ErrorIs(t, CheckIntrinsicSchema(rec, "other", t0), protoerr.ErrSchemaMismatch)
}

func TestDecideCannotWrite(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, alice, time.Time{})
	require.NoError(t, f.host.Deploy(writer{}))

	err := f.host.Execute(context.Background(), alice, "decide", func(tx *substrate.Tx) error {
		_, err := Decide(tx, writer{}.Address(), rec, nil, "")
		return err
	})
	assert.ErrorIs(t, err, substrate.ErrReadOnly)
}

type writer struct{}

func (writer) Address() substrate.Address { return "0xwriter" }

func (writer) Decide(tx *substrate.Tx, _ registry.Record, _ []byte, _ registry.UID) (bool, error) {
	return true, tx.Put("sneaky", []byte("1"))
}
