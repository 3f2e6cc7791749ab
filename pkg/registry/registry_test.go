package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

const (
	owner    substrate.Address = "0xowner"
	stranger substrate.Address = "0xstranger"
	alice    substrate.Address = "0xalice"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var errAbort = errors.New("abort")

type fixture struct {
	host *substrate.Host
	reg  *Registry
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: t0}
	f.host = substrate.NewHost(substrate.NewMemoryBackend(), substrate.WithClock(func() time.Time { return f.now }))
	f.reg = New("0xregistry")
	require.NoError(t, f.host.Deploy(f.reg))
	return f
}

func (f *fixture) register(t *testing.T, caller substrate.Address, def Definition) (Schema, *Capability) {
	t.Helper()
	var (
		s   Schema
		c   *Capability
		err error
	)
	require.NoError(t, f.host.Execute(context.Background(), caller, "register", func(tx *substrate.Tx) error {
		s, c, err = f.reg.RegisterSchema(tx, def)
		return err
	}))
	return s, c
}

func (f *fixture) attest(c *Capability, req Request) (Record, error) {
	return substrate.Call(context.Background(), f.host, c.Holder(), "attest", func(tx *substrate.Tx) (Record, error) {
		return f.reg.Attest(tx, c, req)
	})
}

func (f *fixture) revoke(c *Capability, uid UID) (Record, error) {
	return substrate.Call(context.Background(), f.host, c.Holder(), "revoke", func(tx *substrate.Tx) (Record, error) {
		return f.reg.Revoke(tx, c, uid)
	})
}

func (f *fixture) read(uid UID) (Record, error) {
	return substrate.Query(context.Background(), f.host, func(tx *substrate.Tx) (Record, error) {
		return f.reg.Read(tx, uid)
	})
}

var revocableDef = Definition{Name: "escrow.test", Version: "1.0.0", Shape: `{"type":"object"}`, Revocable: true}

func TestRegisterSchemaIsIdempotentForOwner(t *testing.T) {
	f := newFixture(t)
	s1, c1 := f.register(t, owner, revocableDef)
	s2, c2 := f.register(t, owner, revocableDef)

	assert.Equal(t, s1.UID, s2.UID)
	assert.Equal(t, owner, s1.Owner)
	assert.NotSame(t, c1, c2)

	// the older capability is superseded
	_, err := f.attest(c1, Request{Recipient: alice, Revocable: true})
	assert.ErrorIs(t, err, protoerr.ErrUnauthorized)
	_, err = f.attest(c2, Request{Recipient: alice, Revocable: true})
	assert.NoError(t, err)
}

func TestAbortedReRegistrationKeepsCapability(t *testing.T) {
	f := newFixture(t)
	_, c1 := f.register(t, owner, revocableDef)

	var pending *Capability
	err := f.host.Execute(context.Background(), owner, "register", func(tx *substrate.Tx) error {
		var err error
		_, pending, err = f.reg.RegisterSchema(tx, revocableDef)
		require.NoError(t, err)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	require.NotNil(t, pending)

	_, err = f.attest(c1, Request{Recipient: alice, Revocable: true})
	assert.NoError(t, err)
	_, err = f.attest(pending, Request{Recipient: alice, Revocable: true})
	assert.ErrorIs(t, err, protoerr.ErrUnauthorized)
}

func TestRegisterSchemaRejectsOtherOwner(t *testing.T) {
	f := newFixture(t)
	f.register(t, owner, revocableDef)

	err := f.host.Execute(context.Background(), stranger, "register", func(tx *substrate.Tx) error {
		_, _, err := f.reg.RegisterSchema(tx, revocableDef)
		return err
	})
	assert.ErrorIs(t, err, protoerr.ErrUnauthorized)
}

func TestRegisterSchemaValidatesDefinition(t *testing.T) {
	f := newFixture(t)
	for name, def := range map[string]Definition{
		"empty name":  {Version: "1.0.0"},
		"bad version": {Name: "x", Version: "one"},
	} {
		t.Run(name, func(t *testing.T) {
			err := f.host.Execute(context.Background(), owner, "register", func(tx *substrate.Tx) error {
				_, _, err := f.reg.RegisterSchema(tx, def)
				return err
			})
			assert.ErrorIs(t, err, protoerr.ErrInvalidArgument)
		})
	}
}

func TestAttestAndRead(t *testing.T) {
	f := newFixture(t)
	s, c := f.register(t, owner, revocableDef)

	rec, err := f.attest(c, Request{
		Recipient:  alice,
		Expiration: t0.Add(time.Hour),
		Revocable:  true,
		Data:       []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.UID)
	assert.Equal(t, s.UID, rec.Schema)
	assert.Equal(t, owner, rec.Attester)
	assert.Equal(t, t0, rec.Time)

	got, err := f.read(rec.UID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.False(t, got.IsRevoked())
	assert.False(t, got.IsExpired(t0.Add(time.Hour-time.Second)))
	assert.True(t, got.IsExpired(t0.Add(time.Hour)))
}

func TestAttestProducesUniqueUIDs(t *testing.T) {
	f := newFixture(t)
	_, c := f.register(t, owner, revocableDef)

	seen := map[UID]bool{}
	for i := 0; i < 20; i++ {
		rec, err := f.attest(c, Request{Recipient: alice, Revocable: true, Data: []byte(`{}`)})
		require.NoError(t, err)
		assert.False(t, seen[rec.UID], "duplicate uid %s", rec.UID)
		seen[rec.UID] = true
	}
}

func TestAttestRejections(t *testing.T) {
	f := newFixture(t)
	_, revocable := f.register(t, owner, revocableDef)
	_, fixed := f.register(t, owner, Definition{Name: "payment.test", Version: "1.0.0", Shape: "{}"})

	_, err := f.attest(fixed, Request{Revocable: true})
	assert.ErrorIs(t, err, protoerr.ErrInvalidArgument)

	_, err = f.attest(revocable, Request{Revocable: true, Expiration: t0})
	assert.ErrorIs(t, err, protoerr.ErrExpired)

	_, err = f.attest(revocable, Request{Revocable: true, RefUID: "missing"})
	assert.ErrorIs(t, err, protoerr.ErrNotFound)

	_, err = f.attest(&Capability{schema: "forged", holder: stranger}, Request{})
	assert.ErrorIs(t, err, protoerr.ErrUnauthorized)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	_, c := f.register(t, owner, revocableDef)
	_, other := f.register(t, owner, Definition{Name: "other", Version: "1.0.0", Shape: "{}", Revocable: true})
	_, fixed := f.register(t, owner, Definition{Name: "fixed", Version: "1.0.0", Shape: "{}"})

	rec, err := f.attest(c, Request{Recipient: alice, Revocable: true})
	require.NoError(t, err)

	_, err = f.revoke(other, rec.UID)
	assert.ErrorIs(t, err, protoerr.ErrSchemaMismatch)

	f.now = t0.Add(time.Minute)
	revoked, err := f.revoke(c, rec.UID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), revoked.RevocationTime)

	_, err = f.revoke(c, rec.UID)
	assert.ErrorIs(t, err, protoerr.ErrRevoked)

	_, err = f.revoke(c, "missing")
	assert.ErrorIs(t, err, protoerr.ErrNotFound)

	permanent, err := f.attest(fixed, Request{Recipient: alice})
	require.NoError(t, err)
	_, err = f.revoke(fixed, permanent.UID)
	assert.ErrorIs(t, err, protoerr.ErrUnauthorized)
}

func TestReadMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.read("nope")
	assert.ErrorIs(t, err, protoerr.ErrNotFound)
}

func TestLookupPicksHighestMatchingVersion(t *testing.T) {
	f := newFixture(t)
	for _, v := range []string{"1.0.0", "1.2.0", "1.10.1", "2.0.0"} {
		f.register(t, owner, Definition{Name: "escrow.fungible", Version: v, Shape: "{}"})
	}

	got, err := substrate.Query(context.Background(), f.host, func(tx *substrate.Tx) (Schema, error) {
		return f.reg.Lookup(tx, "escrow.fungible", "^1.0")
	})
	require.NoError(t, err)
	assert.Equal(t, "1.10.1", got.Version)

	all, err := substrate.Query(context.Background(), f.host, func(tx *substrate.Tx) ([]Schema, error) {
		return f.reg.Schemas(tx)
	})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = substrate.Query(context.Background(), f.host, func(tx *substrate.Tx) (Schema, error) {
		return f.reg.Lookup(tx, "escrow.fungible", "^3")
	})
	assert.ErrorIs(t, err, protoerr.ErrNotFound)

	_, err = substrate.Query(context.Background(), f.host, func(tx *substrate.Tx) (Schema, error) {
		return f.reg.Lookup(tx, "escrow.fungible", "not a constraint!")
	})
	assert.ErrorIs(t, err, protoerr.ErrInvalidArgument)
}

func TestAbortedCallLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	_, c := f.register(t, owner, revocableDef)

	var uid UID
	err := f.host.Execute(context.Background(), owner, "attest", func(tx *substrate.Tx) error {
		rec, err := f.reg.Attest(tx, c, Request{Recipient: alice, Revocable: true})
		if err != nil {
			return err
		}
		uid = rec.UID
		return protoerr.New(protoerr.KindTransferFailed, "test", "later step failed")
	})
	require.ErrorIs(t, err, protoerr.ErrTransferFailed)
	require.NotEmpty(t, uid)

	_, err = f.read(uid)
	assert.ErrorIs(t, err, protoerr.ErrNotFound)
}
