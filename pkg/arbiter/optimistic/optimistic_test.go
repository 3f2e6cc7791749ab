package optimistic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/settlement/pkg/arbiter"
	"github.com/Mindburn-Labs/helm/settlement/pkg/notify"
	"github.com/Mindburn-Labs/helm/settlement/pkg/obligation"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

var t0 = time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)

type env struct {
	t       *testing.T
	host    *substrate.Host
	sink    *notify.MemorySink
	now     time.Time
	results *obligation.StringObligation
	arb     *Arbiter
}

func newEnv(t *testing.T, computers ...Computer) *env {
	t.Helper()
	e := &env{t: t, now: t0, sink: notify.NewMemorySink()}
	e.host = substrate.NewHost(substrate.NewMemoryBackend(),
		substrate.WithClock(func() time.Time { return e.now }),
		substrate.WithSinks(e.sink))
	reg := registry.New("0xregistry")
	require.NoError(t, e.host.Deploy(reg))
	var err error
	e.results, err = obligation.NewStringObligation(context.Background(), e.host, reg, "0xresults")
	require.NoError(t, err)
	require.NoError(t, e.host.Deploy(e.results))
	if len(computers) == 0 {
		computers = []Computer{Uppercase{}}
	}
	e.arb = New("0xoptimistic", e.results, computers...)
	require.NoError(t, e.host.Deploy(e.arb))
	return e
}

func (e *env) claim(item string) registry.Record {
	e.t.Helper()
	rec, err := substrate.Call(context.Background(), e.host, "0xbob", "claim", func(tx *substrate.Tx) (registry.Record, error) {
		return e.results.Make(tx, item, "")
	})
	require.NoError(e.t, err)
	return rec
}

func (e *env) demand(computer, input string, period uint64) []byte {
	e.t.Helper()
	d, err := e.arb.EncodeDemand(Demand{Computer: computer, Input: input, MediationPeriod: period})
	require.NoError(e.t, err)
	return d
}

func (e *env) start(f registry.Record, demand []byte) Session {
	e.t.Helper()
	s, err := substrate.Call(context.Background(), e.host, "0xbob", "start", func(tx *substrate.Tx) (Session, error) {
		return e.arb.StartValidation(tx, f.UID, demand)
	})
	require.NoError(e.t, err)
	return s
}

func (e *env) mediate(id string) (Session, error) {
	return substrate.Call(context.Background(), e.host, "0xalice", "mediate", func(tx *substrate.Tx) (Session, error) {
		return e.arb.Mediate(tx, id)
	})
}

func (e *env) decide(f registry.Record, demand []byte) bool {
	e.t.Helper()
	ok, err := substrate.Query(context.Background(), e.host, func(tx *substrate.Tx) (bool, error) {
		return arbiter.Decide(tx, e.arb.Address(), f, demand, "")
	})
	require.NoError(e.t, err)
	return ok
}

func TestUnchallengedAcceptedAfterDeadline(t *testing.T) {
	e := newEnv(t)
	f := e.claim("WRONG")
	demand := e.demand("uppercase", "hello", 60)

	assert.False(t, e.decide(f, demand), "no session")
	s := e.start(f, demand)
	assert.Equal(t, t0.Add(time.Minute), s.Deadline)
	assert.False(t, e.decide(f, demand), "pending before deadline")

	e.now = t0.Add(time.Minute)
	assert.True(t, e.decide(f, demand), "unchallenged claims pass, even wrong ones")

	_, err := e.mediate(s.ID)
	assert.ErrorIs(t, err, protoerr.ErrExpired)
	assert.Len(t, e.sink.Named(EventStarted), 1)
}

func TestMediation(t *testing.T) {
	e := newEnv(t)
	good := e.claim("HELLO")
	bad := e.claim("hello")
	demand := e.demand("uppercase", "hello", 3600)

	sGood := e.start(good, demand)
	sBad := e.start(bad, demand)

	e.now = t0.Add(time.Minute)
	res, err := e.mediate(sGood.ID)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	res, err = e.mediate(sBad.ID)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	assert.True(t, e.decide(good, demand), "mediated result is available immediately")
	assert.False(t, e.decide(bad, demand))

	e.now = t0.Add(2 * time.Hour)
	assert.False(t, e.decide(bad, demand), "mediated outcome is not time gated")

	_, err = e.mediate(sGood.ID)
	assert.ErrorIs(t, err, protoerr.ErrAlreadyResolved)

	mediated := e.sink.Named(EventMediated)
	require.Len(t, mediated, 2)
	assert.Equal(t, "false", mediated[1].Attr("valid"))
}

func TestStartValidationRejections(t *testing.T) {
	e := newEnv(t)
	f := e.claim("X")
	demand := e.demand("uppercase", "x", 10)
	e.start(f, demand)

	call := func(uid registry.UID, d []byte) error {
		_, err := substrate.Call(context.Background(), e.host, "0xbob", "start", func(tx *substrate.Tx) (Session, error) {
			return e.arb.StartValidation(tx, uid, d)
		})
		return err
	}
	assert.ErrorIs(t, call(f.UID, demand), protoerr.ErrAlreadyResolved)
	assert.ErrorIs(t, call(f.UID, e.demand("sha", "x", 10)), protoerr.ErrInvalidArgument)
	assert.ErrorIs(t, call("missing", demand), protoerr.ErrNotFound)
	assert.ErrorIs(t, call(f.UID, []byte(`{}`)), protoerr.ErrDecode)

	_, err := e.mediate("nope")
	assert.ErrorIs(t, err, protoerr.ErrNotFound)
}

func TestSessionsBoundToDemand(t *testing.T) {
	e := newEnv(t)
	f := e.claim("A")
	short := e.demand("uppercase", "a", 1)
	long := e.demand("uppercase", "a", 86400)
	e.start(f, short)

	e.now = t0.Add(time.Second)
	assert.True(t, e.decide(f, short))
	assert.False(t, e.decide(f, long), "a session opened under one demand does not answer another")
}

func TestComputers(t *testing.T) {
	ctx := context.Background()

	up, err := Uppercase{}.Compute(ctx, "héllo wörld")
	require.NoError(t, err)
	assert.Equal(t, "HÉLLO WÖRLD", up)

	c, err := NewCEL("length", `string(size(input))`)
	require.NoError(t, err)
	out, err := c.Compute(ctx, "four")
	require.NoError(t, err)
	assert.Equal(t, "4", out)

	_, err = NewCEL("broken", `input +`)
	assert.Error(t, err)

	w, err := NewWasm(ctx, "double", DoublerModule())
	require.NoError(t, err)
	defer func() { _ = w.Close(ctx) }()
	out, err = w.Compute(ctx, "21")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
	out, err = w.Compute(ctx, "-5")
	require.NoError(t, err)
	assert.Equal(t, "-10", out)
	_, err = w.Compute(ctx, "abc")
	assert.Error(t, err)
}

func TestWasmMediation(t *testing.T) {
	ctx := context.Background()
	w, err := NewWasm(ctx, "double", DoublerModule())
	require.NoError(t, err)
	defer func() { _ = w.Close(ctx) }()

	e := newEnv(t, w)
	f := e.claim("84")
	demand := e.demand("double", "42", 600)
	s := e.start(f, demand)
	res, err := e.mediate(s.ID)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, e.decide(f, demand))
}
