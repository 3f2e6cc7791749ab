package oracle

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

const (
	bob     substrate.Address = "0xbob"
	oracle1 substrate.Address = "0xoracle1"
	oracle2 substrate.Address = "0xoracle2"
)

type env struct {
	host    *substrate.Host
	sink    *notify.MemorySink
	arb     *Arbiter
	results *obligation.StringObligation
	subject registry.Record
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	e := &env{sink: notify.NewMemorySink()}
	e.host = substrate.NewHost(substrate.NewMemoryBackend(),
		substrate.WithClock(func() time.Time { return now }),
		substrate.WithSinks(e.sink))
	reg := registry.New("0xregistry")
	require.NoError(t, e.host.Deploy(reg))
	e.arb = New("0xoracle-arbiter", reg)
	require.NoError(t, e.host.Deploy(e.arb))

	var err error
	e.results, err = obligation.NewStringObligation(ctx, e.host, reg, "0xresults")
	require.NoError(t, err)
	require.NoError(t, e.host.Deploy(e.results))
	e.subject, err = substrate.Call(ctx, e.host, bob, "result", func(tx *substrate.Tx) (registry.Record, error) {
		return e.results.Make(tx, "answer", "")
	})
	require.NoError(t, err)
	return e
}

func (e *env) decide(t *testing.T, oracle substrate.Address) bool {
	t.Helper()
	demand, err := e.arb.EncodeDemand(Demand{Oracle: oracle})
	require.NoError(t, err)
	ok, err := substrate.Query(context.Background(), e.host, func(tx *substrate.Tx) (bool, error) {
		return arbiter.Decide(tx, e.arb.Address(), e.subject, demand, "")
	})
	require.NoError(t, err)
	return ok
}

func (e *env) set(t *testing.T, oracle substrate.Address, v bool) {
	t.Helper()
	require.NoError(t, e.host.Execute(context.Background(), oracle, "decide", func(tx *substrate.Tx) error {
		return e.arb.SetDecision(tx, e.subject.UID, v)
	}))
}

func TestDecisionPerOracle(t *testing.T) {
	e := newEnv(t)
	assert.False(t, e.decide(t, oracle1), "no decision defaults to false")

	e.set(t, oracle1, true)
	assert.True(t, e.decide(t, oracle1))
	assert.False(t, e.decide(t, oracle2), "oracles are independent")

	e.set(t, oracle2, false)
	assert.True(t, e.decide(t, oracle1))
	assert.False(t, e.decide(t, oracle2))

	decided := e.sink.Named(EventDecided)
	require.Len(t, decided, 2)
	assert.Equal(t, "0xoracle1", decided[0].Attr("oracle"))
	assert.Empty(t, decided[0].Attr("previous"))
}

func TestDecisionOverwrite(t *testing.T) {
	e := newEnv(t)
	e.set(t, oracle1, true)
	e.set(t, oracle1, false)
	assert.False(t, e.decide(t, oracle1))

	decided := e.sink.Named(EventDecided)
	require.Len(t, decided, 2)
	assert.Equal(t, "true", decided[1].Attr("previous"))
	assert.Equal(t, "false", decided[1].Attr("decision"))
}

func TestRequestArbitration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.host.Execute(ctx, bob, "request", func(tx *substrate.Tx) error {
		return e.arb.RequestArbitration(tx, e.subject.UID, oracle1)
	}))
	req := e.sink.Named(EventRequested)
	require.Len(t, req, 1)
	assert.Equal(t, "0xoracle1", req[0].Attr("oracle"))

	err := e.host.Execute(ctx, "0xmallory", "request", func(tx *substrate.Tx) error {
		return e.arb.RequestArbitration(tx, e.subject.UID, oracle1)
	})
	assert.ErrorIs(t, err, protoerr.ErrUnauthorized)

	err = e.host.Execute(ctx, bob, "request", func(tx *substrate.Tx) error {
		return e.arb.RequestArbitration(tx, "missing", oracle1)
	})
	assert.ErrorIs(t, err, protoerr.ErrNotFound)
}

func TestDecideMalformedDemand(t *testing.T) {
	e := newEnv(t)
	_, err := substrate.Query(context.Background(), e.host, func(tx *substrate.Tx) (bool, error) {
		return e.arb.Decide(tx, e.subject, []byte(`{"oracle":""}`), "")
	})
	assert.ErrorIs(t, err, protoerr.ErrDecode)
}
