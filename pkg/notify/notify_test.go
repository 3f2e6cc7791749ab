package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

func TestSinksReceiveOnlyCommittedEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mem := NewMemorySink()
	h := substrate.NewHost(substrate.NewMemoryBackend(), substrate.WithSinks(mem, NewLogSink(logger)))
	ctx := context.Background()

	require.NoError(t, h.Execute(ctx, "0xa", "ok", func(tx *substrate.Tx) error {
		tx.Emit("0xc", "Thing", map[string]string{"k": "v"})
		tx.Emit("0xc", "Other", nil)
		return nil
	}))
	_ = h.Execute(ctx, "0xa", "fail", func(tx *substrate.Tx) error {
		tx.Emit("0xc", "Thing", nil)
		return assert.AnError
	})

	events := mem.Events()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
	assert.Len(t, mem.Named("Thing"), 1)
	assert.Contains(t, buf.String(), `"event":"Thing"`)
	assert.Contains(t, buf.String(), `"k":"v"`)

	mem.Reset()
	assert.Empty(t, mem.Events())
}

// TestRedisSink_Integration requires a running Redis.
func TestRedisSink_Integration(t *testing.T) {
	sink := NewRedisSink("localhost:6379", "", 0, "settlement-test-events")
	defer func() { _ = sink.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	ch, err := sink.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Publish(ctx, []substrate.Event{
		{Seq: 1, Name: "EscrowLocked", Emitter: "0xescrow", Attrs: map[string]string{"uid": "u1"}},
		{Seq: 2, Name: "EscrowCollected", Emitter: "0xescrow"},
	}))

	first := <-ch
	second := <-ch
	assert.Equal(t, "EscrowLocked", first.Name)
	assert.Equal(t, "u1", first.Attr("uid"))
	assert.Equal(t, uint64(2), second.Seq)
}
