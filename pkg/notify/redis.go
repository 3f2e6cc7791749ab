package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// RedisSink publishes every event as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to the Redis server at addr.
func NewRedisSink(addr, password string, db int, channel string) *RedisSink {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSink{client: rdb, channel: channel}
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Publish sends events in one pipeline, preserving order.
func (s *RedisSink) Publish(ctx context.Context, events []substrate.Event) error {
	pipe := s.client.Pipeline()
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("notify: encode event %d: %w", ev.Seq, err)
		}
		pipe.Publish(ctx, s.channel, b)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel of events published on the sink's channel.
// It is closed when ctx is done.
func (s *RedisSink) Subscribe(ctx context.Context) (<-chan substrate.Event, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("notify: redis subscribe: %w", err)
	}
	out := make(chan substrate.Event)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev substrate.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisSink) Close() error { return s.client.Close() }
