package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

const (
	defaultStreamMaxLen int64 = 10000
	subscribeBuffer           = 128
	payloadField              = "payload"
)

// SignalBus implements domain.SignalBus. Commit updates and account commands
// travel over Pub/Sub; committed events are also appended to a capped Stream
// that late API clients page through. Channel and stream names are scoped to
// the client's app:
//
//	futarchy:{app}:state     Pub/Sub, domain.Update after each commit
//	futarchy:{app}:commands  Pub/Sub, account changes for the indexer
//	futarchy:{app}:events    Stream, committed events
type SignalBus struct {
	rdb    *redis.Client
	scope  func(string) string
	maxLen int64
}

// NewSignalBus creates a SignalBus on c. Streams are trimmed to roughly
// maxLen entries; zero selects 10,000.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{
		rdb:    c.rdb,
		scope:  func(name string) string { return c.key(name) },
		maxLen: maxLen,
	}
}

// Publish sends payload on the app's channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, sb.scope(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns the payloads published on the app's channel until ctx
// is done, then closes the returned channel. It waits for Redis to confirm
// the subscription so no publish after it returns is missed.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, sb.scope(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		forward(ctx, pubsub.Channel(), out)
	}()
	return out, nil
}

func forward(ctx context.Context, in <-chan *redis.Message, out chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// StreamAppend appends payload to the app's stream, trimming it to about
// maxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.scope(stream),
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking. "0"
// reads from the oldest retained entry. An exhausted stream yields nil.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{sb.scope(stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		messages = append(messages, streamMessages(s.Messages)...)
	}
	return messages, nil
}

// streamMessages keeps entries carrying a payload field and skips anything
// else written to the stream.
func streamMessages(in []redis.XMessage) []domain.StreamMessage {
	var out []domain.StreamMessage
	for _, msg := range in {
		var data []byte
		switch v := msg.Values[payloadField].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
	}
	return out
}

var _ domain.SignalBus = (*SignalBus)(nil)
