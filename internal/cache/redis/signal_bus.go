package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// streamMaxLen bounds each event stream, enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus publishes trade and settlement events on Redis Pub/Sub and
// mirrors each one into a capped stream so late websocket clients can
// replay recent history.
type SignalBus struct {
	c *Client
}

func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

func (sb *SignalBus) channel(name string) string { return sb.c.key("events:" + name) }
func (sb *SignalBus) stream(name string) string  { return sb.c.key("stream:" + name) }

// Publish sends payload to channel and appends it to the channel's stream
// in one pipeline.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	pipe := sb.c.rdb.Pipeline()
	pipe.Publish(ctx, sb.channel(channel), payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.stream(channel),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. It is
// closed when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.c.rdb.PSubscribe(ctx, sb.channel(channel))
	} else {
		pubsub = sb.c.rdb.Subscribe(ctx, sb.channel(channel))
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
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
	}()
	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamRead reads up to count events from a channel's stream after
// lastID ("0" for the beginning). An empty stream yields no error.
func (sb *SignalBus) StreamRead(ctx context.Context, channel, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{sb.stream(channel), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", channel, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

// Recent returns the last count events of a channel, oldest first.
func (sb *SignalBus) Recent(ctx context.Context, channel string, count int) ([]domain.StreamMessage, error) {
	entries, err := sb.c.rdb.XRevRangeN(ctx, sb.stream(channel), "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent %s: %w", channel, err)
	}
	out := make([]domain.StreamMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if v, ok := entries[i].Values["payload"].(string); ok {
			out = append(out, domain.StreamMessage{ID: entries[i].ID, Payload: []byte(v)})
		}
	}
	return out, nil
}

var (
	_ domain.SignalBus = (*SignalBus)(nil)
	_ domain.EventLog  = (*SignalBus)(nil)
)
