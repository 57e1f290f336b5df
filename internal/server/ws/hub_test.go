package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]chan []byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = ch
	return ch, nil
}

func (b *fakeBus) subscribed(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) == n
}

type fakeHistory map[string][]domain.StreamMessage

func (f fakeHistory) Recent(_ context.Context, channel string, count int) ([]domain.StreamMessage, error) {
	msgs := f[channel]
	if len(msgs) > count {
		msgs = msgs[len(msgs)-count:]
	}
	return msgs, nil
}

func (f fakeHistory) StreamRead(_ context.Context, channel, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range f[channel] {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func startHub(t *testing.T, history History) (*fakeBus, *Hub, string) {
	t.Helper()
	bus := newFakeBus()
	hub := NewHub(bus, history, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return bus.subscribed(len(DefaultChannels)) }, time.Second, 10*time.Millisecond)
	return bus, hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_ReplayThenLive(t *testing.T) {
	history := fakeHistory{
		domain.ChannelTrades: {
			{ID: "1-0", Payload: []byte(`{"type":"trade_executed","txHash":"0x01"}`)},
			{ID: "2-0", Payload: []byte(`{"type":"trade_executed","txHash":"0x02"}`)},
		},
	}
	bus, _, url := startHub(t, history)
	conn := dial(t, url+"/ws?channels=trades")

	first := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelTrades, first.Channel)
	assert.Equal(t, "1-0", first.ID)
	assert.JSONEq(t, `{"type":"trade_executed","txHash":"0x01"}`, string(first.Data))
	assert.Equal(t, "2-0", readEnvelope(t, conn).ID)

	// The replayed frames only flow once the client is registered.
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelTrades, []byte(`{"txHash":"0x03"}`)))
	live := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelTrades, live.Channel)
	assert.Empty(t, live.ID)
	assert.JSONEq(t, `{"txHash":"0x03"}`, string(live.Data))
}

func TestHub_ResumeSince(t *testing.T) {
	history := fakeHistory{
		domain.ChannelTrades: {
			{ID: "1-0", Payload: []byte(`{"txHash":"0x01"}`)},
			{ID: "2-0", Payload: []byte(`{"txHash":"0x02"}`)},
			{ID: "3-0", Payload: []byte(`{"txHash":"0x03"}`)},
		},
	}
	bus, _, url := startHub(t, history)
	conn := dial(t, url+"/ws?channels=trades&since=1-0")

	assert.Equal(t, "2-0", readEnvelope(t, conn).ID)
	assert.Equal(t, "3-0", readEnvelope(t, conn).ID)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelTrades, []byte(`{"txHash":"0x04"}`)))
	assert.JSONEq(t, `{"txHash":"0x04"}`, string(readEnvelope(t, conn).Data))
}

func TestHub_ProtoFormat(t *testing.T) {
	history := fakeHistory{
		domain.ChannelSettlements: {{ID: "5-0", Payload: []byte(`{"state":"CONFIRMED_SUCCESS","amount":"42"}`)}},
	}
	_, _, url := startHub(t, history)
	conn := dial(t, url+"/ws?channels=settlements&format=proto")

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)

	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &s))
	m := s.AsMap()
	assert.Equal(t, domain.ChannelSettlements, m["channel"])
	assert.Equal(t, "5-0", m["id"])
	assert.Equal(t, map[string]any{"state": "CONFIRMED_SUCCESS", "amount": "42"}, m["data"])
}

func TestHub_UnknownFormatRejected(t *testing.T) {
	_, _, url := startHub(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws?format=xml", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEncode_RejectsNonJSON(t *testing.T) {
	_, err := encode(formatJSON, event{channel: "trades", payload: []byte("not json")})
	assert.Error(t, err)
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "https://evil.example"))
	assert.True(t, originAllowed([]string{"https://afrodex.io"}, ""))
	assert.True(t, originAllowed([]string{"https://afrodex.io"}, "https://AfroDex.io"))
	assert.False(t, originAllowed([]string{"https://afrodex.io"}, "https://evil.example"))
	assert.True(t, originAllowed([]string{"*"}, "https://evil.example"))
}

func TestHandleSubscription_IgnoresUnknownChannels(t *testing.T) {
	hub := NewHub(newFakeBus(), nil, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := &client{hub: hub, subs: map[string]bool{}}
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"trades", "secrets"}})
	assert.True(t, c.isSubscribed("trades"))
	assert.False(t, c.isSubscribed("secrets"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"trades"}})
	assert.False(t, c.isSubscribed("trades"))
}
