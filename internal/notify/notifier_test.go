package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

type recordingSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Alert
}

func (r *recordingSender) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, a)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{domain.EventCommitFailed, " "}, 0, quiet())

	require.NoError(t, n.Notify(context.Background(), domain.EventTradeExecuted, "t", "m"))
	assert.Zero(t, s.count())

	require.NoError(t, n.Notify(context.Background(), domain.EventCommitFailed, "t", "m"))
	require.Equal(t, 1, s.count())
	assert.Equal(t, domain.EventCommitFailed, s.sent[0].Event)
}

func TestNotifier_EmptyAllowListPassesEverything(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, 0, quiet())

	require.NoError(t, n.Notify(context.Background(), domain.EventTradeExecuted, "a", "m"))
	require.NoError(t, n.Notify(context.Background(), domain.EventSettlementTimeout, "b", "m"))
	assert.Equal(t, 2, s.count())
}

func TestNotifier_Cooldown(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, time.Minute, quiet())
	clock := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, domain.EventCommitFailed, "same", "1"))
	require.NoError(t, n.Notify(ctx, domain.EventCommitFailed, "same", "2"))
	require.NoError(t, n.Notify(ctx, domain.EventCommitFailed, "other", "3"))
	assert.Equal(t, 2, s.count())

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, n.Notify(ctx, domain.EventCommitFailed, "same", "4"))
	assert.Equal(t, 3, s.count())
}

func TestNotifier_OneSenderFailing(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, quiet())

	err := n.Notify(context.Background(), domain.EventTradeExecuted, "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 1, good.count())
}

func TestNotifier_NoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, 0, quiet())
	assert.NoError(t, n.Notify(context.Background(), domain.EventTradeExecuted, "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), Alert{Event: domain.EventCommitFailed, Title: "Commit failed", Message: "tx 0xabc"})
	require.NoError(t, err)

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "[commit_failed] Commit failed\ntx 0xabc", got["text"])
	assert.NotContains(t, got, "parse_mode")
}

func TestTelegramSender_ErrorsHideToken(t *testing.T) {
	s := NewTelegramSender("SECRET", "42")
	s.baseURL = "http://127.0.0.1:1"
	err := s.Send(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad chat", http.StatusBadRequest)
	}))
	defer srv.Close()
	s.baseURL = srv.URL
	err = s.Send(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDiscordSender(t *testing.T) {
	var got struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	err := NewDiscordSender(srv.URL).Send(context.Background(), Alert{
		Event: domain.EventSettlementTimeout, Title: "Settlement timed out", Message: "tx 0xabc", At: at,
	})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "Settlement timed out", e.Title)
	assert.Equal(t, "tx 0xabc", e.Description)
	assert.Equal(t, 0xf1c40f, e.Color)
	assert.Equal(t, "2026-10-17T09:30:00Z", e.Timestamp)
	assert.Equal(t, domain.EventSettlementTimeout, e.Footer.Text)
}

func TestDiscordSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
