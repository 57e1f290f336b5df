// Package notify delivers operator alerts (executed trades, settlement
// timeouts, failed commits) to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// Alert is one operator notification.
type Alert struct {
	Event   string
	Title   string
	Message string
	At      time.Time
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans alerts out to every sender. It implements domain.Alerter.
//
// Only events in the allow list are delivered (an empty list allows all),
// and an identical event+title pair is suppressed for the cooldown so a
// reconciler retrying the same entry does not flood the channel.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "notifier")),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify delivers to all senders concurrently. A failing sender does not
// stop the others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	now := n.now()
	if n.suppressed(event+"|"+title, now) {
		n.logger.DebugContext(ctx, "alert within cooldown", slog.String("event", event))
		return nil
	}

	alert := Alert{Event: event, Title: title, Message: message, At: now.UTC()}
	errs := make([]error, len(n.senders))

	var g errgroup.Group
	for i, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, alert); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (n *Notifier) suppressed(key string, now time.Time) bool {
	if n.cooldown <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		return true
	}
	n.lastSent[key] = now
	for k, t := range n.lastSent {
		if now.Sub(t) >= n.cooldown {
			delete(n.lastSent, k)
		}
	}
	return false
}

// stripURL drops the request URL from a transport error. Both webhook and
// bot URLs embed credentials.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

var _ domain.Alerter = (*Notifier)(nil)
