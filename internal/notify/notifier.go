// Package notify forwards market lifecycle events to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// Sender delivers one titled message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans messages out to every Sender. Only event types in the
// allow-list are forwarded; an empty list allows all.
type Notifier struct {
	senders []Sender
	events  map[domain.MarketEventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier over senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.MarketEventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.MarketEventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyMarket renders e and delivers it.
func (n *Notifier) NotifyMarket(ctx context.Context, e domain.MarketEvent) error {
	if len(n.events) > 0 && !n.events[e.Type] {
		return nil
	}
	return n.dispatch(ctx, title(e), body(e))
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

func title(e domain.MarketEvent) string {
	switch e.Type {
	case domain.EventMarketCreated:
		return "Market opened"
	case domain.EventMarketCancelled:
		return "Market cancelled"
	case domain.EventMarketExchanged:
		return "Market filled"
	}
	return string(e.Type)
}

func body(e domain.MarketEvent) string {
	m := e.Market
	return fmt.Sprintf("%s\n%d %s for %d %s\ncreator %s\nby %s",
		m.ID, m.DepositAmount, m.DepositAsset, m.ReceiveAmount, m.ReceiveAsset, m.Creator, e.Actor)
}
