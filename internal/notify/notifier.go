// Package notify delivers operator alerts. Notifications are dispatched to all
// registered senders (Telegram, Discord) and filtered by event type so
// operators receive only the alerts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event names accepted in the notify.events config list.
const (
	EventBreaker   = "breaker_tripped"
	EventEmergency = "emergency_stop"
	EventLargeLoss = "large_loss"
	EventTrade     = "trade_settled"
	EventError     = "error"
)

var knownEvents = map[string]bool{
	EventBreaker:   true,
	EventEmergency: true,
	EventLargeLoss: true,
	EventTrade:     true,
	EventError:     true,
}

// Known reports whether event is a recognised event name.
func Known(event string) bool {
	return knownEvents[strings.TrimSpace(event)]
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards events in the allowed set; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. If
// events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether Notify would forward event.
func (n *Notifier) Enabled(event string) bool {
	return len(n.senders) > 0 && (len(n.events) == 0 || n.events[event])
}

// Notify sends a notification to all senders if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Notifyf is Notify with a formatted message.
func (n *Notifier) Notifyf(ctx context.Context, event, title, format string, args ...any) error {
	if !n.Enabled(event) {
		return nil
	}
	return n.dispatch(ctx, title, fmt.Sprintf(format, args...))
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender. A single sender failure does not prevent
// delivery to the rest; failures are joined.
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
