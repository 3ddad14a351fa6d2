// Package notify delivers operator alerts over external channels (Telegram,
// Discord). Alerts are filtered by event type so operators receive only the
// classes they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Well-known alert event types.
const (
	EventAuthExpired  = "auth_expired"
	EventOrderUnknown = "order_unknown"
	EventGapDetected  = "gap_detected"
	EventOrderFilled  = "order_filled"
)

// Field is one labelled value attached to an alert, rendered as its own line.
type Field struct {
	Name  string
	Value string
}

// Alert is one operator notification. The event type drives filtering; the
// fields carry the identifiers (market, stream, request id) a responder needs
// without parsing them back out of prose.
type Alert struct {
	Event  string
	Title  string
	Body   string
	Fields []Field
}

// Text renders the alert as message lines, wrapping the title in the given
// bold marker. Telegram and Discord differ only in that marker.
func (a Alert) Text(boldMark string) string {
	var b strings.Builder
	b.WriteString(boldMark)
	b.WriteString(a.Title)
	b.WriteString(boldMark)
	if a.Body != "" {
		b.WriteString("\n")
		b.WriteString(a.Body)
	}
	for _, f := range a.Fields {
		b.WriteString("\n")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one alert.
	Send(ctx context.Context, alert Alert) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Alerter dispatches alerts to one or more Senders. It maintains a set of
// allowed event types; Notify only forwards alerts whose event type is in the
// allowed set, while NotifyAll bypasses the filter.
type Alerter struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewAlerter creates an Alerter that delivers to the given senders. Only
// events whose type appears in the events slice are forwarded by Notify; an
// empty list allows everything.
func NewAlerter(senders []Sender, events []string, logger *slog.Logger) *Alerter {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Alerter{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "alerter")),
	}
}

// Notify sends an alert to all senders if its event type is allowed.
func (a *Alerter) Notify(ctx context.Context, alert Alert) error {
	if len(a.events) > 0 && !a.events[alert.Event] {
		a.logger.DebugContext(ctx, "event filtered out", slog.String("event", alert.Event))
		return nil
	}
	return a.dispatch(ctx, alert)
}

// NotifyAll sends an alert to all senders regardless of event type.
func (a *Alerter) NotifyAll(ctx context.Context, alert Alert) error {
	return a.dispatch(ctx, alert)
}

// dispatch delivers to every sender. Errors are collected and returned as a
// combined error; a single sender failure does not prevent delivery to the
// remaining senders.
func (a *Alerter) dispatch(ctx context.Context, alert Alert) error {
	if len(a.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range a.senders {
		if err := s.Send(ctx, alert); err != nil {
			a.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
