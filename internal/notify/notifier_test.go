package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	alerts []Alert
	err    error
}

func (s *recordingSender) Send(_ context.Context, alert Alert) error {
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) titles() []string {
	var out []string
	for _, a := range s.alerts {
		out = append(out, a.Title)
	}
	return out
}

func TestAlerterFiltersByEvent(t *testing.T) {
	sender := &recordingSender{name: "test"}
	a := NewAlerter([]Sender{sender}, []string{EventAuthExpired}, slog.Default())

	require.NoError(t, a.Notify(context.Background(), Alert{Event: EventAuthExpired, Title: "expired"}))
	require.NoError(t, a.Notify(context.Background(), Alert{Event: EventOrderFilled, Title: "filled"}))

	require.Equal(t, []string{"expired"}, sender.titles())
}

func TestAlerterEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	a := NewAlerter([]Sender{sender}, nil, slog.Default())

	require.NoError(t, a.Notify(context.Background(), Alert{Event: EventGapDetected, Title: "gap"}))
	require.NoError(t, a.Notify(context.Background(), Alert{Event: "anything", Title: "other"}))
	require.Len(t, sender.alerts, 2)
}

func TestAlerterNotifyAllBypassesFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	a := NewAlerter([]Sender{sender}, []string{EventAuthExpired}, slog.Default())

	require.NoError(t, a.NotifyAll(context.Background(), Alert{Event: "other", Title: "urgent"}))
	require.Equal(t, []string{"urgent"}, sender.titles())
}

func TestAlerterContinuesPastFailedSender(t *testing.T) {
	failing := &recordingSender{name: "broken", err: errors.New("boom")}
	working := &recordingSender{name: "ok"}
	a := NewAlerter([]Sender{failing, working}, nil, slog.Default())

	err := a.NotifyAll(context.Background(), Alert{Title: "title"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
	// Delivery still reached the healthy sender.
	require.Equal(t, []string{"title"}, working.titles())
}

func TestAlerterNoSenders(t *testing.T) {
	a := NewAlerter(nil, nil, slog.Default())
	require.NoError(t, a.NotifyAll(context.Background(), Alert{Title: "title"}))
}

func TestAlertTextRendering(t *testing.T) {
	alert := Alert{
		Event: EventOrderFilled,
		Title: "Order filled",
		Body:  "Order filled completely.",
		Fields: []Field{
			{Name: "order_id", Value: "12"},
			{Name: "market", Value: "16"},
		},
	}
	require.Equal(t,
		"**Order filled**\nOrder filled completely.\norder_id: 12\nmarket: 16",
		alert.Text("**"))

	// Bare title, no trailing newline.
	require.Equal(t, "*ping*", Alert{Title: "ping"}.Text("*"))
}
