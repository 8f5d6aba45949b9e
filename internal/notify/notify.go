// Package notify delivers emergency notifications raised by the
// conversation controller when a triage result flags urgent symptoms.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Emergency describes one urgent-symptom event.
type Emergency struct {
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	Symptoms       string    `json:"symptoms"`
	Language       string    `json:"language,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Notifier sends emergency notifications. Implementations report delivery
// errors but must not block the conversation for long.
type Notifier interface {
	Notify(ctx context.Context, e Emergency) error
}

// LogNotifier writes emergencies to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, e Emergency) error {
	n.Logger.Warn().
		Str("conversation", e.ConversationID).
		Str("turn", e.TurnID).
		Str("language", e.Language).
		Time("at", e.Timestamp).
		Msg("emergency: symptoms may require medical attention")
	return nil
}

// MultiNotifier fans one emergency out to several notifiers.
type MultiNotifier struct {
	Notifiers []Notifier
	Logger    zerolog.Logger
}

// NewMultiNotifier skips nil entries. Errors from individual notifiers are
// logged and do not stop the others.
func NewMultiNotifier(logger zerolog.Logger, notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{Logger: logger}
	for _, n := range notifiers {
		if n != nil {
			m.Notifiers = append(m.Notifiers, n)
		}
	}
	return m
}

// Notify implements Notifier and returns the last error, if any.
func (m *MultiNotifier) Notify(ctx context.Context, e Emergency) error {
	var lastErr error
	for _, n := range m.Notifiers {
		if err := n.Notify(ctx, e); err != nil {
			lastErr = err
			m.Logger.Warn().Err(err).Str("conversation", e.ConversationID).Msg("notifier failed")
		}
	}
	return lastErr
}

// NopNotifier discards every emergency.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Emergency) error { return nil }
