package events

import (
	"context"
	"errors"

	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

// MultiSink fans chat events out to several sinks.
type MultiSink struct {
	sinks []domain.EventSink
}

// NewMultiSink creates a MultiSink that forwards events to all non-nil sinks.
func NewMultiSink(sinks ...domain.EventSink) *MultiSink {
	filtered := make([]domain.EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Publish delivers to every sink even if an earlier one fails, and joins the errors.
func (m *MultiSink) Publish(ctx context.Context, event domain.ChatEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
