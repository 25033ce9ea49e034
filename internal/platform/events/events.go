// Package events publishes domain events after their database transaction
// commits. Delivery is best effort: a failed publish is logged by the caller
// and never rolls back the business operation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subject prefixes.
const (
	SubjectAppointmentPrefix   = "careflow.appointment."
	SubjectAvailabilityChanged = "careflow.availability.changed"
)

// AppointmentSubject returns the subject for an appointment entering status.
func AppointmentSubject(status string) string {
	return SubjectAppointmentPrefix + status
}

// Envelope is the JSON body of every published message.
type Envelope struct {
	ID         string          `json:"id"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Publisher delivers an event payload to subscribers.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
	Close() error
}

func encode(subject string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
}

// LogPublisher writes events to the logger only. It backs EVENTS_DRIVER=none.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, subject string, payload interface{}) error {
	body, err := encode(subject, payload)
	if err != nil {
		return err
	}
	p.logger.Debug().Str("subject", subject).RawJSON("event", body).Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// PublishAfterCommit publishes and logs failures instead of returning them.
func PublishAfterCommit(ctx context.Context, pub Publisher, logger zerolog.Logger, subject string, payload interface{}) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, subject, payload); err != nil {
		logger.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}
