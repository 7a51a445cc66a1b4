// internal/service/tide/events.go

package tide

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventPublisher publishes membership events. *nats.Conn satisfies it.
type EventPublisher interface {
	Publish(subject string, data []byte) error
}

// NopPublisher discards events
type NopPublisher struct{}

// Publish implements EventPublisher
func (NopPublisher) Publish(subject string, data []byte) error { return nil }

// Event types
const (
	EventCreated = "created"
	EventJoined  = "joined"
	EventLeft    = "left"
)

// MembershipEvent is the payload of every tide event
type MembershipEvent struct {
	Event            string    `json:"event"`
	TideID           string    `json:"tideId"`
	UserID           string    `json:"userId"`
	ParticipantCount int       `json:"participantCount"`
	Active           bool      `json:"active"`
	At               time.Time `json:"at"`
}

// subject returns the NATS subject for an event: <topic>.created for new
// tides and <topic>.<id>.<event> for roster changes
func subject(topic string, e MembershipEvent) string {
	if e.Event == EventCreated {
		return fmt.Sprintf("%s.%s", topic, e.Event)
	}
	return fmt.Sprintf("%s.%s.%s", topic, e.TideID, e.Event)
}

func (c *Coordinator) publish(e MembershipEvent) {
	e.At = c.now()
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", e.Event).Msg("failed to encode tide event")
		return
	}
	if err := c.events.Publish(subject(c.config.EventsTopic, e), data); err != nil {
		c.logger.Warn().Err(err).Str("event", e.Event).Str("tide_id", e.TideID).Msg("failed to publish tide event")
	}
}
