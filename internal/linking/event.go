// Package linking registers EMR care contexts against patients' ABHA
// records on the provider side, and reconciles links that never completed.
package linking

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CareEvent is published by the EMR whenever a shareable record is created
// or completed. Subscribers are registered explicitly at composition time;
// there is no implicit signal wiring.
type CareEvent struct {
	PatientID   uuid.UUID
	ABHANumber  string
	ABHAAddress string
	PatientName string
	Gender      string
	YearOfBirth int
	// HFID is the health-facility id the record belongs to.
	HFID string
	// Reference is the durable care-context reference of the record.
	Reference string
}

// Subscriber handles one published care event.
type Subscriber func(ctx context.Context, ev CareEvent)

// Notifier fans care events out to its subscribers. Subscribe before any
// Publish; registration is not synchronized against publication.
type Notifier struct {
	subscribers []Subscriber
	log         zerolog.Logger
}

func NewNotifier(log zerolog.Logger) *Notifier {
	return &Notifier{log: log.With().Str("component", "care_events").Logger()}
}

func (n *Notifier) Subscribe(s Subscriber) {
	n.subscribers = append(n.subscribers, s)
}

// Publish delivers the event to every subscriber in registration order. A
// panicking subscriber is logged and does not stop delivery.
func (n *Notifier) Publish(ctx context.Context, ev CareEvent) {
	for _, s := range n.subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.log.Error().Interface("panic", r).Str("reference", ev.Reference).
						Msg("care event subscriber panicked")
				}
			}()
			s(ctx, ev)
		}()
	}
}
