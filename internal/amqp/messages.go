package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"fleetledger/internal/core"
)

// Lifecycle event names. They double as routing keys.
const (
	EventTripStarted   = "trip-started"
	EventTripCompleted = "trip-completed"
)

// TripSummary is the settlement snapshot carried by a lifecycle event.
type TripSummary struct {
	Status              core.TripStatus  `json:"status"`
	FlightType          core.FlightType  `json:"flightType"`
	Currency            core.Currency    `json:"currency"`
	SecondaryCurrency   core.Currency    `json:"secondaryCurrency,omitempty"`
	DriverProfitPercent int64            `json:"driverProfitPercent"`
	Legs                int              `json:"legs"`
	Expenses            int              `json:"expenses"`
	Aggregates          core.Aggregates  `json:"aggregates"`
	Secondary           *core.Aggregates `json:"secondary,omitempty"`
	ExchangeRateAtClose *core.Rate       `json:"exchangeRateAtClose,omitempty"`
	CompletedAt         *time.Time       `json:"completedAt,omitempty"`
}

// TripEvent is published on every trip lifecycle change.
type TripEvent struct {
	Event     string      `json:"event"`
	TripID    string      `json:"tripId"`
	DriverID  string      `json:"driverId"`
	Version   int64       `json:"version"`
	Summary   TripSummary `json:"summary"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewTripEvent builds an event from a trip snapshot. secondary holds the
// figures converted at the closing rate, if any.
func NewTripEvent(event string, t core.Trip, secondary *core.Aggregates) *TripEvent {
	return &TripEvent{
		Event:    event,
		TripID:   t.ID,
		DriverID: t.DriverID,
		Version:  t.Version,
		Summary: TripSummary{
			Status:              t.Status,
			FlightType:          t.FlightType,
			Currency:            t.Currency,
			SecondaryCurrency:   t.SecondaryCurrency,
			DriverProfitPercent: t.DriverProfitPercent,
			Legs:                len(t.Legs),
			Expenses:            len(t.Expenses),
			Aggregates:          t.Aggregates,
			Secondary:           secondary,
			ExchangeRateAtClose: t.ExchangeRateAtClose,
			CompletedAt:         t.CompletedAt,
		},
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TripEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TripEventFromJSON decodes and checks an event.
func TripEventFromJSON(data []byte) (*TripEvent, error) {
	var msg TripEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TripID == "" {
		return nil, fmt.Errorf("trip event without trip id")
	}
	switch msg.Event {
	case EventTripStarted, EventTripCompleted:
	default:
		return nil, fmt.Errorf("unknown trip event %q", msg.Event)
	}
	return &msg, nil
}
