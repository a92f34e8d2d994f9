// Package events is a one-way fire-and-forget event sink with
// at-most-once delivery, consumed by topic (notification, UI websocket,
// audit). The typed EventData/EventWithData envelope dispatches by a
// custom Marshal/Unmarshal type switch so each event kind round-trips as
// its own concrete struct.
package events

import (
	"encoding/json"
	"time"
)

// EventType enumerates the kinds of event the replication core publishes.
type EventType string

const (
	MasterOrderAccepted EventType = "master_order_accepted"
	FollowerOutcome     EventType = "follower_outcome"
	ReplicationSealed   EventType = "replication_sealed"
)

// EventData is the interface every typed event payload implements.
type EventData interface {
	EventType() EventType
}

// MasterOrderAcceptedData is published by the Ingress Hook the instant a
// master order is handed to the dispatcher.
type MasterOrderAcceptedData struct {
	MasterOrderID string `json:"master_order_id"`
	OwnerAccount  string `json:"owner_account"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
}

func (d *MasterOrderAcceptedData) EventType() EventType { return MasterOrderAccepted }

// FollowerOutcomeData is published as each follower pipeline finishes,
// for real-time follower/UI updates.
type FollowerOutcomeData struct {
	MasterOrderID   string  `json:"master_order_id"`
	FollowerAccount string  `json:"follower_account"`
	FollowerOrderID string  `json:"follower_order_id"`
	Outcome         string  `json:"outcome"`
	Reason          string  `json:"reason,omitempty"`
	LatencyMs       float64 `json:"latency_ms"`
}

func (d *FollowerOutcomeData) EventType() EventType { return FollowerOutcome }

// ReplicationSealedData is published once a Replication Event seals,
// carrying its aggregate replication metrics.
type ReplicationSealedData struct {
	MasterOrderID string  `json:"master_order_id"`
	Total         int     `json:"total"`
	Dispatched    int     `json:"dispatched"`
	PolicySkipped int     `json:"policy_skipped"`
	Unmapped      int     `json:"unmapped"`
	RiskDenied    int     `json:"risk_denied"`
	BrokerErrored int     `json:"broker_errored"`
	TimedOut      int     `json:"timed_out"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
}

func (d *ReplicationSealedData) EventType() EventType { return ReplicationSealed }

// EventWithData is an event envelope carrying typed, polymorphic data.
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData.
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{Alias: (*Alias)(e)}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData, picking
// the concrete EventData type from the envelope's Type field.
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{Alias: (*Alias)(e)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case MasterOrderAccepted:
		eventData = &MasterOrderAcceptedData{}
	case FollowerOutcome:
		eventData = &FollowerOutcomeData{}
	case ReplicationSealed:
		eventData = &ReplicationSealedData{}
	default:
		return nil
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}
