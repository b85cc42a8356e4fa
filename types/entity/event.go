package entity

import "encoding/json"

// EventName names a frame on the stream. Publishers may use free-form names;
// the reserved ones below belong to the transport framing itself.
type EventName string

const (
	// reserved framing events
	EventReady EventName = "ready"
	EventPing  EventName = "ping"
	EventError EventName = "error"

	// business events
	EventNotification   EventName = "NOTIFICATION"
	EventNewOrder       EventName = "NEW_ORDER"
	EventOrderReady     EventName = "ORDER_READY"
	EventNewDeliveryJob EventName = "NEW_DELIVERY_JOB"
	EventSeen           EventName = "NOTIFICATION_SEEN"
)

// Reserved reports whether the name is owned by the transport framing and
// therefore cannot be published by business logic.
func (e EventName) Reserved() bool {
	return e == EventReady || e == EventPing || e == EventError
}

// Event is a single fan-out unit handed to the hub.
type Event struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Name    EventName       `json:"name"`
	Scope   Scope           `json:"-"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
