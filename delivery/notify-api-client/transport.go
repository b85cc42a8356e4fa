package notifyapiclient

import (
	"context"
	"encoding/json"

	"github.com/warunk-dev/resto-core/types/entity"
)

// Frame is one named event received on a physical connection.
type Frame struct {
	Event entity.EventName `json:"event"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

// Transport is one physical streaming connection. Frames closes when the
// transport is permanently done (closed by the holder or context cancel);
// transient faults surface as error-kind frames, not as channel closure,
// because reconnection is the transport's own responsibility.
type Transport interface {
	Frames() <-chan Frame
	Close() error
}

// Dialer opens physical connections; the multiplexer shares each one among
// every logical subscriber of the same (topic, scope).
type Dialer interface {
	Dial(ctx context.Context, topic string, scope entity.Scope) (Transport, error)
}

func errorFrame(err error) Frame {
	payload, _ := json.Marshal(map[string]string{"message": err.Error()})
	return Frame{Event: entity.EventError, Data: payload}
}
