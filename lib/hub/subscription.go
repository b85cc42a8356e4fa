package hub

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/warunk-dev/resto-core/types/entity"
)

const subscriptionBuffer = 64

// Subscription is one open connection on a topic. Frames are delivered in
// publish order through a buffered channel; when the buffer is full the
// consumer is too slow and the frame is dropped for this subscriber only.
type Subscription struct {
	id    uint64
	topic string
	scope entity.Scope

	ch      chan entity.Event
	closed  atomic.Bool
	dropped atomic.Uint64

	hub *Hub
}

func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) Scope() entity.Scope {
	return s.scope
}

func (s *Subscription) Frames() <-chan entity.Event {
	return s.ch
}

// Dropped counts frames lost to a full buffer since the subscription opened.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close deregisters the subscription and closes the frame channel. Closing
// twice is a no-op. The channel is closed only after deregistration: an
// in-flight Publish holds the registry read lock, so by the time remove
// returns no publisher can still write here.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.hub.remove(s.topic, s.id)
	close(s.ch)

	log.Debug().Msgf("hub: closed subscription %v on %v", s.id, s.topic)
}

func (s *Subscription) publish(event entity.Event) {
	if !s.scope.Matches(event.Scope) {
		return
	}
	if s.closed.Load() {
		return
	}

	select {
	case s.ch <- event:
	default:
		n := s.dropped.Add(1)
		log.Warn().Msgf("hub: slow consumer %v on %v, dropped %v frames", s.id, s.topic, n)
	}
}
