// Package hub is the in-process fan-out registry for live restaurant events.
// It replaces the usual global connection map with an explicit object so
// tests (and a process hosting several hubs) can own independent registries.
package hub

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/warunk-dev/resto-core/types/entity"
)

var (
	ErrInvalidTopic = errors.New("invalid topic")
)

type Hub struct {
	lock   sync.RWMutex
	topics map[string]map[uint64]*Subscription
}

func New() *Hub {
	return &Hub{
		topics: make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe registers a new connection on the topic before returning, so an
// event published right after cannot be missed. Topic is expected to be
// normalized (uppercase) by the delivery layer already.
func (h *Hub) Subscribe(topic string, scope entity.Scope) (*Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}

	id := rand.Uint64() // change id impl to avoid conflict if needed

	subs := &Subscription{
		id:    id,
		topic: topic,
		scope: scope,
		ch:    make(chan entity.Event, subscriptionBuffer),
		hub:   h,
	}

	h.lock.Lock()
	bucket, ok := h.topics[topic]
	if !ok {
		bucket = make(map[uint64]*Subscription)
		h.topics[topic] = bucket
	}
	bucket[id] = subs
	h.lock.Unlock()

	log.Debug().Msgf("hub: new subscription %v on %v (%v)", id, topic, scope)

	return subs, nil
}

// Publish fans the event out to every registered connection of its topic
// whose scope matches. It never blocks on a slow consumer: their frame is
// dropped instead (the durable store remains the source of truth).
func (h *Hub) Publish(event entity.Event) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	for _, subs := range h.topics[event.Topic] {
		subs.publish(event)
	}
}

// Len reports the number of open connections on the topic.
func (h *Hub) Len(topic string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.topics[topic])
}

// Metric to support metrics query
func (h *Hub) Metric() map[string]any {
	h.lock.RLock()
	defer h.lock.RUnlock()

	perTopic := make(map[string]int, len(h.topics))
	total := 0
	for topic, bucket := range h.topics {
		perTopic[topic] = len(bucket)
		total += len(bucket)
	}

	return map[string]any{
		"n_subscription": total,
		"per_topic":      perTopic,
	}
}

func (h *Hub) remove(topic string, id uint64) {
	h.lock.Lock()
	defer h.lock.Unlock()

	bucket, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(h.topics, topic)
	}
}
