package entity

import (
	"strconv"
	"time"
)

// Well-known topics of the restaurant floor. A topic is an open-ended
// string; these constants only name the channels the platform ships with.
const (
	TopicKitchen  = "KITCHEN"
	TopicBar      = "BAR"
	TopicDelivery = "DELIVERY"
	TopicWaiter   = "WAITER"
	TopicCashier  = "CASHIER"
)

// Notification is the durable record behind every live push.
// TargetID nil means broadcast: visible to every subscriber of the topic.
type Notification struct {
	ID              int64     `json:"id"`
	Topic           string    `json:"topic"`
	TargetID        *string   `json:"target_id,omitempty"`
	RelatedEntityID *string   `json:"related_entity_id,omitempty"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	Seen            bool      `json:"seen"`
	CreatedAt       time.Time `json:"created_at"`
}

func (n Notification) Broadcast() bool {
	return n.TargetID == nil || *n.TargetID == ""
}

// DedupKey collapses the feed by related entity when one is set.
// Records without a related entity never collapse with each other.
func (n Notification) DedupKey() string {
	if n.RelatedEntityID != nil && *n.RelatedEntityID != "" {
		return "entity:" + *n.RelatedEntityID
	}
	return "id:" + strconv.FormatInt(n.ID, 10)
}
