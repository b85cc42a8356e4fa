// Package publisher is the write side of the live notification path:
// business logic hands it a domain event, it records the durable
// notification and fans the event out through the hub.
package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/warunk-dev/resto-core/lib/hub"
	"github.com/warunk-dev/resto-core/repository/notification"
	"github.com/warunk-dev/resto-core/types/entity"
	types "github.com/warunk-dev/resto-core/types/http"
)

type Input struct {
	Topic           string
	TargetID        *string
	RelatedEntityID *string
	Title           string
	Body            string

	// Event names the live frame; defaults to NOTIFICATION.
	Event entity.EventName
}

type usecase struct {
	repo notification.Repository
	hub  *hub.Hub
}

func New(repo notification.Repository, h *hub.Hub) *usecase {
	return &usecase{
		repo: repo,
		hub:  h,
	}
}

// Notify writes the durable record, then pushes the event live. A store
// failure does not suppress the push: connected consumers still get the
// "something changed" hint, and the anomaly (live push without durable
// record) is logged and surfaced to the caller.
func (u *usecase) Notify(ctx context.Context, in Input) (entity.Notification, *types.CommonError) {
	topic, errUC := normalizeTopic(in.Topic)
	if errUC != nil {
		return entity.Notification{}, errUC
	}

	name := in.Event
	if name == "" {
		name = entity.EventNotification
	}
	if name.Reserved() {
		return entity.Notification{}, invalidEvent(name)
	}

	n := entity.Notification{
		Topic:           topic,
		TargetID:        in.TargetID,
		RelatedEntityID: in.RelatedEntityID,
		Title:           in.Title,
		Body:            in.Body,
	}

	scope := entity.Broadcast()
	if in.TargetID != nil && *in.TargetID != "" {
		scope = entity.Target(*in.TargetID)
	}

	created, errUC := u.repo.Create(ctx, n)
	if errUC != nil {
		log.Error().Msgf("publisher: live push on %v without durable record: %v", topic, errUC.Err())
		u.publish(topic, name, scope, n)
		return entity.Notification{}, errUC
	}

	u.publish(topic, name, scope, created)

	return created, nil
}

// PublishEvent fans out without touching the store; fire-and-forget.
func (u *usecase) PublishEvent(ctx context.Context, event entity.Event) *types.CommonError {
	topic, errUC := normalizeTopic(event.Topic)
	if errUC != nil {
		return errUC
	}
	if event.Name == "" || event.Name.Reserved() {
		return invalidEvent(event.Name)
	}

	event.Topic = topic
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	u.hub.Publish(event)

	return nil
}

func (u *usecase) publish(topic string, name entity.EventName, scope entity.Scope, n entity.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Err(err).Msgf("publisher: failed to marshal notification payload")
		payload = []byte(`{}`)
	}

	u.hub.Publish(entity.Event{
		ID:      uuid.New().String(),
		Topic:   topic,
		Name:    name,
		Scope:   scope,
		Payload: payload,
	})
}

func normalizeTopic(topic string) (string, *types.CommonError) {
	topic = strings.ToUpper(strings.TrimSpace(topic))
	if topic == "" {
		return "", &types.CommonError{
			Errors: []types.Error{
				{
					HTTPCode: http.StatusBadRequest,
					Code:     "INVALID_TOPIC",
					Message:  "Please specify a topic",
				},
			},
		}
	}
	return topic, nil
}

func invalidEvent(name entity.EventName) *types.CommonError {
	return &types.CommonError{
		Errors: []types.Error{
			{
				HTTPCode: http.StatusBadRequest,
				Code:     "INVALID_EVENT_NAME",
				Message:  "Event name '" + string(name) + "' is empty or reserved by the transport",
			},
		},
	}
}
