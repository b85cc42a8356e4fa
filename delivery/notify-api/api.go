// Package notifyapi exposes the real-time notification core over HTTP:
// the long-lived stream endpoints, the publish side used by other
// subsystems, and the feed/seen query side used by the UI.
package notifyapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/warunk-dev/resto-core/delivery/helper"
	"github.com/warunk-dev/resto-core/lib/hub"
	"github.com/warunk-dev/resto-core/repository/limiter"
	"github.com/warunk-dev/resto-core/types/entity"
	types "github.com/warunk-dev/resto-core/types/http"
	"github.com/warunk-dev/resto-core/usecase/publisher"
)

const (
	defaultKeepalive      = 25 * time.Second
	defaultSubscribeBurst = 30
	subscribeLimitWindow  = time.Minute
	subscribeLimitKey     = "notify-subscribe"
)

type Publisher interface {
	Notify(ctx context.Context, in publisher.Input) (entity.Notification, *types.CommonError)
	PublishEvent(ctx context.Context, event entity.Event) *types.CommonError
}

type Feed interface {
	Compose(ctx context.Context, topic, consumerID string, limit int) ([]entity.Notification, *types.CommonError)
	MarkSeen(ctx context.Context, id int64) *types.CommonError
	MarkAllSeen(ctx context.Context, topic, consumerID string) (int64, *types.CommonError)
}

type api struct {
	hub       *hub.Hub
	publisher Publisher
	feed      Feed

	limiter        limiter.Repository
	subscribeBurst int
	keepalive      time.Duration
}

func New(h *hub.Hub, pub Publisher, fd Feed) *api {
	return &api{
		hub:            h,
		publisher:      pub,
		feed:           fd,
		limiter:        limiter.NewUnlimited(),
		subscribeBurst: defaultSubscribeBurst,
		keepalive:      defaultKeepalive,
	}
}

func (a *api) WithKeepalive(d time.Duration) *api {
	if d > 0 {
		a.keepalive = d
	}
	return a
}

func (a *api) WithLimiter(repo limiter.Repository, burst int) *api {
	a.limiter = repo
	if burst > 0 {
		a.subscribeBurst = burst
	}
	return a
}

func (a *api) Register(router *httprouter.Router) {
	router.GET("/v1/topics/:topic/stream", a.Stream)
	router.GET("/v1/topics/:topic/ws", a.Websocket)
	router.GET("/v1/topics/:topic/feed", a.FeedHandler)
	router.POST("/v1/topics/:topic/publish", a.Publish)
	router.POST("/v1/topics/:topic/notifications", a.CreateNotification)
	router.POST("/v1/topics/:topic/seen", a.MarkAllSeen)
	router.POST("/v1/notifications/:id/seen", a.MarkSeen)
	router.GET("/v1/metrics", a.Metrics)
}

// Publish fans an event out to live connections only (fire-and-forget,
// no durable record). Used for transient hints like "dashboard refresh".
func (a *api) Publish(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Cannot read body",
		}, http.StatusBadRequest)
		return
	}

	var req struct {
		Event   string          `json:"event"`
		Target  string          `json:"target,omitempty"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(b, &req); err != nil {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Malformed JSON body",
		}, http.StatusBadRequest)
		return
	}

	scope := entity.Broadcast()
	if req.Target != "" {
		scope = entity.Target(req.Target)
	}

	errUC := a.publisher.PublishEvent(r.Context(), entity.Event{
		Topic:   p.ByName("topic"),
		Name:    entity.EventName(req.Event),
		Scope:   scope,
		Payload: req.Payload,
	})
	if errUC != nil {
		writeError(w, errUC)
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]string{"status": "published"})
}

// CreateNotification is the durable path: store record plus live push.
func (a *api) CreateNotification(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Cannot read body",
		}, http.StatusBadRequest)
		return
	}

	var req struct {
		TargetID        *string `json:"target_id,omitempty"`
		RelatedEntityID *string `json:"related_entity_id,omitempty"`
		Title           string  `json:"title"`
		Body            string  `json:"body"`
		Event           string  `json:"event,omitempty"`
	}
	if err := json.Unmarshal(b, &req); err != nil {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Malformed JSON body",
		}, http.StatusBadRequest)
		return
	}

	created, errUC := a.publisher.Notify(r.Context(), publisher.Input{
		Topic:           p.ByName("topic"),
		TargetID:        req.TargetID,
		RelatedEntityID: req.RelatedEntityID,
		Title:           req.Title,
		Body:            req.Body,
		Event:           entity.EventName(req.Event),
	})
	if errUC != nil {
		writeError(w, errUC)
		return
	}

	writeSuccess(w, http.StatusCreated, created)
}

// FeedHandler materializes the consumer's merged notification list.
func (a *api) FeedHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	consumerID, errParam := helper.GetConsumerID(r.Header)
	if errParam != nil {
		helper.SetError(w, *errParam, errParam.HTTPCode)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			helper.SetError(w, types.Error{
				HTTPCode: http.StatusBadRequest, Code: "INVALID_LIMIT", Message: "Limit must be a non-negative integer",
			}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	result, errUC := a.feed.Compose(r.Context(), normalizeTopic(p.ByName("topic")), consumerID, limit)
	if errUC != nil {
		writeError(w, errUC)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

func (a *api) MarkSeen(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, err := strconv.ParseInt(p.ByName("id"), 10, 64)
	if err != nil {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest, Code: "INVALID_ID", Message: "Notification id must be an integer",
		}, http.StatusBadRequest)
		return
	}

	if errUC := a.feed.MarkSeen(r.Context(), id); errUC != nil {
		writeError(w, errUC)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"id": id, "seen": true})
}

func (a *api) MarkAllSeen(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	consumerID, errParam := helper.GetConsumerID(r.Header)
	if errParam != nil {
		helper.SetError(w, *errParam, errParam.HTTPCode)
		return
	}

	count, errUC := a.feed.MarkAllSeen(r.Context(), normalizeTopic(p.ByName("topic")), consumerID)
	if errUC != nil {
		writeError(w, errUC)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]int64{"updated": count})
}

func (a *api) Metrics(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	writeSuccess(w, http.StatusOK, a.hub.Metric())
}

func writeSuccess(w http.ResponseWriter, code int, v any) {
	payload, err := json.Marshal(&types.CommonResponse{Success: v})
	if err != nil {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusInternalServerError, Code: "JSON_ENCODE_FAILED", Message: "Failed to marshal response",
		}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(payload)
}

func writeError(w http.ResponseWriter, errUC *types.CommonError) {
	code := http.StatusInternalServerError
	if len(errUC.Errors) > 0 && errUC.Errors[0].HTTPCode != 0 {
		code = errUC.Errors[0].HTTPCode
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(types.SerializeError(errUC))
}

// identity for rate limiting: authenticated consumer if present, else host.
func limiterIdentity(r *http.Request) string {
	if id, err := helper.GetConsumerID(r.Header); err == nil {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
