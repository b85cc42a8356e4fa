package notifyapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/warunk-dev/resto-core/delivery/helper"
	"github.com/warunk-dev/resto-core/lib/hub"
	"github.com/warunk-dev/resto-core/types/entity"
	types "github.com/warunk-dev/resto-core/types/http"
)

// Stream is the SSE endpoint. Request: topic in the path (case-insensitive),
// optional ?scoped=true&target=<id>. The first frame is always `ready`;
// `ping` frames keep intermediaries from timing the connection out.
func (a *api) Stream(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	subs, errParam := a.acceptStream(r, p)
	if errParam != nil {
		helper.SetError(w, *errParam, errParam.HTTPCode)
		return
	}
	defer subs.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := writeFrame(w, entity.EventReady, readyPayload(subs)); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(a.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writeFrame(w, entity.EventPing, nil); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-subs.Frames():
			if !ok {
				return
			}
			if err := writeFrame(w, msg.Name, msg.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// acceptStream validates the request, applies the subscribe limiter and
// registers the connection on the hub.
func (a *api) acceptStream(r *http.Request, p httprouter.Params) (*hub.Subscription, *types.Error) {
	topic := normalizeTopic(p.ByName("topic"))

	scope := entity.Broadcast()
	q := r.URL.Query()
	if scoped := q.Get("scoped"); scoped == "true" || scoped == "1" {
		target := q.Get("target")
		if target == "" {
			return nil, &types.Error{
				HTTPCode: http.StatusBadRequest,
				Code:     "INVALID_SCOPE",
				Message:  "Scoped subscription requires a 'target' parameter",
			}
		}
		scope = entity.Target(target)
	}

	identity := limiterIdentity(r)
	if errUC := a.limiter.Increment(r.Context(), identity, subscribeLimitKey, subscribeLimitWindow); errUC != nil {
		// limiter backend down: do not take the stream down with it
		log.Err(errUC.Err()).Msgf("notify-api: subscribe limiter unavailable")
	} else {
		counter, _, errUC := a.limiter.Get(r.Context(), identity, subscribeLimitKey)
		if errUC == nil && counter > a.subscribeBurst {
			return nil, &types.Error{
				HTTPCode: http.StatusTooManyRequests,
				Code:     "TOO_MANY_SUBSCRIBES",
				Message:  "Subscribe rate exceeded, retry later",
			}
		}
	}

	subs, err := a.hub.Subscribe(topic, scope)
	if err != nil {
		return nil, &types.Error{
			HTTPCode: http.StatusBadRequest,
			Code:     "INVALID_TOPIC",
			Message:  "Please specify a topic",
		}
	}

	return subs, nil
}

func readyPayload(subs *hub.Subscription) []byte {
	return []byte(fmt.Sprintf(`{"topic":%q,"scope":%q}`, subs.Topic(), subs.Scope()))
}

// writeFrame emits one SSE frame. The payload is compacted first: the data
// line must stay a single line, and valid JSON may carry embedded newlines.
func writeFrame(w io.Writer, name entity.EventName, payload []byte) error {
	data := []byte("{}")
	if len(payload) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			log.Warn().Msgf("notify-api: dropping malformed frame payload on %v: %v", name, err)
		} else {
			data = buf.Bytes()
		}
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func normalizeTopic(topic string) string {
	return strings.ToUpper(strings.TrimSpace(topic))
}
