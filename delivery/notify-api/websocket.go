package notifyapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/warunk-dev/resto-core/types/entity"
)

type wsFrame struct {
	Event entity.EventName `json:"event"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

// Websocket serves the same stream contract over a websocket for clients
// behind proxies that buffer SSE. Same frames: ready first, periodic ping,
// then business events.
func (a *api) Websocket(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	subs, errParam := a.acceptStream(r, p)
	if errParam != nil {
		http.Error(w, errParam.Message, errParam.HTTPCode)
		return
	}
	defer subs.Close()

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Err(err).Msgf("notify-api: websocket accept failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "closing")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// reader goroutine only detects client close; the stream is one-way
	go func() {
		defer cancel()
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}()

	if err := writeWsFrame(ctx, c, entity.EventReady, readyPayload(subs)); err != nil {
		return
	}

	ticker := time.NewTicker(a.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "bye")
			return
		case <-ticker.C:
			if err := writeWsFrame(ctx, c, entity.EventPing, nil); err != nil {
				return
			}
		case msg, ok := <-subs.Frames():
			if !ok {
				c.Close(websocket.StatusNormalClosure, "bye")
				return
			}
			if err := writeWsFrame(ctx, c, msg.Name, msg.Payload); err != nil {
				return
			}
		}
	}
}

func writeWsFrame(ctx context.Context, c *websocket.Conn, name entity.EventName, payload []byte) error {
	frame := wsFrame{Event: name, Data: payload}
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}
