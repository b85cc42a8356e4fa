package notifyapiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warunk-dev/resto-core/types/entity"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// SSEDialer dials the server's /v1/topics/:topic/stream endpoint. The
// transport it returns reconnects by itself when the stream drops: the
// logical subscription outlives transport faults, which are surfaced to
// handlers as error frames while the durable store covers the gap.
type SSEDialer struct {
	BaseURL    string
	ConsumerID string
	Client     *http.Client
}

func (d *SSEDialer) Dial(ctx context.Context, topic string, scope entity.Scope) (Transport, error) {
	httpc := d.Client
	if httpc == nil {
		httpc = http.DefaultClient
	}

	endpoint, err := streamURL(d.BaseURL, topic, scope)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &sseTransport{
		endpoint:   endpoint,
		consumerID: d.ConsumerID,
		httpc:      httpc,
		frames:     make(chan Frame),
		ctx:        ctx,
		cancel:     cancel,
	}

	// fail fast on the first connect; reconnects are handled internally
	body, err := t.connect()
	if err != nil {
		cancel()
		return nil, err
	}

	go t.run(body)

	return t, nil
}

func streamURL(base, topic string, scope entity.Scope) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/topics/" + url.PathEscape(topic) + "/stream"

	if target, ok := scope.TargetID(); ok {
		q := u.Query()
		q.Set("scoped", "true")
		q.Set("target", target)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

type sseTransport struct {
	endpoint   string
	consumerID string
	httpc      *http.Client

	frames chan Frame
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *sseTransport) Frames() <-chan Frame {
	return t.frames
}

func (t *sseTransport) Close() error {
	t.cancel()
	return nil
}

func (t *sseTransport) connect() (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if t.consumerID != "" {
		req.Header.Set("X-Consumer-ID", t.consumerID)
	}

	resp, err := t.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream rejected: %s", resp.Status)
	}

	return resp.Body, nil
}

// run reads frames until the context is cancelled, redialing on drops with
// capped backoff (reset after every successful connect).
func (t *sseTransport) run(body io.ReadCloser) {
	defer close(t.frames)

	backoff := reconnectBase
	for {
		err := t.read(body)
		body.Close()

		if t.ctx.Err() != nil {
			return
		}

		log.Warn().Msgf("notify-client: stream dropped (%v), reconnecting in %v", err, backoff)
		t.emit(errorFrame(err))

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}

		next, err := t.connect()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			log.Warn().Msgf("notify-client: reconnect failed: %v", err)
			body = io.NopCloser(strings.NewReader("")) // loop again after backoff
			continue
		}
		body = next
		backoff = reconnectBase
	}
}

// read parses the "event:"/"data:" line framing until the stream errors.
func (t *sseTransport) read(body io.Reader) error {
	scanner := bufio.NewScanner(body)

	var name, data string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if name != "" || data != "" {
				t.emit(Frame{Event: entity.EventName(name), Data: json.RawMessage(data)})
			}
			name, data = "", ""
			continue
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			name = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (t *sseTransport) emit(frame Frame) {
	select {
	case t.frames <- frame:
	case <-t.ctx.Done():
	}
}
