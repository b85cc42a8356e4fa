package notifyapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/warunk-dev/resto-core/lib/hub"
	"github.com/warunk-dev/resto-core/repository/notification/inmemory"
	"github.com/warunk-dev/resto-core/types/entity"
	types "github.com/warunk-dev/resto-core/types/http"
	"github.com/warunk-dev/resto-core/usecase/feed"
	"github.com/warunk-dev/resto-core/usecase/publisher"
)

type testEnv struct {
	srv *httptest.Server
	hub *hub.Hub
	pub *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := inmemory.New()
	h := hub.New()
	a := New(h, publisher.New(repo, h), feed.New(repo, 10)).
		WithKeepalive(50 * time.Millisecond)

	router := httprouter.New()
	a.Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, hub: h, pub: srv.Client()}
}

// readFrame parses one SSE frame ("event: x" / "data: y" / blank line).
func readFrame(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()

	var name, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return name, data
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			name = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
}

func openStream(t *testing.T, env *testEnv, path string) *bufio.Reader {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := env.pub.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %v", resp.Status)
	}
	return bufio.NewReader(resp.Body)
}

func TestStreamReadyAndBusinessFrame(t *testing.T) {
	env := newTestEnv(t)
	r := openStream(t, env, "/v1/topics/bar/stream")

	name, data := readFrame(t, r)
	if name != "ready" {
		t.Fatalf("first frame = %q, want ready", name)
	}
	if !strings.Contains(data, `"BAR"`) {
		t.Errorf("ready payload %q lacks normalized topic", data)
	}

	// registered before the request returned a frame: publish now
	body := bytes.NewBufferString(`{"title":"beer ready","event":"ORDER_READY","related_entity_id":"order-1"}`)
	resp, err := http.Post(env.srv.URL+"/v1/topics/BAR/notifications", "application/json", body)
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %v", resp.Status)
	}

	for {
		name, data = readFrame(t, r)
		if name == "ping" {
			continue
		}
		break
	}
	if name != string(entity.EventOrderReady) {
		t.Fatalf("frame = %q, want %v", name, entity.EventOrderReady)
	}
	var pushed entity.Notification
	if err := json.Unmarshal([]byte(data), &pushed); err != nil {
		t.Fatalf("payload did not unmarshal: %v", err)
	}
	if pushed.Title != "beer ready" {
		t.Errorf("payload title = %q", pushed.Title)
	}
}

func TestStreamKeepalive(t *testing.T) {
	env := newTestEnv(t)
	r := openStream(t, env, "/v1/topics/kitchen/stream")

	name, _ := readFrame(t, r)
	if name != "ready" {
		t.Fatalf("first frame = %q, want ready", name)
	}

	name, _ = readFrame(t, r) // keepalive is 50ms in tests
	if name != "ping" {
		t.Errorf("idle frame = %q, want ping", name)
	}
}

func TestStreamScopedDelivery(t *testing.T) {
	env := newTestEnv(t)
	mine := openStream(t, env, "/v1/topics/delivery/stream?scoped=true&target=42")
	other := openStream(t, env, "/v1/topics/delivery/stream?scoped=true&target=77")

	readFrame(t, mine)
	readFrame(t, other)

	body := bytes.NewBufferString(`{"title":"run","event":"NEW_DELIVERY_JOB","target_id":"42"}`)
	resp, _ := http.Post(env.srv.URL+"/v1/topics/delivery/notifications", "application/json", body)
	resp.Body.Close()

	for {
		name, _ := readFrame(t, mine)
		if name == "ping" {
			continue
		}
		if name != string(entity.EventNewDeliveryJob) {
			t.Fatalf("scoped subscriber got %q", name)
		}
		break
	}

	// the other scope only ever sees pings until the stream is torn down
	name, _ := readFrame(t, other)
	if name != "ping" {
		t.Errorf("other scope received %q, want only pings", name)
	}
}

func TestStreamScopedWithoutTarget(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/v1/topics/bar/stream?scoped=true")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %v, want 400", resp.Status)
	}

	var cr types.CommonResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cr.Error == nil || cr.Error.Errors[0].Code != "INVALID_SCOPE" {
		t.Errorf("error = %+v, want INVALID_SCOPE", cr.Error)
	}
}

func TestFeedEndpoint(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		body := bytes.NewBufferString(fmt.Sprintf(`{"title":"n%d"}`, i))
		resp, _ := http.Post(env.srv.URL+"/v1/topics/waiter/notifications", "application/json", body)
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/topics/waiter/feed?limit=2", nil)
	req.Header.Set("X-Consumer-ID", "42")
	resp, err := env.pub.Do(req)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	defer resp.Body.Close()

	var cr types.CommonResponseTyped[[]entity.Notification]
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cr.Error != nil {
		t.Fatalf("feed error = %v", cr.Error.Err())
	}
	if len(cr.Success) != 2 {
		t.Errorf("feed returned %d items, want 2", len(cr.Success))
	}
}

func TestFeedRequiresConsumer(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/v1/topics/waiter/feed")
	if err != nil {
		t.Fatalf("GET feed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %v, want 400", resp.Status)
	}
}

func TestMarkSeenEndpoints(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString(`{"title":"x","target_id":"42"}`)
	resp, _ := http.Post(env.srv.URL+"/v1/topics/bar/notifications", "application/json", body)
	var created types.CommonResponseTyped[entity.Notification]
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	resp, _ = http.Post(env.srv.URL+fmt.Sprintf("/v1/notifications/%d/seen", created.Success.ID), "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("mark seen status = %v", resp.Status)
	}

	resp, err := http.Post(env.srv.URL+"/v1/notifications/999/seen", "application/json", nil)
	if err != nil {
		t.Fatalf("POST seen: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing id status = %v, want 404", resp.Status)
	}

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/topics/bar/seen", nil)
	req.Header.Set("X-Consumer-ID", "42")
	resp2, err := env.pub.Do(req)
	if err != nil {
		t.Fatalf("POST topic seen: %v", err)
	}
	defer resp2.Body.Close()

	var cr types.CommonResponseTyped[map[string]int64]
	json.NewDecoder(resp2.Body).Decode(&cr)
	if cr.Success["updated"] != 0 {
		t.Errorf("updated = %d, want 0 (already seen)", cr.Success["updated"])
	}
}

func TestPublishEndpointFansOutOnly(t *testing.T) {
	env := newTestEnv(t)
	r := openStream(t, env, "/v1/topics/kitchen/stream")
	readFrame(t, r)

	body := bytes.NewBufferString(`{"event":"NEW_ORDER","payload":{"table":4}}`)
	resp, _ := http.Post(env.srv.URL+"/v1/topics/kitchen/publish", "application/json", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status = %v, want 202", resp.Status)
	}

	for {
		name, data := readFrame(t, r)
		if name == "ping" {
			continue
		}
		if name != string(entity.EventNewOrder) {
			t.Fatalf("frame = %q, want NEW_ORDER", name)
		}
		if !strings.Contains(data, `"table":4`) {
			t.Errorf("payload = %q", data)
		}
		break
	}
}

func TestStreamPayloadWithNewlinesStaysOneFrame(t *testing.T) {
	env := newTestEnv(t)
	r := openStream(t, env, "/v1/topics/kitchen/stream")
	readFrame(t, r)

	// pretty-printed but valid JSON must not split the data line
	body := bytes.NewBufferString("{\"event\":\"NEW_ORDER\",\"payload\":{\n  \"table\": 4,\n  \"note\": \"no ice\"\n}}")
	resp, err := http.Post(env.srv.URL+"/v1/topics/kitchen/publish", "application/json", body)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status = %v, want 202", resp.Status)
	}

	for {
		name, data := readFrame(t, r)
		if name == "ping" {
			continue
		}
		if name != string(entity.EventNewOrder) {
			t.Fatalf("frame = %q, want NEW_ORDER", name)
		}
		var payload struct {
			Table int    `json:"table"`
			Note  string `json:"note"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			t.Fatalf("frame data corrupted by embedded newlines: %q: %v", data, err)
		}
		if payload.Table != 4 || payload.Note != "no ice" {
			t.Errorf("payload = %+v", payload)
		}
		break
	}
}

func readWsFrame(t *testing.T, ctx context.Context, c *websocket.Conn) wsFrame {
	t.Helper()

	_, b, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("reading websocket frame: %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(b, &frame); err != nil {
		t.Fatalf("websocket frame did not unmarshal: %v", err)
	}
	return frame
}

func TestWebsocketReadyAndBusinessFrame(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, env.srv.URL+"/v1/topics/bar/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "done")

	frame := readWsFrame(t, ctx, c)
	if frame.Event != entity.EventReady {
		t.Fatalf("first frame = %q, want ready", frame.Event)
	}
	if !strings.Contains(string(frame.Data), `"BAR"`) {
		t.Errorf("ready payload %s lacks normalized topic", frame.Data)
	}

	body := bytes.NewBufferString(`{"title":"beer ready","event":"ORDER_READY","related_entity_id":"order-1"}`)
	resp, err := http.Post(env.srv.URL+"/v1/topics/bar/notifications", "application/json", body)
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}
	resp.Body.Close()

	for {
		frame = readWsFrame(t, ctx, c)
		if frame.Event == entity.EventPing {
			continue
		}
		break
	}
	if frame.Event != entity.EventOrderReady {
		t.Fatalf("frame = %q, want %v", frame.Event, entity.EventOrderReady)
	}
	var pushed entity.Notification
	if err := json.Unmarshal(frame.Data, &pushed); err != nil {
		t.Fatalf("payload did not unmarshal: %v", err)
	}
	if pushed.Title != "beer ready" {
		t.Errorf("payload title = %q", pushed.Title)
	}
}

func TestWebsocketScopedDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mine, _, err := websocket.Dial(ctx, env.srv.URL+"/v1/topics/delivery/ws?scoped=true&target=42", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer mine.Close(websocket.StatusNormalClosure, "done")
	other, _, err := websocket.Dial(ctx, env.srv.URL+"/v1/topics/delivery/ws?scoped=true&target=77", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer other.Close(websocket.StatusNormalClosure, "done")

	readWsFrame(t, ctx, mine)
	readWsFrame(t, ctx, other)

	body := bytes.NewBufferString(`{"title":"run","event":"NEW_DELIVERY_JOB","target_id":"42"}`)
	resp, _ := http.Post(env.srv.URL+"/v1/topics/delivery/notifications", "application/json", body)
	resp.Body.Close()

	for {
		frame := readWsFrame(t, ctx, mine)
		if frame.Event == entity.EventPing {
			continue
		}
		if frame.Event != entity.EventNewDeliveryJob {
			t.Fatalf("scoped subscriber got %q", frame.Event)
		}
		break
	}

	// keepalive is 50ms: several frames cover the delivery window, and every
	// one the other scope sees must be a ping
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if frame := readWsFrame(t, ctx, other); frame.Event != entity.EventPing {
			t.Fatalf("other scope received %q, want only pings", frame.Event)
		}
	}
}

type countingLimiter struct {
	mtx     sync.Mutex
	counter int
}

func (l *countingLimiter) Get(ctx context.Context, consumerID, key string) (int, time.Duration, *types.CommonError) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.counter, time.Minute, nil
}

func (l *countingLimiter) Increment(ctx context.Context, consumerID, key string, expiry time.Duration) *types.CommonError {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.counter++
	return nil
}

func TestStreamSubscribeLimiter(t *testing.T) {
	repo := inmemory.New()
	h := hub.New()
	a := New(h, publisher.New(repo, h), feed.New(repo, 10)).
		WithKeepalive(50 * time.Millisecond).
		WithLimiter(&countingLimiter{}, 2)

	router := httprouter.New()
	a.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	env := &testEnv{srv: srv, hub: h, pub: srv.Client()}

	// the burst allows two streams from the same identity
	openStream(t, env, "/v1/topics/bar/stream")
	openStream(t, env, "/v1/topics/bar/stream")

	resp, err := http.Get(srv.URL + "/v1/topics/bar/stream")
	if err != nil {
		t.Fatalf("third stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %v, want 429", resp.Status)
	}
	var cr types.CommonResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cr.Error == nil || cr.Error.Errors[0].Code != "TOO_MANY_SUBSCRIBES" {
		t.Errorf("error = %+v, want TOO_MANY_SUBSCRIBES", cr.Error)
	}
}

func TestPublishReservedEventRejected(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString(`{"event":"ping"}`)
	resp, err := http.Post(env.srv.URL+"/v1/topics/kitchen/publish", "application/json", body)
	if err != nil {
		t.Fatalf("POST publish: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %v, want 400", resp.Status)
	}
}
