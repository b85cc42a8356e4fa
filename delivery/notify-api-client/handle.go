package notifyapiclient

import (
	"sync"

	"github.com/warunk-dev/resto-core/types/entity"
)

// Handle is one logical subscriber's grip on a shared physical connection.
type Handle struct {
	conn *conn
	once sync.Once
}

// Subscribe registers a handler for frames on the underlying connection.
// With no names the handler is catch-all; otherwise it fires only on exact
// event name matches (error frames are always delivered). The returned
// function removes just this registration and never touches the connection.
func (h *Handle) Subscribe(fn Handler, names ...entity.EventName) (unsubscribe func()) {
	return h.conn.subscribe(fn, names)
}

// Close releases this handle. Only the last holder's Close tears the
// physical connection down; closing the same handle twice is a no-op, so a
// sloppy caller cannot decrement someone else's reference.
func (h *Handle) Close() {
	h.once.Do(func() {
		m := h.conn.mux

		m.mtx.Lock()
		h.conn.refs--
		last := h.conn.refs <= 0
		m.mtx.Unlock()

		if last {
			h.conn.teardown()
		}
	})
}
