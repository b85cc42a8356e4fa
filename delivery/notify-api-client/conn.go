package notifyapiclient

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/warunk-dev/resto-core/types/entity"
)

type handlerEntry struct {
	fn    Handler
	names map[entity.EventName]struct{} // nil means catch-all
}

// conn is one physical connection shared by refs logical holders.
// refs is guarded by the mux registry lock; handlers by hmtx.
type conn struct {
	key  string
	mux  *Mux
	refs int

	transport Transport
	stateVal  atomic.Int32
	closeOnce sync.Once

	// closed once the dial settles (ready or closed); Opens on the same key
	// wait on it instead of holding the registry lock through the dial
	ready chan struct{}

	hmtx        sync.Mutex
	handlers    map[uint64]handlerEntry
	nextHandler uint64
}

func (c *conn) state() connState {
	return connState(c.stateVal.Load())
}

func (c *conn) setState(s connState) {
	c.stateVal.Store(int32(s))
}

// pump moves frames from the transport to the registered handlers until the
// transport is done, then retires the connection from the registry.
func (c *conn) pump() {
	for frame := range c.transport.Frames() {
		c.dispatch(frame)
	}
	c.teardown()
}

func (c *conn) dispatch(frame Frame) {
	c.hmtx.Lock()
	entries := make([]handlerEntry, 0, len(c.handlers))
	for _, e := range c.handlers {
		entries = append(entries, e)
	}
	c.hmtx.Unlock()

	for _, e := range entries {
		// error frames always reach every handler; a handler with an event
		// name filter otherwise only sees exact name matches
		if frame.Event != entity.EventError && e.names != nil {
			if _, ok := e.names[frame.Event]; !ok {
				continue
			}
		}
		e.fn(frame)
	}
}

func (c *conn) subscribe(fn Handler, names []entity.EventName) func() {
	var filter map[entity.EventName]struct{}
	if len(names) > 0 {
		filter = make(map[entity.EventName]struct{}, len(names))
		for _, n := range names {
			filter[n] = struct{}{}
		}
	}

	c.hmtx.Lock()
	c.nextHandler++
	id := c.nextHandler
	c.handlers[id] = handlerEntry{fn: fn, names: filter}
	c.hmtx.Unlock()

	return func() {
		c.hmtx.Lock()
		delete(c.handlers, id)
		c.hmtx.Unlock()
	}
}

// teardown is terminal; a torn-down conn is never reused. The state flip
// and the registry removal happen under the registry lock so a concurrent
// Open either sees a live conn or dials a fresh one, never a zombie.
func (c *conn) teardown() {
	c.closeOnce.Do(func() {
		c.mux.mtx.Lock()
		c.setState(stateClosed)
		if current, ok := c.mux.conns[c.key]; ok && current == c {
			delete(c.mux.conns, c.key)
		}
		c.mux.mtx.Unlock()
		if err := c.transport.Close(); err != nil {
			log.Debug().Msgf("notify-client: transport close %v: %v", c.key, err)
		}
		log.Debug().Msgf("notify-client: closed physical connection %v", c.key)
	})
}
