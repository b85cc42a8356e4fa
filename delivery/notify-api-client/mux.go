// Package notifyapiclient is the consumer side of the notification stream.
// Many independent call sites (panels, widgets, background refreshers) want
// the same topic; the Mux guarantees at most one physical connection per
// distinct (topic, scope) pair and reference-counts the holders.
package notifyapiclient

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/warunk-dev/resto-core/types/entity"
)

type connState int32

const (
	stateOpening connState = iota
	stateReady
	stateClosed
)

type Handler func(Frame)

type Mux struct {
	dialer Dialer

	mtx   sync.Mutex
	conns map[string]*conn
}

func NewMux(dialer Dialer) *Mux {
	return &Mux{
		dialer: dialer,
		conns:  make(map[string]*conn),
	}
}

// Open returns a handle on the shared physical connection for (topic,
// scope), dialing one if none is open. A connection that reached the closed
// state is never reused; a fresh one is dialed instead.
//
// The dial happens outside the registry lock: a placeholder conn in the
// opening state claims the key first, so concurrent Opens on the same key
// wait for that one dial while Opens on other keys proceed independently.
func (m *Mux) Open(ctx context.Context, topic string, scope entity.Scope) (*Handle, error) {
	key := connKey(topic, scope)

	for {
		m.mtx.Lock()
		if c, ok := m.conns[key]; ok && c.state() != stateClosed {
			if c.state() == stateOpening {
				ready := c.ready
				m.mtx.Unlock()
				select {
				case <-ready:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue // dial finished; re-check whether it succeeded
			}
			c.refs++
			m.mtx.Unlock()
			return &Handle{conn: c}, nil
		}

		c := &conn{
			key:      key,
			mux:      m,
			refs:     1,
			handlers: make(map[uint64]handlerEntry),
			ready:    make(chan struct{}),
		}
		m.conns[key] = c
		m.mtx.Unlock()

		transport, err := m.dialer.Dial(ctx, strings.ToUpper(topic), scope)

		m.mtx.Lock()
		if err != nil {
			c.setState(stateClosed)
			if current, ok := m.conns[key]; ok && current == c {
				delete(m.conns, key)
			}
			close(c.ready)
			m.mtx.Unlock()
			return nil, err
		}
		c.transport = transport
		c.setState(stateReady)
		close(c.ready)
		m.mtx.Unlock()

		go c.pump()

		log.Debug().Msgf("notify-client: opened physical connection %v", key)

		return &Handle{conn: c}, nil
	}
}

// Len reports the number of live physical connections.
func (m *Mux) Len() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.conns)
}

func connKey(topic string, scope entity.Scope) string {
	return strings.ToUpper(topic) + "|" + scope.Key()
}
