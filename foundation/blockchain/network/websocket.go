package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/peer"
	"github.com/btn-network/blockchain/foundation/validate"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
)

// Settings for the per address circuit breaker.
const (
	breakerFailures = 3
	breakerTimeout  = 30 * time.Second
	writeWait       = 10 * time.Second
)

// WebSocket is the legacy duplex transport. Connections are keyed by peer
// address and every write goes through a circuit breaker for that address.
type WebSocket struct {
	dialer    *websocket.Dialer
	evHandler func(v string, args ...any)

	mu    sync.Mutex
	conns map[string]*wsConn
	wg    sync.WaitGroup
}

type wsConn struct {
	conn    *websocket.Conn
	breaker *gobreaker.CircuitBreaker
	mu      sync.Mutex
}

// NewWebSocket constructs the legacy duplex transport.
func NewWebSocket(evHandler func(v string, args ...any)) *WebSocket {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &WebSocket{
		dialer:    websocket.DefaultDialer,
		evHandler: ev,
		conns:     make(map[string]*wsConn),
	}
}

// Dial opens a connection to the address and starts reading messages from
// it. Every valid message is handed to onMessage along with the address.
// When the connection drops it is forgotten and onClose is called with the
// address.
func (ws *WebSocket) Dial(ctx context.Context, address string, onMessage func(address string, msg Message), onClose func(address string)) error {
	conn, _, err := ws.dialer.DialContext(ctx, address, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", address, err)
	}

	ws.Accept(address, conn, onMessage, onClose)

	return nil
}

// Accept registers an already established connection under the address and
// starts reading messages from it.
func (ws *WebSocket) Accept(address string, conn *websocket.Conn, onMessage func(address string, msg Message), onClose func(address string)) {
	c := ws.newConn(address, conn)

	ws.mu.Lock()
	if old, exists := ws.conns[address]; exists {
		old.conn.Close()
	}
	ws.conns[address] = c
	ws.mu.Unlock()

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		ws.read(address, c, onMessage, onClose)
	}()
}

// Send writes the message as JSON to the connection of the peer address. It
// returns ErrNoConnection when there is no open connection.
func (ws *WebSocket) Send(p peer.Peer, msg Message) error {
	ws.mu.Lock()
	c, exists := ws.conns[p.Address]
	ws.mu.Unlock()

	if !exists {
		return ErrNoConnection
	}

	_, err := c.breaker.Execute(func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return nil, c.conn.WriteJSON(msg)
	})
	if err != nil {
		return fmt.Errorf("writing to %s: %w", p.Address, err)
	}

	return nil
}

// Connected reports whether there is an open connection to the address.
func (ws *WebSocket) Connected(address string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	_, exists := ws.conns[address]
	return exists
}

// Disconnect closes and forgets the connection to the address.
func (ws *WebSocket) Disconnect(address string) {
	ws.mu.Lock()
	c, exists := ws.conns[address]
	delete(ws.conns, address)
	ws.mu.Unlock()

	if exists {
		c.conn.Close()
	}
}

// Close closes every connection and waits for the read loops to return.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	conns := ws.conns
	ws.conns = make(map[string]*wsConn)
	ws.mu.Unlock()

	var errs []error
	for address, c := range conns {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", address, err))
		}
	}

	ws.wg.Wait()

	return errors.Join(errs...)
}

// newConn wraps the connection with a breaker that opens after
// consecutive write failures.
func (ws *WebSocket) newConn(address string, conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    address,
			Timeout: breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				ws.evHandler("network: websocket: breaker[%s]: %s -> %s", name, from, to)
			},
		}),
	}
}

// read decodes every frame from the connection until it fails.
func (ws *WebSocket) read(address string, c *wsConn, onMessage func(address string, msg Message), onClose func(address string)) {
	defer func() {
		ws.mu.Lock()
		if ws.conns[address] == c {
			delete(ws.conns, address)
		}
		ws.mu.Unlock()

		c.conn.Close()

		if onClose != nil {
			onClose(address)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			ws.evHandler("network: websocket: read[%s]: connection closed: %s", address, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.evHandler("network: websocket: read[%s]: ERROR: failed to parse message: %s", address, err)
			continue
		}

		if err := validate.Check(msg); err != nil {
			ws.evHandler("network: websocket: read[%s]: ERROR: invalid message: %s", address, err)
			continue
		}

		onMessage(address, msg)
	}
}
