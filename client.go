/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection states. Closed is terminal; connection ids are never
// reused, so a reconnecting client is always a brand-new connection.
const (
	stateConnecting int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

// Client owns the network I/O for one connection. Reads happen on the
// goroutine that called readPump; writes are serialized through the
// single writePump goroutine draining the bounded send queue, so no two
// goroutines ever touch the socket concurrently.
type Client struct {
	id   string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}

	state atomic.Int32

	closeOnce sync.Once

	cfg         *Config
	registry    *Registry
	broadcaster *Broadcaster
	router      *Router
}

func newClient(cfg *Config, conn *websocket.Conn, registry *Registry, broadcaster *Broadcaster, router *Router) *Client {
	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, cfg.queueSize),
		done:        make(chan struct{}),
		cfg:         cfg,
		registry:    registry,
		broadcaster: broadcaster,
		router:      router,
	}
}

// Enqueue hands an outbound frame to the write pump without blocking.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// close transitions the connection to Closing, unblocks both pumps, and
// deregisters it. If a username was set, the remaining connections get
// exactly one leave event. Safe to call from either pump, or twice.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosing)

		close(c.done)
		_ = c.conn.Close()

		c.broadcaster.detach(c.id)
		username, hadUsername := c.registry.unregister(c.id)

		if hadUsername {
			frame, err := newPresenceFrame(presenceLeave, username)
			if err == nil {
				c.broadcaster.broadcast(c.registry.list(), frame)
			}
			logf(c.cfg, "RELAY: %q left as %s", username, c.id)
		} else {
			logf(c.cfg, "RELAY: Connection %s closed before join", c.id)
		}

		c.state.Store(stateClosed)
	})
}

// readPump delivers inbound frames to the router until the transport
// errors, the peer closes, or the idle deadline expires.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.cfg.maxMessageSize)

	refreshDeadline := func() {
		if c.cfg.idleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.idleTimeout))
		}
	}

	refreshDeadline()
	c.conn.SetPongHandler(func(string) error {
		refreshDeadline()
		return nil
	})

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		refreshDeadline()

		if messageType != websocket.TextMessage {
			continue
		}

		c.router.handleInbound(c.id, frame)
	}
}

// writePump is the sole writer for the socket. Pings keep half-open
// connections detectable within the idle window.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval())
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) pingInterval() time.Duration {
	if c.cfg.idleTimeout > 0 {
		return c.cfg.idleTimeout * 9 / 10
	}
	return 30 * time.Second
}

// serveRelay upgrades the request and runs the connection through its
// lifecycle: register, pump, and clean up on the way out.
func serveRelay(cfg *Config, registry *Registry, broadcaster *Broadcaster, router *Router) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "RELAY: Upgrade failed for %s: %v", realIP(r), err)
			return
		}

		client := newClient(cfg, conn, registry, broadcaster, router)
		client.state.Store(stateConnecting)

		if err := registry.register(client.id); err != nil {
			logf(cfg, "RELAY: %v for %s", err, client.id)
			_ = conn.Close()
			return
		}

		broadcaster.attach(client.id, client)
		client.state.Store(stateOpen)

		logf(cfg, "RELAY: Connection %s opened from %s", client.id, realIP(r))

		go client.writePump()
		client.readPump()
	}
}
