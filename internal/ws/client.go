package ws

import (
	"context"
	"sync"
	"time"

	protocol "speaking-practice/backend/pkg/ws"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

// State is the lifecycle position of a connection
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateInSession
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateInSession:
		return "in_session"
	default:
		return "disconnected"
	}
}

// Client is one realtime connection. It references its session only by id.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	state     State
	userID    string
	sessionID string
}

func newClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		state: StateUnauthenticated,
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// Snapshot returns the connection state, user and session id together
func (c *Client) Snapshot() (State, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.userID, c.sessionID
}

func (c *Client) authenticate(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.state = StateAuthenticated
	c.mu.Unlock()
}

func (c *Client) enter(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.state = StateInSession
	c.mu.Unlock()
}

// exit clears the session and returns the one that was held
func (c *Client) exit() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.sessionID
	c.sessionID = ""
	if c.state == StateInSession {
		c.state = StateAuthenticated
	}
	return prev
}

func (c *Client) disconnect() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return "", false
	}
	c.state = StateDisconnected
	prev := c.sessionID
	c.sessionID = ""
	return prev, true
}

// readPump reads frames and dispatches them in arrival order. It returns
// when the peer goes away or ctx is cancelled.
func (g *Gateway) readPump(ctx context.Context, c *Client) {
	c.conn.SetReadLimit(g.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				g.log.WithConnID(c.id).Warn("connection read failed", "error", err.Error())
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		g.dispatch(ctx, c, data)
	}
}

// writePump drains the send buffer and keeps the connection alive
func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush anything queued meanwhile, one frame per event
			n := len(c.send)
			for i := 0; i < n; i++ {
				extra, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, extra); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends an event straight to this connection through the hub
func (g *Gateway) reply(c *Client, evt protocol.Event) {
	g.hub.ToConn(c.id, evt)
}
