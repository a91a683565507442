package ws

import (
	"context"
	"sync"

	"speaking-practice/backend/pkg/logger"
	protocol "speaking-practice/backend/pkg/ws"
	"speaking-practice/backend/shared/observability"
)

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opToConn
	opToRoom
	opCloseRoom
)

// op is a request for the hub goroutine. Ops are applied in the order they
// are submitted, which keeps per-session event order intact.
type op struct {
	kind      opKind
	client    *Client
	connID    string
	sessionID string
	except    string
	payload   []byte
}

// Hub owns the set of connections and the session rooms. All mutation
// happens on the Run goroutine.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	ops        chan op

	done     chan struct{}
	stopOnce sync.Once

	log     *logger.Logger
	metrics *observability.Metrics
}

// NewHub creates a hub. Run must be started before clients register.
func NewHub(log *logger.Logger, metrics *observability.Metrics) *Hub {
	if log == nil {
		log = logger.GetGlobal()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ops:        make(chan op, 1024),
		done:       make(chan struct{}),
		log:        log.WithComponent("hub"),
		metrics:    metrics,
	}
}

// Run processes hub traffic until ctx is cancelled, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c.id] = c
			h.metrics.ConnectionOpened(ctx)
			h.log.Debug("client registered", "conn_id", c.id)

		case c := <-h.unregister:
			h.remove(ctx, c)

		case o := <-h.ops:
			h.apply(ctx, o)
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[string]*Client)
}

func (h *Hub) apply(ctx context.Context, o op) {
	switch o.kind {
	case opJoin:
		if _, ok := h.clients[o.client.id]; !ok {
			return
		}
		room, ok := h.rooms[o.sessionID]
		if !ok {
			room = make(map[string]*Client)
			h.rooms[o.sessionID] = room
		}
		room[o.client.id] = o.client

	case opLeave:
		h.leaveRoom(o.sessionID, o.connID)

	case opToConn:
		if c, ok := h.clients[o.connID]; ok {
			h.deliver(ctx, c, o.payload)
		}

	case opToRoom:
		for id, c := range h.rooms[o.sessionID] {
			if id == o.except {
				continue
			}
			h.deliver(ctx, c, o.payload)
		}

	case opCloseRoom:
		delete(h.rooms, o.sessionID)
	}
}

// deliver queues a frame; a client whose buffer is full is dropped
func (h *Hub) deliver(ctx context.Context, c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.log.Warn("dropping slow client", "conn_id", c.id)
		h.remove(ctx, c)
	}
}

func (h *Hub) remove(ctx context.Context, c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	for sessionID := range h.rooms {
		h.leaveRoom(sessionID, c.id)
	}
	close(c.send)
	h.metrics.ConnectionClosed(ctx)
	h.log.Debug("client unregistered", "conn_id", c.id)
}

func (h *Hub) leaveRoom(sessionID, connID string) {
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

func (h *Hub) submit(o op) {
	select {
	case h.ops <- o:
	case <-h.done:
	}
}

func (h *Hub) encode(evt protocol.Event) ([]byte, bool) {
	data, err := evt.Encode()
	if err != nil {
		h.log.LogError(err, "failed to encode event", "type", string(evt.Type))
		return nil, false
	}
	return data, true
}

// Register adds a client to the hub
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send buffer
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Join puts a connection into a session room
func (h *Hub) Join(sessionID string, c *Client) {
	h.submit(op{kind: opJoin, sessionID: sessionID, client: c})
}

// Leave takes a connection out of a session room
func (h *Hub) Leave(sessionID, connID string) {
	h.submit(op{kind: opLeave, sessionID: sessionID, connID: connID})
}

// ToConn sends an event to one connection
func (h *Hub) ToConn(connID string, evt protocol.Event) {
	if data, ok := h.encode(evt); ok {
		h.submit(op{kind: opToConn, connID: connID, payload: data})
	}
}

// ToRoom broadcasts an event to every connection in the session room
func (h *Hub) ToRoom(sessionID string, evt protocol.Event) {
	if data, ok := h.encode(evt); ok {
		h.submit(op{kind: opToRoom, sessionID: sessionID, payload: data})
	}
}

// ToOthers broadcasts to the room except connID
func (h *Hub) ToOthers(sessionID, connID string, evt protocol.Event) {
	if data, ok := h.encode(evt); ok {
		h.submit(op{kind: opToRoom, sessionID: sessionID, except: connID, payload: data})
	}
}

// CloseRoom drops the room of an ended session. Connections keep their own
// state and may join another session.
func (h *Hub) CloseRoom(sessionID string) {
	h.submit(op{kind: opCloseRoom, sessionID: sessionID})
}
