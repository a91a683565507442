package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"speaking-practice/backend/internal/conversation"
	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/internal/session"
	"speaking-practice/backend/pkg/config"
	"speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/jwt"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/pkg/middleware"
	protocol "speaking-practice/backend/pkg/ws"
	"speaking-practice/backend/shared/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Sessions is the registry surface the gateway needs
type Sessions interface {
	GetOrCreate(ctx context.Context, sessionID, userID, topicID string) (session.Info, bool, error)
	Join(sessionID, connID string) error
	Leave(sessionID, connID string)
	IsParticipant(sessionID, connID string) bool
	RecentMessages(sessionID string, n int) ([]models.Message, error)
}

// Turns is the orchestrator surface the gateway drives
type Turns interface {
	HandleTextTurn(ctx context.Context, t conversation.Turn) error
	HandleVoiceTurn(ctx context.Context, v conversation.VoiceTurn) error
	EndSession(ctx context.Context, sessionID, connID string) error
}

// Options configures the gateway
type Options struct {
	JoinHistory     int
	MaxMessageBytes int64
	EventRate       float64
	EventBurst      int
	AllowedOrigins  []string
	VoiceEnabled    bool
}

// DefaultOptions returns gateway defaults
func DefaultOptions() Options {
	return Options{
		JoinHistory:     config.DefaultJoinHistory,
		MaxMessageBytes: 4 << 20,
		EventRate:       10,
		EventBurst:      20,
		AllowedOrigins:  []string{"*"},
		VoiceEnabled:    true,
	}
}

// OptionsFromConfig maps application config onto gateway options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		JoinHistory:     cfg.Session.JoinHistory,
		MaxMessageBytes: cfg.Security.MaxMessageBytes,
		EventRate:       cfg.Security.EventRate,
		EventBurst:      cfg.Security.EventBurst,
		AllowedOrigins:  cfg.Security.AllowedOrigins,
		VoiceEnabled:    cfg.Features.EnableVoiceTurns,
	}
}

// Gateway accepts realtime connections and routes their events
type Gateway struct {
	hub      *Hub
	sessions Sessions
	turns    Turns
	tokens   *jwt.Service
	limiter  *middleware.RateLimiter
	upgrader websocket.Upgrader
	routes   map[protocol.EventType]route
	opts     Options
	log      *logger.Logger
	metrics  *observability.Metrics

	// intake is held for reading while an event is dispatched
	intake sync.RWMutex
	closed bool
}

// New creates a gateway. The hub is created by the caller so it can be
// handed to the orchestrator as its notifier first.
func New(hub *Hub, sessions Sessions, turns Turns, tokens *jwt.Service, opts Options, log *logger.Logger, metrics *observability.Metrics) *Gateway {
	def := DefaultOptions()
	if opts.JoinHistory <= 0 {
		opts.JoinHistory = def.JoinHistory
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = def.MaxMessageBytes
	}
	if opts.EventRate <= 0 {
		opts.EventRate = def.EventRate
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = def.EventBurst
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	log = log.WithComponent("gateway")

	g := &Gateway{
		hub:      hub,
		sessions: sessions,
		turns:    turns,
		tokens:   tokens,
		limiter: middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
			Limit:          rate.Limit(opts.EventRate),
			Burst:          opts.EventBurst,
			ExpiryDuration: time.Hour,
		}),
		opts:    opts,
		log:     log,
		metrics: metrics,
	}
	g.upgrader = websocket.Upgrader{
		CheckOrigin:      g.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	g.routes = g.routeTable()
	return g
}

// Hub returns the fan-out hub
func (g *Gateway) Hub() *Hub { return g.hub }

// Run starts the hub and the limiter janitor; it blocks until ctx is done
func (g *Gateway) Run(ctx context.Context) {
	go g.limiter.Run(ctx)
	g.hub.Run(ctx)
}

// Shutdown stops accepting connections and events. It returns once every
// event already being dispatched has handed its work to the orchestrator.
// Open connections stay up so queued turns can still deliver their replies;
// they close when the hub stops.
func (g *Gateway) Shutdown() {
	g.intake.Lock()
	g.closed = true
	g.intake.Unlock()
	g.log.Info("gateway intake stopped")
}

func (g *Gateway) closing() bool {
	g.intake.RLock()
	defer g.intake.RUnlock()
	return g.closed
}

func errShuttingDown() error {
	return errors.NewError(http.StatusServiceUnavailable, errors.CodeInternal, "server is shutting down")
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request. A token may be presented up front through
// ?token= or the Authorization header; otherwise the client must send
// authenticate before anything else.
func (g *Gateway) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = jwt.StripBearer(c.GetHeader("Authorization"))
	}

	if g.closing() {
		c.Error(errShuttingDown())
		c.Abort()
		return
	}

	var userID string
	if token != "" {
		claims, err := g.tokens.ValidateToken(token)
		if err != nil {
			c.Error(errors.Authentication(err.Error()))
			c.Abort()
			return
		}
		userID = claims.UserID
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.LogError(err, "websocket upgrade failed")
		return
	}

	client := newClient(uuid.NewString(), conn)
	if !g.hub.Register(client) {
		conn.Close()
		return
	}
	g.log.WithConnID(client.id).Info("connection established", "pre_authenticated", userID != "")

	if userID != "" {
		client.authenticate(userID)
		g.reply(client, protocol.NewEvent(protocol.EventAuthenticated, protocol.AuthenticatedPayload{UserID: userID}))
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	go writePump(client)
	go func() {
		defer cancel()
		g.readPump(ctx, client)
		g.disconnect(client)
	}()
}

// disconnect leaves any joined session without ending it
func (g *Gateway) disconnect(c *Client) {
	sessionID, ok := c.disconnect()
	if !ok {
		return
	}
	if sessionID != "" {
		g.sessions.Leave(sessionID, c.id)
	}
	g.limiter.Forget(c.id)
	g.hub.Unregister(c)
	c.conn.Close()
	g.log.WithConnID(c.id).Info("connection closed", "session_id", sessionID)
}
