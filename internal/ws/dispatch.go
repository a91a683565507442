package ws

import (
	"context"
	"strings"

	"speaking-practice/backend/internal/conversation"
	"speaking-practice/backend/pkg/errors"
	protocol "speaking-practice/backend/pkg/ws"

	"github.com/google/uuid"
)

type handlerFunc func(ctx context.Context, c *Client, env protocol.Envelope) error

// route binds an event type to the states it is legal in
type route struct {
	states []State
	handle handlerFunc
}

func (r route) allows(s State) bool {
	for _, st := range r.states {
		if st == s {
			return true
		}
	}
	return false
}

var (
	anyState     = []State{StateUnauthenticated, StateAuthenticated, StateInSession}
	authedStates = []State{StateAuthenticated, StateInSession}
	inSession    = []State{StateInSession}
)

func (g *Gateway) routeTable() map[protocol.EventType]route {
	return map[protocol.EventType]route{
		protocol.EventAuthenticate: {states: []State{StateUnauthenticated}, handle: g.handleAuthenticate},
		protocol.EventJoin:         {states: authedStates, handle: g.handleJoin},
		protocol.EventLeave:        {states: inSession, handle: g.handleLeave},
		protocol.EventMessage:      {states: inSession, handle: g.handleMessage},
		protocol.EventVoice:        {states: inSession, handle: g.handleVoice},
		protocol.EventTyping:       {states: inSession, handle: g.handleTyping},
		protocol.EventEndSession:   {states: inSession, handle: g.handleEndSession},
		protocol.EventPing:         {states: anyState, handle: g.handlePing},
	}
}

// dispatch validates the event against the connection state and runs it.
// Every rejection goes back to the originating connection only.
func (g *Gateway) dispatch(ctx context.Context, c *Client, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		g.fail(ctx, c, "invalid", errors.Validation("malformed event: %v", err))
		return
	}

	g.intake.RLock()
	defer g.intake.RUnlock()
	if g.closed {
		g.fail(ctx, c, string(env.Type), errShuttingDown())
		return
	}

	r, ok := g.routes[env.Type]
	if !ok {
		g.fail(ctx, c, string(env.Type), errors.Validation("unknown event type %q", env.Type))
		return
	}

	if !g.limiter.Allow(c.id) {
		g.fail(ctx, c, string(env.Type), errors.RateLimited())
		return
	}

	state, _, sessionID := c.Snapshot()
	if !r.allows(state) {
		g.fail(ctx, c, string(env.Type), illegalTransition(env.Type, state, sessionID))
		return
	}

	if err := r.handle(ctx, c, env); err != nil {
		g.fail(ctx, c, string(env.Type), err)
		return
	}
	g.metrics.Event(ctx, string(env.Type), "ok")
}

func illegalTransition(t protocol.EventType, s State, sessionID string) error {
	switch {
	case t == protocol.EventAuthenticate:
		return errors.Validation("connection is already authenticated")
	case s == StateUnauthenticated:
		return errors.Authentication("authenticate before sending " + string(t))
	case s == StateAuthenticated:
		return errors.NotInSession(sessionID)
	default:
		return errors.Validation("%s is not allowed in state %s", t, s)
	}
}

func (g *Gateway) fail(ctx context.Context, c *Client, eventType string, err error) {
	appErr := errors.FromError(err)
	g.metrics.Event(ctx, eventType, strings.ToLower(appErr.Code))
	if appErr.StatusCode >= 500 {
		g.log.WithConnID(c.id).LogError(err, "event failed", "type", eventType)
	} else {
		g.log.WithConnID(c.id).Debug("event rejected", "type", eventType, "code", appErr.Code)
	}
	g.reply(c, protocol.ErrorEvent(appErr.Code, appErr.Message))
}

// sessionFor resolves the session an in-session event targets. An empty id
// means the joined session; any other id must match it.
func sessionFor(c *Client, requested string) (string, error) {
	_, _, current := c.Snapshot()
	if requested == "" || requested == current {
		return current, nil
	}
	return "", errors.NotInSession(requested)
}

// memberOf is sessionFor plus a registry membership check. The cached id
// outlives the membership once the session is ended, and a rejoined session
// starts with no participants.
func (g *Gateway) memberOf(c *Client, requested string) (string, error) {
	sessionID, err := sessionFor(c, requested)
	if err != nil {
		return "", err
	}
	if !g.sessions.IsParticipant(sessionID, c.id) {
		return "", errors.NotInSession(sessionID)
	}
	return sessionID, nil
}

func (g *Gateway) handleAuthenticate(_ context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.AuthenticatePayload
	if err := env.Decode(&p); err != nil {
		return errors.Validation("invalid authenticate payload")
	}

	cred := p.Credential()
	if cred == "" {
		g.reply(c, protocol.NewEvent(protocol.EventAuthError, protocol.AuthErrorPayload{Reason: "credentials are required"}))
		return nil
	}
	claims, err := g.tokens.ValidateToken(cred)
	if err != nil {
		g.reply(c, protocol.NewEvent(protocol.EventAuthError, protocol.AuthErrorPayload{Reason: err.Error()}))
		return nil
	}

	c.authenticate(claims.UserID)
	g.reply(c, protocol.NewEvent(protocol.EventAuthenticated, protocol.AuthenticatedPayload{UserID: claims.UserID}))
	return nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.JoinPayload
	if err := env.Decode(&p); err != nil {
		return errors.Validation("invalid join payload")
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	if p.TopicID == "" {
		p.TopicID = conversation.DefaultTopic
	}

	_, userID, current := c.Snapshot()
	info, created, err := g.sessions.GetOrCreate(ctx, p.SessionID, userID, p.TopicID)
	if err != nil {
		return err
	}

	if current != "" && current != info.ID {
		g.sessions.Leave(current, c.id)
		g.hub.Leave(current, c.id)
	}
	if err := g.sessions.Join(info.ID, c.id); err != nil {
		return err
	}
	g.hub.Join(info.ID, c)
	c.enter(info.ID)

	history, err := g.sessions.RecentMessages(info.ID, g.opts.JoinHistory)
	if err != nil {
		return err
	}

	g.log.WithConnID(c.id).Info("joined session", "session_id", info.ID, "created", created)
	g.reply(c, protocol.NewEvent(protocol.EventJoined, protocol.JoinedPayload{
		SessionID: info.ID,
		TopicID:   info.TopicID,
		History:   history,
		Created:   created,
	}))
	return nil
}

func (g *Gateway) handleLeave(_ context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.SessionRef
	if err := env.Decode(&p); err != nil {
		return errors.Validation("invalid leave payload")
	}
	sessionID, err := sessionFor(c, p.SessionID)
	if err != nil {
		return err
	}

	c.exit()
	g.sessions.Leave(sessionID, c.id)
	g.hub.Leave(sessionID, c.id)
	g.reply(c, protocol.NewEvent(protocol.EventLeft, protocol.SessionRef{SessionID: sessionID}))
	return nil
}

func (g *Gateway) handleMessage(ctx context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.MessagePayload
	if err := env.Decode(&p); err != nil {
		return errors.Validation("invalid message payload")
	}
	sessionID, err := g.memberOf(c, p.SessionID)
	if err != nil {
		return err
	}

	_, userID, _ := c.Snapshot()
	return g.turns.HandleTextTurn(ctx, conversation.Turn{
		SessionID:       sessionID,
		UserID:          userID,
		ConnID:          c.id,
		Text:            p.Text,
		ClientMessageID: p.ClientMessageID,
	})
}

func (g *Gateway) handleVoice(ctx context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.VoicePayload
	if err := env.Decode(&p); err != nil {
		g.reply(c, protocol.NewEvent(protocol.EventVoiceError, protocol.VoiceErrorPayload{Reason: "audio could not be decoded"}))
		return nil
	}
	sessionID, err := g.memberOf(c, p.SessionID)
	if err != nil {
		return err
	}
	if !g.opts.VoiceEnabled {
		g.reply(c, protocol.NewEvent(protocol.EventVoiceError, protocol.VoiceErrorPayload{SessionID: sessionID, Reason: "voice turns are disabled"}))
		return nil
	}

	_, userID, _ := c.Snapshot()
	err = g.turns.HandleVoiceTurn(ctx, conversation.VoiceTurn{
		SessionID:       sessionID,
		UserID:          userID,
		ConnID:          c.id,
		Audio:           p.Audio,
		DurationMs:      p.DurationMs,
		Language:        p.Language,
		ReferenceText:   p.ReferenceText,
		ClientMessageID: p.ClientMessageID,
	})
	if errors.Is(err, errors.ErrValidation) {
		g.reply(c, protocol.NewEvent(protocol.EventVoiceError, protocol.VoiceErrorPayload{SessionID: sessionID, Reason: errors.GetErrorMessage(err)}))
		return nil
	}
	return err
}

func (g *Gateway) handleTyping(_ context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.TypingPayload
	if err := env.Decode(&p); err != nil {
		return errors.Validation("invalid typing payload")
	}
	sessionID, err := g.memberOf(c, p.SessionID)
	if err != nil {
		return err
	}

	_, userID, _ := c.Snapshot()
	g.hub.ToOthers(sessionID, c.id, protocol.NewEvent(protocol.EventUserTyping, protocol.UserTypingPayload{
		SessionID: sessionID,
		UserID:    userID,
		Typing:    p.IsTyping,
	}))
	return nil
}

func (g *Gateway) handleEndSession(ctx context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.SessionRef
	if err := env.Decode(&p); err != nil {
		return errors.Validation("invalid endSession payload")
	}
	sessionID, err := g.memberOf(c, p.SessionID)
	if err != nil {
		return err
	}
	return g.turns.EndSession(ctx, sessionID, c.id)
}

func (g *Gateway) handlePing(_ context.Context, c *Client, _ protocol.Envelope) error {
	g.reply(c, protocol.NewEvent(protocol.EventPong, nil))
	return nil
}
