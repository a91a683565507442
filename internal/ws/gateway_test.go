package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"speaking-practice/backend/ai"
	"speaking-practice/backend/internal/conversation"
	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/internal/session"
	"speaking-practice/backend/internal/store"
	"speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/jwt"
	"speaking-practice/backend/pkg/logger"
	protocol "speaking-practice/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAI struct{}

func (echoAI) Generate(_ context.Context, _, _ string, history []ai.Turn) (string, error) {
	return "echo: " + history[len(history)-1].Content, nil
}

func (echoAI) Transcribe(_ context.Context, audio []byte, _ string) (ai.Transcription, error) {
	return ai.Transcription{Text: string(audio), Confidence: 0.8}, nil
}

func (echoAI) AnalyzePronunciation(context.Context, string, string, []byte) (ai.Pronunciation, error) {
	return ai.Pronunciation{Score: 75, Summary: "Good"}, nil
}

func (echoAI) Evaluate(context.Context, string, string, []ai.Turn) (ai.Evaluation, error) {
	return ai.Evaluation{Overall: "Well done", Score: 88}, nil
}

type testServer struct {
	url      string
	tokens   *jwt.Service
	registry *session.Registry
	orch     *conversation.Orchestrator
	gw       *Gateway
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.New(store.NewMemoryBackend(), store.DefaultOptions(), logger.Nop(), nil)
	t.Cleanup(st.Close)
	reg := session.NewRegistry(st, session.DefaultOptions(), logger.Nop(), nil)

	hub := NewHub(logger.Nop(), nil)
	orch := conversation.New(reg, conversation.Collaborators{
		Generator: echoAI{}, Transcriber: echoAI{}, Analyzer: echoAI{}, Evaluator: echoAI{},
	}, hub, conversation.Options{}, logger.Nop(), nil)

	tokens := jwt.NewService("test-secret", "speaking-practice", time.Hour)
	gw := New(hub, reg, orch, tokens, opts, logger.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go gw.Run(ctx)

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.GET("/ws", gw.ServeWS)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		orch.Close()
		cancel()
	})

	return &testServer{url: srv.URL, tokens: tokens, registry: reg, orch: orch, gw: gw}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.tokens.GenerateToken(userID, userID+"@example.com")
	require.NoError(t, err)
	return tok
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.url, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials with a token and consumes the authenticated event
func (s *testServer) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn := s.dial(t, s.token(t, userID))
	expect(t, conn, protocol.EventAuthenticated)
	return conn
}

type frame struct {
	Type protocol.EventType `json:"type"`
	Data json.RawMessage    `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, typ protocol.EventType, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame{Type: typ, Data: raw}))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func expect(t *testing.T, conn *websocket.Conn, typ protocol.EventType) frame {
	t.Helper()
	f := read(t, conn)
	require.Equal(t, typ, f.Type, "payload: %s", string(f.Data))
	return f
}

func expectError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	f := expect(t, conn, protocol.EventError)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, code, p.Code)
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func join(t *testing.T, conn *websocket.Conn, sessionID, topic string) protocol.JoinedPayload {
	t.Helper()
	send(t, conn, protocol.EventJoin, protocol.JoinPayload{SessionID: sessionID, TopicID: topic})
	return decode[protocol.JoinedPayload](t, expect(t, conn, protocol.EventJoined))
}

func TestUpgradeRejectsInvalidToken(t *testing.T) {
	s := newTestServer(t, Options{})

	u := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticateEventFlow(t *testing.T) {
	s := newTestServer(t, Options{})
	conn := s.dial(t, "")

	send(t, conn, protocol.EventJoin, protocol.JoinPayload{SessionID: "s1"})
	expectError(t, conn, errors.CodeAuthentication)

	send(t, conn, protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: "nope"})
	expect(t, conn, protocol.EventAuthError)

	send(t, conn, protocol.EventAuthenticate, protocol.AuthenticatePayload{Credentials: s.token(t, "alice")})
	auth := decode[protocol.AuthenticatedPayload](t, expect(t, conn, protocol.EventAuthenticated))
	assert.Equal(t, "alice", auth.UserID)

	send(t, conn, protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: s.token(t, "alice")})
	expectError(t, conn, errors.CodeValidation)

	joined := join(t, conn, "s1", "restaurant")
	assert.True(t, joined.Created)
	assert.Equal(t, "restaurant", joined.TopicID)
	assert.Empty(t, joined.History)
}

func TestTextTurnOverWebSocket(t *testing.T) {
	s := newTestServer(t, Options{})
	conn := s.connect(t, "alice")
	join(t, conn, "s1", "travel")

	send(t, conn, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "Hello"})

	ack := decode[protocol.MessageAckPayload](t, expect(t, conn, protocol.EventMessageAck))
	require.NotNil(t, ack.Message)
	assert.Equal(t, "Hello", ack.Message.Content)

	typing := decode[protocol.AITypingPayload](t, expect(t, conn, protocol.EventAITyping))
	assert.True(t, typing.Typing)

	resp := decode[protocol.AIResponsePayload](t, expect(t, conn, protocol.EventAIResponse))
	assert.Equal(t, "echo: Hello", resp.Message.Content)

	typing = decode[protocol.AITypingPayload](t, expect(t, conn, protocol.EventAITyping))
	assert.False(t, typing.Typing)

	s.orch.Wait()
	msgs, err := s.registry.Messages("s1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestTwoConnectionsShareTheRoom(t *testing.T) {
	s := newTestServer(t, Options{})
	c1 := s.connect(t, "alice")
	c2 := s.connect(t, "alice")
	join(t, c1, "s1", "travel")
	joined := join(t, c2, "s1", "travel")
	assert.False(t, joined.Created)

	send(t, c1, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "Where is the museum?"})

	ack := decode[protocol.MessageAckPayload](t, expect(t, c1, protocol.EventMessageAck))
	expect(t, c1, protocol.EventAITyping)
	r1 := decode[protocol.AIResponsePayload](t, expect(t, c1, protocol.EventAIResponse))
	expect(t, c1, protocol.EventAITyping)

	nm := decode[protocol.NewMessagePayload](t, expect(t, c2, protocol.EventNewMessage))
	expect(t, c2, protocol.EventAITyping)
	r2 := decode[protocol.AIResponsePayload](t, expect(t, c2, protocol.EventAIResponse))
	expect(t, c2, protocol.EventAITyping)

	require.NotNil(t, ack.Message)
	assert.Equal(t, ack.Message.ID, nm.Message.ID)
	assert.Equal(t, r1.Message.ID, r2.Message.ID)

	s.orch.Wait()
	msgs, err := s.registry.Messages("s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{nm.Message.ID, r2.Message.ID}, []string{msgs[0].ID, msgs[1].ID})
}

func TestTypingGoesToOthersOnly(t *testing.T) {
	s := newTestServer(t, Options{})
	c1 := s.connect(t, "alice")
	c2 := s.connect(t, "alice")
	join(t, c1, "s1", "travel")
	join(t, c2, "s1", "travel")

	send(t, c1, protocol.EventTyping, protocol.TypingPayload{SessionID: "s1", IsTyping: true})
	p := decode[protocol.UserTypingPayload](t, expect(t, c2, protocol.EventUserTyping))
	assert.Equal(t, "alice", p.UserID)
	assert.True(t, p.Typing)

	send(t, c1, protocol.EventPing, nil)
	expect(t, c1, protocol.EventPong)
}

func TestProtocolViolations(t *testing.T) {
	s := newTestServer(t, Options{})
	alice := s.connect(t, "alice")
	bob := s.connect(t, "bob")

	send(t, alice, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "hi"})
	expectError(t, alice, errors.CodeNotInSession)

	join(t, alice, "s1", "travel")

	send(t, bob, protocol.EventJoin, protocol.JoinPayload{SessionID: "s1", TopicID: "travel"})
	expectError(t, bob, errors.CodeUnauthorized)

	send(t, alice, protocol.EventMessage, protocol.MessagePayload{SessionID: "other", Text: "hi"})
	expectError(t, alice, errors.CodeNotInSession)

	send(t, alice, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "  "})
	expectError(t, alice, errors.CodeValidation)

	send(t, alice, "dance", nil)
	expectError(t, alice, errors.CodeValidation)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{oops")))
	expectError(t, alice, errors.CodeValidation)
}

func TestVoiceTurnOverWebSocket(t *testing.T) {
	s := newTestServer(t, Options{})
	conn := s.connect(t, "alice")
	join(t, conn, "s1", "restaurant")

	send(t, conn, protocol.EventVoice, protocol.VoicePayload{SessionID: "s1", Audio: []byte("a table for two"), DurationMs: 1200})

	expect(t, conn, protocol.EventVoiceProcessing)
	processed := decode[protocol.VoiceProcessedPayload](t, expect(t, conn, protocol.EventVoiceProcessed))
	assert.Equal(t, "a table for two", processed.Transcript)
	assert.Equal(t, 75, processed.Score)
	expect(t, conn, protocol.EventMessageAck)
	expect(t, conn, protocol.EventAITyping)
	resp := decode[protocol.AIResponsePayload](t, expect(t, conn, protocol.EventAIResponse))
	require.NotNil(t, resp.Feedback)
	assert.Equal(t, "Good", resp.Feedback.Summary)
	expect(t, conn, protocol.EventAITyping)

	send(t, conn, protocol.EventVoice, protocol.VoicePayload{SessionID: "s1"})
	expect(t, conn, protocol.EventVoiceError)
}

func TestEndSessionBroadcastsSummary(t *testing.T) {
	s := newTestServer(t, Options{})
	c1 := s.connect(t, "alice")
	c2 := s.connect(t, "alice")
	join(t, c1, "s1", "travel")
	join(t, c2, "s1", "travel")

	send(t, c1, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "Hello"})
	send(t, c1, protocol.EventEndSession, protocol.SessionRef{SessionID: "s1"})

	expect(t, c2, protocol.EventNewMessage)
	expect(t, c2, protocol.EventAITyping)
	expect(t, c2, protocol.EventAIResponse)
	expect(t, c2, protocol.EventAITyping)
	ended := decode[protocol.SessionEndedPayload](t, expect(t, c2, protocol.EventSessionEnded))
	assert.Equal(t, 2, ended.MessageCount)
	assert.Equal(t, "Well done", ended.Evaluation.Overall)
	assert.Equal(t, 88, ended.Evaluation.Score)

	// the connection may join another session afterwards
	joined := join(t, c2, "s2", "shopping")
	assert.True(t, joined.Created)
}

func TestEndedSessionRevokesOtherConnections(t *testing.T) {
	s := newTestServer(t, Options{})
	c1 := s.connect(t, "alice")
	c2 := s.connect(t, "alice")
	join(t, c1, "s1", "travel")
	join(t, c2, "s1", "travel")

	send(t, c1, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "Hello"})
	send(t, c1, protocol.EventEndSession, protocol.SessionRef{SessionID: "s1"})
	for _, conn := range []*websocket.Conn{c1, c2} {
		read(t, conn)
		expect(t, conn, protocol.EventAITyping)
		expect(t, conn, protocol.EventAIResponse)
		expect(t, conn, protocol.EventAITyping)
		expect(t, conn, protocol.EventSessionEnded)
	}

	rejoined := join(t, c1, "s1", "travel")
	assert.False(t, rejoined.Created)
	require.Len(t, rejoined.History, 2)

	// c2 still caches s1 but is not a participant of the resumed session
	send(t, c2, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "sneaky"})
	expectError(t, c2, errors.CodeNotInSession)
	send(t, c2, protocol.EventMessage, protocol.MessagePayload{Text: "sneaky"})
	expectError(t, c2, errors.CodeNotInSession)
	send(t, c2, protocol.EventTyping, protocol.TypingPayload{SessionID: "s1", IsTyping: true})
	expectError(t, c2, errors.CodeNotInSession)
	send(t, c2, protocol.EventEndSession, protocol.SessionRef{SessionID: "s1"})
	expectError(t, c2, errors.CodeNotInSession)

	s.orch.Wait()
	info, err := s.registry.Get("s1")
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Len(t, info.Participants, 1)
	assert.Equal(t, 2, info.MessageCount)

	// joining again restores the connection
	join(t, c2, "s1", "travel")
	send(t, c2, protocol.EventTyping, protocol.TypingPayload{SessionID: "s1", IsTyping: true})
	expect(t, c1, protocol.EventUserTyping)
}

func TestJoinReturnsRecentHistory(t *testing.T) {
	s := newTestServer(t, Options{JoinHistory: 3})
	_, _, err := s.registry.GetOrCreate(context.Background(), "s1", "alice", "travel")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, err := s.registry.AppendMessage("s1", models.Message{Role: models.RoleUser, Content: string(rune('a' + i))})
		require.NoError(t, err)
	}

	conn := s.connect(t, "alice")
	joined := join(t, conn, "s1", "travel")
	require.Len(t, joined.History, 3)
	assert.Equal(t, "c", joined.History[0].Content)
	assert.Equal(t, "e", joined.History[2].Content)
}

func TestLeaveAndDisconnectKeepSessionAlive(t *testing.T) {
	s := newTestServer(t, Options{})
	c1 := s.connect(t, "alice")
	joined := join(t, c1, "s1", "travel")
	require.True(t, joined.Created)

	send(t, c1, protocol.EventLeave, protocol.SessionRef{SessionID: "s1"})
	expect(t, c1, protocol.EventLeft)
	send(t, c1, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "hi"})
	expectError(t, c1, errors.CodeNotInSession)

	c2 := s.connect(t, "alice")
	join(t, c2, "s1", "travel")
	info, err := s.registry.Get("s1")
	require.NoError(t, err)
	require.Len(t, info.Participants, 1)

	require.NoError(t, c2.Close())
	assert.Eventually(t, func() bool {
		info, err := s.registry.Get("s1")
		return err == nil && len(info.Participants) == 0 && info.Active
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventRateLimit(t *testing.T) {
	s := newTestServer(t, Options{EventRate: 0.001, EventBurst: 2})
	conn := s.dial(t, "")

	send(t, conn, protocol.EventPing, nil)
	send(t, conn, protocol.EventPing, nil)
	send(t, conn, protocol.EventPing, nil)

	expect(t, conn, protocol.EventPong)
	expect(t, conn, protocol.EventPong)
	expectError(t, conn, errors.CodeRateLimited)
}

func TestShutdownStopsIntake(t *testing.T) {
	s := newTestServer(t, Options{})
	conn := s.connect(t, "alice")
	join(t, conn, "s1", "travel")

	s.gw.Shutdown()

	send(t, conn, protocol.EventMessage, protocol.MessagePayload{SessionID: "s1", Text: "too late"})
	expectError(t, conn, errors.CodeInternal)
	send(t, conn, protocol.EventPing, nil)
	expectError(t, conn, errors.CodeInternal)

	s.orch.Wait()
	msgs, err := s.registry.Messages("s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	u := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?token=" + s.token(t, "alice")
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
