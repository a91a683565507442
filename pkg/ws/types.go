package ws

import (
	"encoding/json"
	"fmt"

	"speaking-practice/backend/internal/models"
)

// EventType names a realtime event
type EventType string

// Client to server events
const (
	EventAuthenticate EventType = "authenticate"
	EventJoin         EventType = "join"
	EventLeave        EventType = "leave"
	EventMessage      EventType = "message"
	EventVoice        EventType = "voice"
	EventTyping       EventType = "typing"
	EventEndSession   EventType = "endSession"
	EventPing         EventType = "ping"
)

// Server to client events
const (
	EventAuthenticated   EventType = "authenticated"
	EventAuthError       EventType = "authError"
	EventJoined          EventType = "joined"
	EventLeft            EventType = "left"
	EventMessageAck      EventType = "messageAck"
	EventNewMessage      EventType = "newMessage"
	EventAITyping        EventType = "aiTyping"
	EventAIResponse      EventType = "aiResponse"
	EventVoiceProcessing EventType = "voiceProcessing"
	EventVoiceProcessed  EventType = "voiceProcessed"
	EventVoiceError      EventType = "voiceError"
	EventUserTyping      EventType = "userTyping"
	EventSessionEnded    EventType = "sessionEnded"
	EventError           EventType = "error"
	EventPong            EventType = "pong"
)

// Envelope is the frame every event travels in
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope reads one inbound frame
func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("missing event type")
	}
	return env, nil
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// Event is an outbound event before encoding
type Event struct {
	Type EventType
	Data any
}

// NewEvent builds an outbound event
func NewEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data}
}

// Encode renders the event as an envelope
func (e Event) Encode() ([]byte, error) {
	out := struct {
		Type EventType `json:"type"`
		Data any       `json:"data,omitempty"`
	}{e.Type, e.Data}
	return json.Marshal(out)
}

// AuthenticatePayload carries the bearer token. Credentials is accepted as an alias.
type AuthenticatePayload struct {
	Token       string `json:"token"`
	Credentials string `json:"credentials,omitempty"`
}

// Credential returns whichever field the client filled in
func (p AuthenticatePayload) Credential() string {
	if p.Token != "" {
		return p.Token
	}
	return p.Credentials
}

type JoinPayload struct {
	SessionID string `json:"sessionId"`
	TopicID   string `json:"topicId"`
}

type SessionRef struct {
	SessionID string `json:"sessionId"`
}

type MessagePayload struct {
	SessionID       string `json:"sessionId"`
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// VoicePayload carries base64 audio; []byte fields decode from base64 in JSON
type VoicePayload struct {
	SessionID       string `json:"sessionId"`
	Audio           []byte `json:"audio"`
	DurationMs      int    `json:"durationMs"`
	Language        string `json:"language,omitempty"`
	ReferenceText   string `json:"referenceText,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type TypingPayload struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
}

type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

type AuthErrorPayload struct {
	Reason string `json:"reason"`
}

type JoinedPayload struct {
	SessionID string           `json:"sessionId"`
	TopicID   string           `json:"topicId"`
	History   []models.Message `json:"history"`
	Created   bool             `json:"created"`
}

type MessageAckPayload struct {
	SessionID       string          `json:"sessionId"`
	Message         *models.Message `json:"message,omitempty"`
	ClientMessageID string          `json:"clientMessageId,omitempty"`
	Duplicate       bool            `json:"duplicate,omitempty"`
}

type NewMessagePayload struct {
	SessionID string         `json:"sessionId"`
	Message   models.Message `json:"message"`
}

type AITypingPayload struct {
	SessionID string `json:"sessionId"`
	Typing    bool   `json:"typing"`
}

type AIResponsePayload struct {
	SessionID string           `json:"sessionId"`
	Message   models.Message   `json:"message"`
	Feedback  *models.Feedback `json:"feedback,omitempty"`
	Fallback  bool             `json:"fallback,omitempty"`
}

type VoiceProcessedPayload struct {
	SessionID  string          `json:"sessionId"`
	Transcript string          `json:"transcript"`
	Confidence float64         `json:"confidence"`
	Score      int             `json:"score"`
	Feedback   models.Feedback `json:"feedback"`
	Fallback   bool            `json:"fallback,omitempty"`
}

type VoiceErrorPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type UserTypingPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Typing    bool   `json:"typing"`
}

type SessionEndedPayload struct {
	SessionID    string            `json:"sessionId"`
	Duration     int64             `json:"duration"` // milliseconds
	MessageCount int               `json:"messageCount"`
	Evaluation   models.Evaluation `json:"evaluation"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEvent renders an error event
func ErrorEvent(code, message string) Event {
	return NewEvent(EventError, ErrorPayload{Code: code, Message: message})
}
