package ws

import (
	"context"
	"testing"
	"time"

	"speaking-practice/backend/pkg/logger"
	protocol "speaking-practice/backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(logger.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func recv(t *testing.T, c *Client) (string, bool) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		return string(data), ok
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return "", false
	}
}

func TestHubRoomFanOut(t *testing.T) {
	h := startHub(t)
	a, b, outsider := newClient("a", nil), newClient("b", nil), newClient("x", nil)
	for _, c := range []*Client{a, b, outsider} {
		require.True(t, h.Register(c))
	}
	h.Join("s1", a)
	h.Join("s1", b)

	h.ToOthers("s1", "a", protocol.NewEvent(protocol.EventPong, nil))
	h.ToRoom("s1", protocol.NewEvent(protocol.EventAITyping, protocol.AITypingPayload{SessionID: "s1", Typing: true}))
	h.ToConn("x", protocol.NewEvent(protocol.EventPong, nil))

	frame, _ := recv(t, b)
	assert.JSONEq(t, `{"type":"pong"}`, frame)
	frame, _ = recv(t, b)
	assert.Contains(t, frame, "aiTyping")
	frame, _ = recv(t, a)
	assert.Contains(t, frame, "aiTyping")
	frame, _ = recv(t, outsider)
	assert.JSONEq(t, `{"type":"pong"}`, frame)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := startHub(t)
	slow := newClient("slow", nil)
	require.True(t, h.Register(slow))

	for i := 0; i < sendBuffer+1; i++ {
		h.ToConn("slow", protocol.NewEvent(protocol.EventPong, nil))
	}

	assert.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-slow.send:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseRoom(t *testing.T) {
	h := startHub(t)
	a := newClient("a", nil)
	require.True(t, h.Register(a))
	h.Join("s1", a)
	h.CloseRoom("s1")
	h.ToRoom("s1", protocol.NewEvent(protocol.EventPong, nil))
	h.ToConn("a", protocol.NewEvent(protocol.EventAITyping, nil))

	frame, _ := recv(t, a)
	assert.Contains(t, frame, "aiTyping")
}
