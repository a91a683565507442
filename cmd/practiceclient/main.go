package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"speaking-practice/backend/pkg/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8081", "Server base URL")
	token := flag.String("token", "", "Bearer token; a development token is requested when empty")
	userID := flag.String("user", "learner-1", "User id for the development token")
	topicID := flag.String("topic", "restaurant", "Practice topic")
	sessionID := flag.String("session", "", "Session id to resume; a new one is created when empty")
	flag.Parse()

	if *token == "" {
		t, err := devToken(*serverURL, *userID)
		if err != nil {
			log.Fatalf("could not obtain development token: %v", err)
		}
		*token = t
	}

	wsURL, err := websocketURL(*serverURL, *token)
	if err != nil {
		log.Fatalf("bad server url: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("read: %v", err)
				}
				return
			}
			printEvent(frame)
		}
	}()

	send := func(t ws.EventType, data any) {
		if err := conn.WriteJSON(map[string]any{"type": t, "data": data}); err != nil {
			log.Printf("write: %v", err)
		}
	}

	send(ws.EventJoin, ws.JoinPayload{SessionID: *sessionID, TopicID: *topicID})

	fmt.Println("Type a message and press enter. Commands: /voice <file> [reference text], /end, /quit")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			closeConn(conn, done)
			return
		case line, ok := <-lines:
			if !ok {
				closeConn(conn, done)
				return
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			switch cmd.kind {
			case commandNone:
			case commandQuit:
				closeConn(conn, done)
				return
			case commandEnd:
				send(ws.EventEndSession, ws.SessionRef{})
			case commandText:
				send(ws.EventMessage, ws.MessagePayload{Text: cmd.text, ClientMessageID: uuid.NewString()})
			case commandVoice:
				audio, err := os.ReadFile(cmd.file)
				if err != nil {
					fmt.Printf("cannot read %s: %v\n", cmd.file, err)
					continue
				}
				send(ws.EventVoice, ws.VoicePayload{
					Audio:           audio,
					ReferenceText:   cmd.text,
					ClientMessageID: uuid.NewString(),
				})
			}
		}
	}
}

func closeConn(conn *websocket.Conn, done <-chan struct{}) {
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func devToken(serverURL, userID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"userId": userID})
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func websocketURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printEvent(frame []byte) {
	env, err := ws.ParseEnvelope(frame)
	if err != nil {
		fmt.Printf("<< %s\n", frame)
		return
	}

	switch env.Type {
	case ws.EventAIResponse:
		var p ws.AIResponsePayload
		if env.Decode(&p) == nil {
			fmt.Printf("partner: %s\n", p.Message.Content)
			return
		}
	case ws.EventVoiceProcessed:
		var p ws.VoiceProcessedPayload
		if env.Decode(&p) == nil {
			fmt.Printf("heard %q (score %d): %s\n", p.Transcript, p.Score, p.Feedback.Summary)
			return
		}
	case ws.EventSessionEnded:
		var p ws.SessionEndedPayload
		if env.Decode(&p) == nil {
			fmt.Printf("session ended after %s with %d messages, score %d: %s\n",
				time.Duration(p.Duration)*time.Millisecond, p.MessageCount, p.Evaluation.Score, p.Evaluation.Overall)
			return
		}
	case ws.EventAITyping:
		return
	}
	fmt.Printf("<< %s %s\n", env.Type, env.Data)
}
