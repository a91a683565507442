package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"speaking-practice/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, logger.Nop())
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "restaurant", req.TopicID)
		require.Len(t, req.Messages, 1)

		json.NewEncoder(w).Encode(generateResponse{Response: " Welcome! "})
	})

	reply, err := c.Generate(context.Background(), "s1", "restaurant", []Turn{{Role: "user", Content: "Hello"}})
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", reply)
}

func TestGenerateErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{})
	})
	_, err := c.Generate(context.Background(), "s1", "t", nil)
	assert.ErrorIs(t, err, ErrEmptyReply)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err = c.Generate(context.Background(), "s1", "t", nil)
	assert.ErrorContains(t, err, "503")
}

func TestTranscribeSendsBase64Audio(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req transcribeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got, err := base64.StdEncoding.DecodeString(req.AudioData)
		require.NoError(t, err)
		assert.Equal(t, audio, got)
		assert.Equal(t, "en-US", req.Language)
		json.NewEncoder(w).Encode(Transcription{Text: "hello", Confidence: 0.9})
	})

	tr, err := c.Transcribe(context.Background(), audio, "")
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)
	assert.InDelta(t, 0.9, tr.Confidence, 0.0001)
}

func TestAnalyzePronunciationRejectsBadScore(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Pronunciation{Score: 140})
	})
	_, err := c.AnalyzePronunciation(context.Background(), "", "hi", []byte{1})
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evaluate", r.URL.Path)
		json.NewEncoder(w).Encode(Evaluation{Overall: "Good", Score: 80, Strengths: []string{"fluency"}})
	})
	ev, err := c.Evaluate(context.Background(), "s1", "t", []Turn{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 80, ev.Score)
}
