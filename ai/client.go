package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"speaking-practice/backend/pkg/logger"
)

// ErrEmptyReply is returned when the generation service answers with no text
var ErrEmptyReply = errors.New("empty reply from generation service")

// Config configures the collaborator client
type Config struct {
	BaseURL  string
	APIKey   string
	Language string
	// Timeout bounds a single HTTP exchange; callers add their own deadlines
	Timeout time.Duration
}

// Client talks to the external generation, transcription, pronunciation
// and evaluation services over JSON/HTTP
type Client struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	language string
	log      *logger.Logger
}

// NewClient creates a collaborator client
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:5000"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Client{
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		log:      log.WithComponent("ai_client"),
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	c.log.Debug("collaborator call", "path", path, "latency_ms", time.Since(start).Milliseconds())
	return nil
}

// Generate asks for the partner's next reply given the recent context
func (c *Client) Generate(ctx context.Context, sessionID, topicID string, history []Turn) (string, error) {
	var resp generateResponse
	if err := c.post(ctx, "/generate", generateRequest{SessionID: sessionID, TopicID: topicID, Messages: history}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	reply := strings.TrimSpace(resp.Response)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// Transcribe converts audio to text. An empty language uses the client default.
func (c *Client) Transcribe(ctx context.Context, audio []byte, language string) (Transcription, error) {
	if language == "" {
		language = c.language
	}
	var resp Transcription
	err := c.post(ctx, "/transcribe", transcribeRequest{
		AudioData: base64.StdEncoding.EncodeToString(audio),
		Language:  language,
	}, &resp)
	if err != nil {
		return Transcription{}, err
	}
	if resp.Error != "" {
		return Transcription{}, errors.New(resp.Error)
	}
	return resp, nil
}

// AnalyzePronunciation scores the learner's audio against the reference text
func (c *Client) AnalyzePronunciation(ctx context.Context, referenceText, transcript string, audio []byte) (Pronunciation, error) {
	var resp Pronunciation
	err := c.post(ctx, "/pronunciation", pronunciationRequest{
		ReferenceText: referenceText,
		Transcript:    transcript,
		AudioData:     base64.StdEncoding.EncodeToString(audio),
		Language:      c.language,
	}, &resp)
	if err != nil {
		return Pronunciation{}, err
	}
	if resp.Error != "" {
		return Pronunciation{}, errors.New(resp.Error)
	}
	if resp.Score < 0 || resp.Score > 100 {
		return Pronunciation{}, fmt.Errorf("pronunciation score %d out of range", resp.Score)
	}
	return resp, nil
}

// Evaluate summarises a whole session
func (c *Client) Evaluate(ctx context.Context, sessionID, topicID string, transcript []Turn) (Evaluation, error) {
	var resp Evaluation
	if err := c.post(ctx, "/evaluate", evaluateRequest{SessionID: sessionID, TopicID: topicID, Messages: transcript}, &resp); err != nil {
		return Evaluation{}, err
	}
	if resp.Error != "" {
		return Evaluation{}, errors.New(resp.Error)
	}
	return resp, nil
}
