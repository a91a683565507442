package models

import (
	"time"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Modality is how the learner produced a message
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
)

// Message is one immutable entry of a session's conversation log
type Message struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	Modality        Modality  `json:"modality"`
	Analysis        *Analysis `json:"analysis,omitempty"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
}

// Analysis is the pronunciation assessment attached to a voice turn
type Analysis struct {
	Score      int      `json:"score"`
	Confidence float64  `json:"confidence"`
	Transcript string   `json:"transcript"`
	Feedback   Feedback `json:"feedback"`
}

// Feedback is the structured part of an analysis
type Feedback struct {
	Summary     string      `json:"summary"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Words       []WordScore `json:"words,omitempty"`
}

// WordScore scores a single recognised word
type WordScore struct {
	Word  string `json:"word"`
	Score int    `json:"score"`
}

// Clone returns a deep copy so callers cannot mutate a logged message
func (m Message) Clone() Message {
	if m.Analysis != nil {
		a := *m.Analysis
		a.Feedback.Suggestions = append([]string(nil), a.Feedback.Suggestions...)
		a.Feedback.Words = append([]WordScore(nil), a.Feedback.Words...)
		m.Analysis = &a
	}
	return m
}

// CloneMessages deep-copies a message slice
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
