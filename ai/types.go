package ai

// Turn is one message of context sent to the generation service
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	SessionID string `json:"session_id,omitempty"`
	TopicID   string `json:"topic_id"`
	Messages  []Turn `json:"messages"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type transcribeRequest struct {
	AudioData string `json:"audio_data"`
	Language  string `json:"language"`
}

// Transcription is the speech-to-text result
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

type pronunciationRequest struct {
	ReferenceText string `json:"reference_text,omitempty"`
	Transcript    string `json:"transcript"`
	AudioData     string `json:"audio_data"`
	Language      string `json:"language"`
}

// WordScore scores one recognised word
type WordScore struct {
	Word  string `json:"word"`
	Score int    `json:"score"`
}

// Pronunciation is the analysis result; Score is 0-100
type Pronunciation struct {
	Score       int         `json:"score"`
	Summary     string      `json:"summary"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Words       []WordScore `json:"words,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type evaluateRequest struct {
	SessionID string `json:"session_id"`
	TopicID   string `json:"topic_id"`
	Messages  []Turn `json:"messages"`
}

// Evaluation is the end-of-session summary
type Evaluation struct {
	Overall      string   `json:"overall"`
	Score        int      `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Error        string   `json:"error,omitempty"`
}
