package models

// Evaluation is the end-of-session summary shown to the learner
type Evaluation struct {
	Overall      string   `json:"overall"`
	Score        int      `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Fallback     bool     `json:"fallback,omitempty"`
}
