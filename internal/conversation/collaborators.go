package conversation

import (
	"context"

	"speaking-practice/backend/ai"
	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/internal/session"
	"speaking-practice/backend/pkg/ws"
)

// Generator produces the partner's reply
type Generator interface {
	Generate(ctx context.Context, sessionID, topicID string, history []ai.Turn) (string, error)
}

// Transcriber turns learner audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (ai.Transcription, error)
}

// PronunciationAnalyzer scores learner audio
type PronunciationAnalyzer interface {
	AnalyzePronunciation(ctx context.Context, referenceText, transcript string, audio []byte) (ai.Pronunciation, error)
}

// Evaluator summarises a finished session
type Evaluator interface {
	Evaluate(ctx context.Context, sessionID, topicID string, transcript []ai.Turn) (ai.Evaluation, error)
}

// Collaborators groups the external services. *ai.Client satisfies all four.
type Collaborators struct {
	Generator   Generator
	Transcriber Transcriber
	Analyzer    PronunciationAnalyzer
	Evaluator   Evaluator
}

// Registry is the live-session state the orchestrator drives
type Registry interface {
	Get(sessionID string) (session.Info, error)
	AppendMessage(sessionID string, msg models.Message) (models.Message, int, error)
	RecentMessages(sessionID string, n int) ([]models.Message, error)
	End(ctx context.Context, sessionID string) (session.Info, []models.Message, error)
}

// Notifier delivers events to connections. Implemented by the gateway hub.
type Notifier interface {
	// ToConn sends to one connection
	ToConn(connID string, evt ws.Event)
	// ToRoom sends to every connection joined to the session
	ToRoom(sessionID string, evt ws.Event)
	// ToOthers sends to every joined connection except connID
	ToOthers(sessionID, connID string, evt ws.Event)
	// CloseRoom detaches every connection from an ended session
	CloseRoom(sessionID string)
}

func toTurns(msgs []models.Message) []ai.Turn {
	turns := make([]ai.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, ai.Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}
