package conversation

import (
	"context"

	"speaking-practice/backend/internal/models"
)

// DefaultEvaluation is returned whenever the evaluator cannot produce one
func DefaultEvaluation() models.Evaluation {
	return models.Evaluation{
		Overall:      "Thanks for practicing! Keep having conversations like this one to build confidence.",
		Score:        70,
		Strengths:    []string{"You kept the conversation going", "You responded to every prompt"},
		Improvements: []string{"Try using longer sentences", "Practice new vocabulary from this topic"},
		Fallback:     true,
	}
}

// EvaluateSession summarises a finished session. It never fails: any
// collaborator error yields DefaultEvaluation.
func (o *Orchestrator) EvaluateSession(ctx context.Context, sessionID, topicID string, messages []models.Message) models.Evaluation {
	hasLearnerTurn := false
	for _, m := range messages {
		if m.Role == models.RoleUser {
			hasLearnerTurn = true
			break
		}
	}
	if !hasLearnerTurn || o.collab.Evaluator == nil {
		return DefaultEvaluation()
	}

	ctx, span := o.tracer.Start(ctx, "conversation.evaluate")
	defer span.End()

	res, err := call(ctx, o.evalBreaker, o.opts.GenerationTimeout, func(ctx context.Context) (models.Evaluation, error) {
		ev, err := o.collab.Evaluator.Evaluate(ctx, sessionID, topicID, toTurns(messages))
		if err != nil {
			return models.Evaluation{}, err
		}
		return models.Evaluation{
			Overall:      ev.Overall,
			Score:        clampScore(ev.Score),
			Strengths:    ev.Strengths,
			Improvements: ev.Improvements,
		}, nil
	})
	if err != nil || res.Overall == "" {
		o.log.WithSessionID(sessionID).Warn("evaluation fell back to default", "error", errString(err))
		o.metrics.Fallback(ctx, "evaluate")
		return DefaultEvaluation()
	}
	return res
}

func clampScore(s int) int {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
