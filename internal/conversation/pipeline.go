package conversation

import (
	"context"
	"strings"
	"time"

	"speaking-practice/backend/ai"
	"speaking-practice/backend/internal/models"
	apperrors "speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/ws"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Neutral analysis used when the audio could not be scored
const (
	neutralScore    = 50
	neutralFeedback = "Nice effort! Keep practicing and try speaking a little more slowly and clearly."
)

func (o *Orchestrator) runText(sessionID string, j *job) {
	ctx, span := o.tracer.Start(j.ctx, "conversation.text_turn")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer span.End()

	if j.learner == nil {
		msg, err := o.appendLearner(sessionID, j.text.ConnID, models.Message{
			Role:            models.RoleUser,
			Content:         j.text.Text,
			Modality:        models.ModalityText,
			ClientMessageID: j.text.ClientMessageID,
		})
		if err != nil {
			o.rejectQueued(sessionID, j.text.ConnID, err)
			return
		}
		j.learner = &msg
	}

	o.reply(ctx, sessionID, j.learner.Content, nil)
	o.metrics.TurnCompleted(ctx, string(models.ModalityText), time.Since(j.queuedAt).Seconds())
}

func (o *Orchestrator) runVoice(sessionID string, j *job) {
	v := j.voice
	ctx, span := o.tracer.Start(j.ctx, "conversation.voice_turn")
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.Int("audio.bytes", len(v.Audio)))
	defer span.End()

	language := v.Language
	tr, err := call(ctx, o.sttBreaker, o.opts.TranscribeTimeout, func(ctx context.Context) (ai.Transcription, error) {
		return o.collab.Transcriber.Transcribe(ctx, v.Audio, language)
	})
	transcriptFallback := false
	if err != nil {
		o.log.WithSessionID(sessionID).Warn("transcription failed, treating audio as unintelligible", "error", err.Error())
		o.metrics.Fallback(ctx, "transcribe")
		span.RecordError(apperrors.TranscriptionFailure(err))
		tr = ai.Transcription{}
		transcriptFallback = true
	}
	transcript := strings.TrimSpace(tr.Text)
	confidence := tr.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	analysis := models.Analysis{
		Score:      neutralScore,
		Confidence: confidence,
		Transcript: transcript,
		Feedback:   models.Feedback{Summary: neutralFeedback},
	}
	analysisFallback := true
	if transcript != "" && o.collab.Analyzer != nil {
		p, err := call(ctx, o.pronBreaker, o.opts.TranscribeTimeout, func(ctx context.Context) (ai.Pronunciation, error) {
			return o.collab.Analyzer.AnalyzePronunciation(ctx, v.ReferenceText, transcript, v.Audio)
		})
		if err != nil {
			o.log.WithSessionID(sessionID).Warn("pronunciation analysis failed, using neutral score", "error", err.Error())
			o.metrics.Fallback(ctx, "pronunciation")
		} else {
			analysis.Score = clampScore(p.Score)
			analysis.Feedback = toFeedback(p)
			analysisFallback = false
		}
	}

	msg, _, err := o.registry.AppendMessage(sessionID, models.Message{
		Role:            models.RoleUser,
		Content:         transcript,
		Modality:        models.ModalityVoice,
		Analysis:        &analysis,
		ClientMessageID: v.ClientMessageID,
	})
	if err != nil {
		o.log.WithSessionID(sessionID).LogError(err, "voice turn could not be recorded")
		o.notify.ToConn(v.ConnID, ws.NewEvent(ws.EventVoiceError, ws.VoiceErrorPayload{
			SessionID: sessionID,
			Reason:    apperrors.GetErrorMessage(err),
		}))
		return
	}

	o.notify.ToRoom(sessionID, ws.NewEvent(ws.EventVoiceProcessed, ws.VoiceProcessedPayload{
		SessionID:  sessionID,
		Transcript: transcript,
		Confidence: confidence,
		Score:      analysis.Score,
		Feedback:   analysis.Feedback,
		Fallback:   transcriptFallback || analysisFallback,
	}))

	ack := msg
	o.notify.ToConn(v.ConnID, ws.NewEvent(ws.EventMessageAck, ws.MessageAckPayload{
		SessionID:       sessionID,
		Message:         &ack,
		ClientMessageID: v.ClientMessageID,
	}))
	o.notify.ToOthers(sessionID, v.ConnID, ws.NewEvent(ws.EventNewMessage, ws.NewMessagePayload{
		SessionID: sessionID,
		Message:   msg,
	}))

	feedback := analysis.Feedback
	o.reply(ctx, sessionID, transcript, &feedback)
	o.metrics.TurnCompleted(ctx, string(models.ModalityVoice), time.Since(j.queuedAt).Seconds())
}

// reply generates and broadcasts the partner's answer. A reply is always
// produced: failures and empty answers fall back to the canned table, and
// aiTyping is always cleared.
func (o *Orchestrator) reply(ctx context.Context, sessionID, learnerText string, feedback *models.Feedback) {
	o.notify.ToRoom(sessionID, ws.NewEvent(ws.EventAITyping, ws.AITypingPayload{SessionID: sessionID, Typing: true}))
	defer o.notify.ToRoom(sessionID, ws.NewEvent(ws.EventAITyping, ws.AITypingPayload{SessionID: sessionID, Typing: false}))

	info, err := o.registry.Get(sessionID)
	if err != nil {
		o.log.WithSessionID(sessionID).Warn("session vanished before reply", "error", err.Error())
		return
	}

	history, err := o.registry.RecentMessages(sessionID, o.opts.ContextWindow)
	if err != nil {
		o.log.WithSessionID(sessionID).Warn("session vanished before reply", "error", err.Error())
		return
	}

	ctx, span := o.tracer.Start(ctx, "conversation.generate")
	text, err := call(ctx, o.genBreaker, o.opts.GenerationTimeout, func(ctx context.Context) (string, error) {
		return o.collab.Generator.Generate(ctx, sessionID, info.TopicID, toTurns(history))
	})
	text = strings.TrimSpace(text)
	fallback := false
	if err != nil || text == "" {
		if err == nil {
			err = ai.ErrEmptyReply
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation fell back")
		o.log.WithSessionID(sessionID).Warn("generation failed, using fallback reply", "error", err.Error())
		o.metrics.Fallback(ctx, "generate")
		text = o.fallbacks.Reply(info.TopicID, ClassifyIntent(learnerText), sessionID, info.MessageCount)
		fallback = true
	}
	span.End()

	msg, _, err := o.registry.AppendMessage(sessionID, models.Message{
		Role:     models.RoleAssistant,
		Content:  text,
		Modality: models.ModalityText,
	})
	if err != nil {
		o.log.WithSessionID(sessionID).LogError(err, "reply could not be recorded")
		return
	}

	o.notify.ToRoom(sessionID, ws.NewEvent(ws.EventAIResponse, ws.AIResponsePayload{
		SessionID: sessionID,
		Message:   msg,
		Feedback:  feedback,
		Fallback:  fallback,
	}))
}

// runEnd closes the session after every earlier turn has finished
func (o *Orchestrator) runEnd(sessionID string, j *job) {
	ctx, span := o.tracer.Start(j.ctx, "conversation.end_session")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer span.End()

	info, messages, err := o.registry.End(ctx, sessionID)
	if err != nil && info.ID == "" {
		o.notify.ToConn(j.end.connID, ws.ErrorEvent(apperrors.GetErrorCode(err), apperrors.GetErrorMessage(err)))
		return
	}
	if err != nil {
		// the session is over even if the final snapshot did not land
		o.log.WithSessionID(sessionID).LogError(err, "final snapshot failed")
	}

	evaluation := o.EvaluateSession(ctx, sessionID, info.TopicID, messages)
	o.notify.ToRoom(sessionID, ws.NewEvent(ws.EventSessionEnded, ws.SessionEndedPayload{
		SessionID:    sessionID,
		Duration:     info.Duration().Milliseconds(),
		MessageCount: len(messages),
		Evaluation:   evaluation,
	}))
	o.notify.CloseRoom(sessionID)
}

// rejectQueued reports a queued turn that could not be recorded
func (o *Orchestrator) rejectQueued(sessionID, connID string, err error) {
	o.log.WithSessionID(sessionID).Warn("queued turn rejected", "error", err.Error())
	o.notify.ToConn(connID, ws.ErrorEvent(apperrors.GetErrorCode(err), apperrors.GetErrorMessage(err)))
}

func toFeedback(p ai.Pronunciation) models.Feedback {
	fb := models.Feedback{Summary: p.Summary, Suggestions: p.Suggestions}
	if fb.Summary == "" {
		fb.Summary = neutralFeedback
	}
	for _, w := range p.Words {
		fb.Words = append(fb.Words, models.WordScore{Word: w.Word, Score: clampScore(w.Score)})
	}
	return fb
}
