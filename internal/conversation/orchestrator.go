package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/pkg/cache"
	"speaking-practice/backend/pkg/config"
	apperrors "speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/pkg/resilience"
	"speaking-practice/backend/pkg/ws"
	"speaking-practice/backend/shared/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Options tunes the turn pipeline
type Options struct {
	ContextWindow     int
	GenerationTimeout time.Duration
	TranscribeTimeout time.Duration
	DedupeWindow      time.Duration
	MaxTextLength     int
	MaxAudioBytes     int
	FallbackSeed      uint64
}

// DefaultOptions returns the product defaults
func DefaultOptions() Options {
	return Options{
		ContextWindow:     config.DefaultContextWindow,
		GenerationTimeout: config.DefaultGenerationTimeout,
		TranscribeTimeout: config.DefaultTranscribeTimeout,
		DedupeWindow:      config.DefaultDedupeWindow,
		MaxTextLength:     2000,
		MaxAudioBytes:     2 << 20,
	}
}

// Turn is a text turn from a learner connection
type Turn struct {
	SessionID       string
	UserID          string
	ConnID          string
	Text            string
	ClientMessageID string
}

// VoiceTurn is a recorded utterance from a learner connection
type VoiceTurn struct {
	SessionID       string
	UserID          string
	ConnID          string
	Audio           []byte
	DurationMs      int
	Language        string
	ReferenceText   string
	ClientMessageID string
}

// Orchestrator runs conversation turns. At most one turn pipeline is in
// flight per session; later turns wait in that session's lane.
type Orchestrator struct {
	registry Registry
	collab   Collaborators
	notify   Notifier
	opts     Options

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup

	fallbacks *FallbackTable
	dedupe    *cache.Cache[struct{}]

	genBreaker  *resilience.CircuitBreaker
	sttBreaker  *resilience.CircuitBreaker
	pronBreaker *resilience.CircuitBreaker
	evalBreaker *resilience.CircuitBreaker

	tracer  trace.Tracer
	log     *logger.Logger
	metrics *observability.Metrics
}

// New creates an orchestrator
func New(registry Registry, collab Collaborators, notify Notifier, opts Options, log *logger.Logger, metrics *observability.Metrics) *Orchestrator {
	def := DefaultOptions()
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = def.ContextWindow
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = def.GenerationTimeout
	}
	if opts.TranscribeTimeout <= 0 {
		opts.TranscribeTimeout = def.TranscribeTimeout
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = def.DedupeWindow
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = def.MaxTextLength
	}
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = def.MaxAudioBytes
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	// breakers tag themselves
	base := log
	log = log.WithComponent("orchestrator")

	return &Orchestrator{
		registry:  registry,
		collab:    collab,
		notify:    notify,
		opts:      opts,
		lanes:     make(map[string]*lane),
		fallbacks: DefaultFallbacks(opts.FallbackSeed),
		dedupe: cache.New[struct{}](cache.Options{
			DefaultExpiration: opts.DedupeWindow,
			CleanupInterval:   opts.DedupeWindow,
			MaxItems:          50000,
		}),
		genBreaker:  resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("generate"), base),
		sttBreaker:  resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("transcribe"), base),
		pronBreaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("pronunciation"), base),
		evalBreaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("evaluate"), base),
		tracer:      otel.Tracer("speaking-practice/conversation"),
		log:         log,
		metrics:     metrics,
	}
}

// SetFallbacks replaces the canned reply table
func (o *Orchestrator) SetFallbacks(t *FallbackTable) {
	o.fallbacks = t
}

// Breakers exposes collaborator breaker metrics for health reporting
func (o *Orchestrator) Breakers() []resilience.Metrics {
	return []resilience.Metrics{
		o.genBreaker.GetMetrics(),
		o.sttBreaker.GetMetrics(),
		o.pronBreaker.GetMetrics(),
		o.evalBreaker.GetMetrics(),
	}
}

// Wait blocks until every queued turn has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close waits for in-flight turns and stops background work
func (o *Orchestrator) Close() {
	o.wg.Wait()
	o.dedupe.Close()
}

func (o *Orchestrator) activeSession(sessionID string) (string, error) {
	info, err := o.registry.Get(sessionID)
	if err != nil {
		return "", err
	}
	if !info.Active {
		return "", apperrors.SessionNotFound(sessionID)
	}
	return info.TopicID, nil
}

// duplicate reports whether the client already sent this message id recently
func (o *Orchestrator) duplicate(sessionID, connID, clientMessageID string) bool {
	if clientMessageID == "" {
		return false
	}
	if o.dedupe.SetIfAbsent(sessionID+":"+clientMessageID, struct{}{}) {
		return false
	}
	o.notify.ToConn(connID, ws.NewEvent(ws.EventMessageAck, ws.MessageAckPayload{
		SessionID:       sessionID,
		ClientMessageID: clientMessageID,
		Duplicate:       true,
	}))
	return true
}

// HandleTextTurn validates and schedules a text turn. When the session has
// no turn in flight the learner message is appended and acknowledged before
// this returns; otherwise the whole turn waits in the session's lane.
// Reply generation always happens in the background.
func (o *Orchestrator) HandleTextTurn(ctx context.Context, t Turn) error {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return apperrors.Validation("message text is required")
	}
	if len([]rune(text)) > o.opts.MaxTextLength {
		return apperrors.Validation("message exceeds %d characters", o.opts.MaxTextLength)
	}
	t.Text = text

	if _, err := o.activeSession(t.SessionID); err != nil {
		return err
	}
	if o.duplicate(t.SessionID, t.ConnID, t.ClientMessageID) {
		return nil
	}

	j := &job{kind: jobText, ctx: context.WithoutCancel(ctx), text: t, queuedAt: time.Now()}

	if !o.acquire(t.SessionID, j) {
		return nil
	}

	msg, err := o.appendLearner(t.SessionID, t.ConnID, models.Message{
		Role:            models.RoleUser,
		Content:         t.Text,
		Modality:        models.ModalityText,
		ClientMessageID: t.ClientMessageID,
	})
	if err != nil {
		o.start(t.SessionID, nil)
		return err
	}
	j.learner = &msg
	o.start(t.SessionID, j)
	return nil
}

// HandleVoiceTurn validates and schedules a voice turn. voiceProcessing is
// emitted at once; transcription and analysis run inside the session lane.
func (o *Orchestrator) HandleVoiceTurn(ctx context.Context, v VoiceTurn) error {
	if len(v.Audio) == 0 {
		return apperrors.Validation("audio is required")
	}
	if len(v.Audio) > o.opts.MaxAudioBytes {
		return apperrors.Validation("audio exceeds %d bytes", o.opts.MaxAudioBytes)
	}
	if _, err := o.activeSession(v.SessionID); err != nil {
		return err
	}
	if o.duplicate(v.SessionID, v.ConnID, v.ClientMessageID) {
		return nil
	}

	o.notify.ToRoom(v.SessionID, ws.NewEvent(ws.EventVoiceProcessing, ws.SessionRef{SessionID: v.SessionID}))

	j := &job{kind: jobVoice, ctx: context.WithoutCancel(ctx), voice: v, queuedAt: time.Now()}
	if o.acquire(v.SessionID, j) {
		o.start(v.SessionID, j)
	}
	return nil
}

// EndSession schedules the end of a session behind any turns already queued,
// so every pending reply lands before sessionEnded is broadcast.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID, connID string) error {
	if _, err := o.activeSession(sessionID); err != nil {
		return err
	}

	j := &job{kind: jobEnd, ctx: context.WithoutCancel(ctx), end: endRequest{sessionID: sessionID, connID: connID}, queuedAt: time.Now()}
	if o.acquire(sessionID, j) {
		o.start(sessionID, j)
	}
	return nil
}

// appendLearner appends the learner message and acknowledges it
func (o *Orchestrator) appendLearner(sessionID, connID string, msg models.Message) (models.Message, error) {
	stored, _, err := o.registry.AppendMessage(sessionID, msg)
	if err != nil {
		return models.Message{}, err
	}

	ack := stored
	o.notify.ToConn(connID, ws.NewEvent(ws.EventMessageAck, ws.MessageAckPayload{
		SessionID:       sessionID,
		Message:         &ack,
		ClientMessageID: stored.ClientMessageID,
	}))
	o.notify.ToOthers(sessionID, connID, ws.NewEvent(ws.EventNewMessage, ws.NewMessagePayload{
		SessionID: sessionID,
		Message:   stored,
	}))
	return stored, nil
}
