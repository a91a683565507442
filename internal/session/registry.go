package session

import (
	"context"
	"sync"
	"time"

	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/internal/store"
	"speaking-practice/backend/pkg/config"
	apperrors "speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/shared/observability"

	"github.com/google/uuid"
)

// Snapshotter is the part of the Store the registry persists through
type Snapshotter interface {
	Save(ctx context.Context, snap store.Snapshot) (*models.SessionRecord, error)
	Restore(ctx context.Context, sessionID, userID string) (*models.SessionRecord, error)
}

// Options configures the registry's background work
type Options struct {
	SnapshotInterval time.Duration
	IdleTimeout      time.Duration
	MaxMessages      int
}

// DefaultOptions returns the product defaults
func DefaultOptions() Options {
	return Options{
		SnapshotInterval: config.DefaultSnapshotInterval,
		IdleTimeout:      config.DefaultIdleTimeout,
		MaxMessages:      1000,
	}
}

// Stats describes the live sessions
type Stats struct {
	Active                 int            `json:"active"`
	Unattended             int            `json:"unattended"`
	Messages               int            `json:"messages"`
	ByTopic                map[string]int `json:"byTopic"`
	AverageDurationSeconds float64        `json:"averageDurationSeconds"`
}

// Registry is the authoritative in-memory state of live sessions. The map
// lock is never held while a session lock is taken for I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	store   Snapshotter
	opts    Options
	log     *logger.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRegistry creates an empty registry persisting through st
func NewRegistry(st Snapshotter, opts Options, log *logger.Logger, metrics *observability.Metrics) *Registry {
	def := DefaultOptions()
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = def.SnapshotInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}

	return &Registry{
		sessions: make(map[string]*session),
		store:    st,
		opts:     opts,
		log:      log.WithComponent("registry"),
		metrics:  metrics,
		now:      time.Now,
	}
}

func (r *Registry) lookup(sessionID string) (*session, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	return s, nil
}

// GetOrCreate returns the live session, rehydrates it from the Store, or
// creates a fresh one. The bool reports whether a new session was created.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID, userID, topicID string) (Info, bool, error) {
	if sessionID == "" || userID == "" {
		return Info{}, false, apperrors.Validation("sessionId and userId are required")
	}

	for {
		s, err := r.lookup(sessionID)
		if err != nil {
			break
		}
		s.mu.Lock()
		ending := s.ending
		s.mu.Unlock()
		if ending == nil {
			return r.claim(s, userID)
		}
		// an ending session is resumed from its final snapshot, not a stale one
		select {
		case <-ending:
		case <-ctx.Done():
			return Info{}, false, ctx.Err()
		}
	}

	var candidate *session
	created := false
	rec, err := r.store.Restore(ctx, sessionID, userID)
	switch {
	case err == nil:
		candidate = fromRecord(rec, r.now())
		r.log.Info("session rehydrated", "session_id", sessionID, "messages", len(rec.Messages))
	case apperrors.Is(err, apperrors.ErrSessionNotFound), apperrors.Is(err, apperrors.ErrSessionExpired):
		candidate = newSession(sessionID, userID, topicID, r.now())
		created = true
	default:
		return Info{}, false, err
	}

	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; ok {
		// lost a race with a concurrent join
		r.mu.Unlock()
		return r.GetOrCreate(ctx, sessionID, userID, topicID)
	}
	r.sessions[sessionID] = candidate
	r.mu.Unlock()

	r.metrics.SessionLoaded(ctx)
	candidate.mu.Lock()
	defer candidate.mu.Unlock()
	return candidate.info(), created, nil
}

func (r *Registry) claim(s *session, userID string) (Info, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != userID {
		return Info{}, false, apperrors.Unauthorized(s.id)
	}
	if !s.active {
		return Info{}, false, apperrors.SessionNotFound(s.id)
	}
	return s.info(), false, nil
}

// Get returns the live session view
func (r *Registry) Get(sessionID string) (Info, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info(), nil
}

// AppendMessage appends to the log and returns the new length. The message
// gets an id and timestamp when it has none.
func (r *Registry) AppendMessage(sessionID string, msg models.Message) (models.Message, int, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return models.Message{}, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return models.Message{}, 0, apperrors.SessionNotFound(sessionID)
	}
	if r.opts.MaxMessages > 0 && len(s.messages) >= r.opts.MaxMessages {
		return models.Message{}, 0, apperrors.Validation("session %s reached the limit of %d messages", sessionID, r.opts.MaxMessages)
	}

	now := r.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.Modality == "" {
		msg.Modality = models.ModalityText
	}

	stored := msg.Clone()
	s.messages = append(s.messages, stored)
	s.touch(now)
	return stored.Clone(), len(s.messages), nil
}

// RecentMessages returns the last n messages in append order
func (r *Registry) RecentMessages(sessionID string, n int) ([]models.Message, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if n >= 0 && len(s.messages) > n {
		start = len(s.messages) - n
	}
	return models.CloneMessages(s.messages[start:]), nil
}

// Messages returns the full log
func (r *Registry) Messages(sessionID string) ([]models.Message, error) {
	return r.RecentMessages(sessionID, -1)
}

// Join adds a connection to the participant set
func (r *Registry) Join(sessionID, connID string) error {
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return apperrors.SessionNotFound(sessionID)
	}
	s.participants[connID] = struct{}{}
	s.touch(r.now())
	return nil
}

// Leave removes a connection. An emptied session stays live but unattended.
func (r *Registry) Leave(sessionID, connID string) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[connID]; ok {
		delete(s.participants, connID)
		s.version++
	}
}

// IsParticipant reports whether connID has joined sessionID
func (r *Registry) IsParticipant(sessionID, connID string) bool {
	s, err := r.lookup(sessionID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[connID]
	return ok
}

// Reassign moves a live session to a new owner after a store transfer
func (r *Registry) Reassign(sessionID, userID string) bool {
	s, err := r.lookup(sessionID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	s.userID = userID
	s.version++
	s.mu.Unlock()
	return true
}

// End deactivates the session, persists a final snapshot and removes it
// from the live map. It returns the final view and full log. A failed save is
// reported but the session is ended regardless. The session stays mapped
// until the save returns so a concurrent GetOrCreate waits for it.
func (r *Registry) End(ctx context.Context, sessionID string) (Info, []models.Message, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return Info{}, nil, err
	}

	s.saveMu.Lock()
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		s.saveMu.Unlock()
		return Info{}, nil, apperrors.SessionNotFound(sessionID)
	}
	now := r.now()
	s.active = false
	s.endTime = &now
	s.touch(now)
	s.ending = make(chan struct{})
	version := s.version
	info := s.info()
	messages := models.CloneMessages(s.messages)
	snap := s.snapshot()
	s.mu.Unlock()

	_, saveErr := r.store.Save(ctx, snap)
	if saveErr == nil {
		s.mu.Lock()
		s.savedVersion = version
		s.mu.Unlock()
	}
	s.saveMu.Unlock()

	r.mu.Lock()
	if r.sessions[sessionID] == s {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	close(s.ending)
	r.metrics.SessionRemoved(ctx)

	if saveErr != nil {
		r.log.LogError(saveErr, "final snapshot failed", "session_id", sessionID)
		return info, messages, saveErr
	}
	r.log.Info("session ended", "session_id", sessionID, "messages", len(messages), "duration", info.Duration().String())
	return info, messages, nil
}

// Snapshot persists one session if it changed since its last save
func (r *Registry) Snapshot(ctx context.Context, sessionID string) error {
	s, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	_, err = r.persist(ctx, s)
	return err
}

func (r *Registry) persist(ctx context.Context, s *session) (bool, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.version == s.savedVersion {
		s.mu.Unlock()
		return false, nil
	}
	version := s.version
	snap := s.snapshot()
	s.mu.Unlock()

	if _, err := r.store.Save(ctx, snap); err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.savedVersion < version {
		s.savedVersion = version
	}
	s.mu.Unlock()
	return true, nil
}

func (r *Registry) all() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SnapshotDirty persists every changed session and returns how many were saved
func (r *Registry) SnapshotDirty(ctx context.Context) int {
	saved := 0
	for _, s := range r.all() {
		ok, err := r.persist(ctx, s)
		if err != nil {
			r.log.LogError(err, "snapshot failed", "session_id", s.id)
			continue
		}
		if ok {
			saved++
		}
	}
	return saved
}

// EvictIdle drops sessions nobody attends that have been idle past the
// timeout. Each is persisted first so it stays resumable from the Store.
func (r *Registry) EvictIdle(ctx context.Context) int {
	now := r.now()
	evicted := 0

	for _, s := range r.all() {
		s.mu.Lock()
		idle := len(s.participants) == 0 && now.Sub(s.lastActivity) > r.opts.IdleTimeout
		s.mu.Unlock()
		if !idle {
			continue
		}

		if _, err := r.persist(ctx, s); err != nil {
			r.log.LogError(err, "snapshot before eviction failed", "session_id", s.id)
			continue
		}

		r.mu.Lock()
		s.mu.Lock()
		stillIdle := len(s.participants) == 0 && s.version == s.savedVersion
		if stillIdle && r.sessions[s.id] == s {
			delete(r.sessions, s.id)
		}
		s.mu.Unlock()
		r.mu.Unlock()

		if stillIdle {
			evicted++
			r.metrics.SessionRemoved(ctx)
			r.log.Info("idle session evicted", "session_id", s.id)
		}
	}
	return evicted
}

// Stats summarises the live sessions
func (r *Registry) Stats() Stats {
	st := Stats{ByTopic: make(map[string]int)}
	var total time.Duration

	for _, s := range r.all() {
		s.mu.Lock()
		st.Active++
		if len(s.participants) == 0 {
			st.Unattended++
		}
		st.Messages += len(s.messages)
		st.ByTopic[s.topicID]++
		total += s.lastActivity.Sub(s.startTime)
		s.mu.Unlock()
	}
	if st.Active > 0 {
		st.AverageDurationSeconds = total.Seconds() / float64(st.Active)
	}
	return st
}

// Run snapshots and evicts on a fixed interval until ctx is cancelled, then
// persists whatever is still dirty.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n := r.SnapshotDirty(flushCtx)
			cancel()
			r.log.Info("registry flushed on shutdown", "saved", n)
			return
		case <-ticker.C:
			r.SnapshotDirty(ctx)
			r.EvictIdle(ctx)
		}
	}
}
