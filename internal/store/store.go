package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/pkg/cache"
	"speaking-practice/backend/pkg/config"
	apperrors "speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/shared/observability"

	"github.com/google/uuid"
)

const (
	lockStripes   = 64
	backupVersion = 1
)

// SortField orders ListForUser results
type SortField string

const (
	SortByLastActivity SortField = "lastActivity"
	SortByStartTime    SortField = "startTime"
)

// Options configures retention
type Options struct {
	TTL               time.Duration
	SweepInterval     time.Duration
	TombstoneCapacity int
}

// DefaultOptions returns the product retention policy
func DefaultOptions() Options {
	return Options{
		TTL:               config.DefaultSessionTTL,
		SweepInterval:     config.DefaultSweepInterval,
		TombstoneCapacity: 10000,
	}
}

// Snapshot is the live state handed to Save
type Snapshot struct {
	ID           string
	UserID       string
	TopicID      string
	Participants []string
	Messages     []models.Message
	StartTime    time.Time
	EndTime      *time.Time
	Active       bool
}

// Patch holds the fields Update merges; nil fields are left alone
type Patch struct {
	TopicID      *string
	Active       *bool
	EndTime      *time.Time
	Participants *[]string
	Messages     *[]models.Message
}

// ListOptions filters and orders ListForUser
type ListOptions struct {
	IncludeEnded bool
	Limit        int
	SortBy       SortField
}

// Summary is the listing view of a record
type Summary struct {
	ID               string     `json:"id"`
	TopicID          string     `json:"topicId"`
	ParticipantCount int        `json:"participantCount"`
	MessageCount     int        `json:"messageCount"`
	StartTime        time.Time  `json:"startTime"`
	LastActivity     time.Time  `json:"lastActivity"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	CanResume        bool       `json:"canResume"`
}

// Stats aggregates the records currently held
type Stats struct {
	Total                  int            `json:"total"`
	Active                 int            `json:"active"`
	Ended                  int            `json:"ended"`
	Expired                int            `json:"expired"`
	Swept                  int64          `json:"swept"`
	ByTopic                map[string]int `json:"byTopic"`
	AverageDurationSeconds float64        `json:"averageDurationSeconds"`
}

type backupPayload struct {
	Version    int                   `json:"version"`
	ExportedAt time.Time             `json:"exportedAt"`
	Record     *models.SessionRecord `json:"record"`
}

// Store owns persisted session records. Operations on one id are
// serialized through a striped lock; nothing holds a lock across records.
type Store struct {
	backend    Backend
	opts       Options
	tombstones *cache.Cache[time.Time]
	locks      [lockStripes]sync.Mutex
	log        *logger.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu    sync.Mutex
	swept int64
}

// New creates a Store over backend
func New(backend Backend, opts Options, log *logger.Logger, metrics *observability.Metrics) *Store {
	if opts.TTL <= 0 {
		opts.TTL = config.DefaultSessionTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = config.DefaultSweepInterval
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}

	return &Store{
		backend: backend,
		opts:    opts,
		tombstones: cache.New[time.Time](cache.Options{
			DefaultExpiration: opts.TTL,
			CleanupInterval:   opts.SweepInterval,
			MaxItems:          opts.TombstoneCapacity,
		}),
		log:     log.WithComponent("store"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Backend exposes the underlying engine, e.g. for health checks
func (s *Store) Backend() Backend { return s.backend }

// TTL is the inactivity window after which records expire
func (s *Store) TTL() time.Duration { return s.opts.TTL }

func (s *Store) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func (s *Store) persistence(ctx context.Context, op string, err error) error {
	s.metrics.StoreOp(ctx, op, err)
	if err == nil {
		return nil
	}
	return apperrors.PersistenceFailure(op, err)
}

// load maps a missing record to SESSION_EXPIRED when it was swept, else SESSION_NOT_FOUND
func (s *Store) load(ctx context.Context, op, id string) (*models.SessionRecord, error) {
	rec, err := s.backend.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		if _, swept := s.tombstones.Get(id); swept {
			return nil, apperrors.SessionExpired(id)
		}
		return nil, apperrors.SessionNotFound(id)
	}
	if err != nil {
		return nil, s.persistence(ctx, op, err)
	}
	return rec, nil
}

// Save upserts the record for snap.ID. Provenance fields of an existing
// record survive; everything else is replaced.
func (s *Store) Save(ctx context.Context, snap Snapshot) (*models.SessionRecord, error) {
	if snap.ID == "" || snap.UserID == "" {
		return nil, apperrors.Validation("session id and user id are required")
	}

	unlock := s.lock(snap.ID)
	defer unlock()

	now := s.now()
	rec := &models.SessionRecord{
		ID:           snap.ID,
		UserID:       snap.UserID,
		TopicID:      snap.TopicID,
		Participants: append([]string(nil), snap.Participants...),
		Messages:     models.CloneMessages(snap.Messages),
		StartTime:    snap.StartTime,
		EndTime:      snap.EndTime,
		Active:       snap.Active,
		SavedAt:      now,
		LastActivity: now,
	}

	prev, err := s.backend.Get(ctx, snap.ID)
	switch {
	case err == nil:
		rec.RecoveredFrom = prev.RecoveredFrom
		rec.TransferredFrom = prev.TransferredFrom
		if rec.StartTime.IsZero() {
			rec.StartTime = prev.StartTime
		}
	case !errors.Is(err, ErrNotFound):
		return nil, s.persistence(ctx, "save", err)
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = now
	}

	if err := s.backend.Put(ctx, rec); err != nil {
		return nil, s.persistence(ctx, "save", err)
	}
	s.tombstones.Delete(snap.ID)
	s.metrics.StoreOp(ctx, "save", nil)
	return rec.Clone(), nil
}

// Restore returns the record for a resuming owner and refreshes its activity
func (s *Store) Restore(ctx context.Context, sessionID, userID string) (*models.SessionRecord, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	rec, err := s.load(ctx, "restore", sessionID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, apperrors.Unauthorized(sessionID)
	}

	now := s.now()
	if rec.Expired(now, s.opts.TTL) {
		return nil, apperrors.SessionExpired(sessionID)
	}

	rec.LastActivity = now
	if err := s.backend.Put(ctx, rec); err != nil {
		return nil, s.persistence(ctx, "restore", err)
	}
	s.metrics.StoreOp(ctx, "restore", nil)
	return rec.Clone(), nil
}

// Get loads a record without touching its activity. Used by read-only views.
func (s *Store) Get(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	rec, err := s.load(ctx, "get", sessionID)
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.now(), s.opts.TTL) {
		return nil, apperrors.SessionExpired(sessionID)
	}
	return rec, nil
}

// ListForUser summarises the user's unexpired records, most recent first
func (s *Store) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]Summary, error) {
	recs, err := s.backend.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.persistence(ctx, "list", err)
	}

	now := s.now()
	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		if rec.Expired(now, s.opts.TTL) {
			continue
		}
		if rec.Ended() && !opts.IncludeEnded {
			continue
		}
		out = append(out, Summary{
			ID:               rec.ID,
			TopicID:          rec.TopicID,
			ParticipantCount: len(rec.Participants),
			MessageCount:     len(rec.Messages),
			StartTime:        rec.StartTime,
			LastActivity:     rec.LastActivity,
			EndTime:          rec.EndTime,
			CanResume:        !rec.Ended(),
		})
	}

	key := func(sum Summary) time.Time { return sum.LastActivity }
	if opts.SortBy == SortByStartTime {
		key = func(sum Summary) time.Time { return sum.StartTime }
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ki, kj := key(out[i]), key(out[j]); !ki.Equal(kj) {
			return ki.After(kj)
		}
		return out[i].ID < out[j].ID
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	s.metrics.StoreOp(ctx, "list", nil)
	return out, nil
}

// Update merges patch into an existing record
func (s *Store) Update(ctx context.Context, sessionID string, patch Patch) (*models.SessionRecord, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	rec, err := s.load(ctx, "update", sessionID)
	if err != nil {
		return nil, err
	}

	if patch.TopicID != nil {
		rec.TopicID = *patch.TopicID
	}
	if patch.Active != nil {
		rec.Active = *patch.Active
	}
	if patch.EndTime != nil {
		end := *patch.EndTime
		rec.EndTime = &end
	}
	if patch.Participants != nil {
		rec.Participants = append([]string(nil), (*patch.Participants)...)
	}
	if patch.Messages != nil {
		rec.Messages = models.CloneMessages(*patch.Messages)
	}
	rec.SavedAt = s.now()

	if err := s.backend.Put(ctx, rec); err != nil {
		return nil, s.persistence(ctx, "update", err)
	}
	s.metrics.StoreOp(ctx, "update", nil)
	return rec.Clone(), nil
}

// Delete removes a record and its index entries. It reports whether one existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	found, err := s.backend.Delete(ctx, sessionID)
	if err != nil {
		return false, s.persistence(ctx, "delete", err)
	}
	s.tombstones.Delete(sessionID)
	s.metrics.StoreOp(ctx, "delete", nil)
	return found, nil
}

// Backup serialises a record into a versioned, self-contained payload
func (s *Store) Backup(ctx context.Context, sessionID string) ([]byte, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	rec, err := s.load(ctx, "backup", sessionID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(backupPayload{
		Version:    backupVersion,
		ExportedAt: s.now(),
		Record:     rec,
	})
	if err != nil {
		return nil, s.persistence(ctx, "backup", err)
	}
	return data, nil
}

// Recover imports a backup under a freshly minted session id so it can never
// overwrite a live session
func (s *Store) Recover(ctx context.Context, payload []byte) (*models.SessionRecord, error) {
	var backup backupPayload
	if err := json.Unmarshal(payload, &backup); err != nil {
		return nil, apperrors.Validation("malformed backup payload")
	}
	if backup.Version != backupVersion {
		return nil, apperrors.Validation("unsupported backup version %d", backup.Version)
	}
	if backup.Record == nil || backup.Record.ID == "" || backup.Record.UserID == "" {
		return nil, apperrors.Validation("backup payload has no session record")
	}

	rec := backup.Record.Clone()
	rec.RecoveredFrom = rec.ID
	rec.ID = uuid.NewString()

	unlock := s.lock(rec.ID)
	defer unlock()

	now := s.now()
	rec.SavedAt = now
	rec.LastActivity = now

	if err := s.backend.Put(ctx, rec); err != nil {
		return nil, s.persistence(ctx, "recover", err)
	}
	s.metrics.StoreOp(ctx, "recover", nil)
	s.log.Info("session recovered from backup", "session_id", rec.ID, "recovered_from", rec.RecoveredFrom)
	return rec.Clone(), nil
}

// Transfer reassigns ownership. The record and both owners' indexes change in one backend write.
func (s *Store) Transfer(ctx context.Context, sessionID, fromUserID, toUserID string) (*models.SessionRecord, error) {
	if toUserID == "" {
		return nil, apperrors.Validation("target user id is required")
	}

	unlock := s.lock(sessionID)
	defer unlock()

	rec, err := s.load(ctx, "transfer", sessionID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != fromUserID {
		return nil, apperrors.Unauthorized(sessionID)
	}
	if fromUserID == toUserID {
		return rec, nil
	}

	rec.UserID = toUserID
	rec.TransferredFrom = fromUserID
	rec.SavedAt = s.now()

	if err := s.backend.Put(ctx, rec); err != nil {
		return nil, s.persistence(ctx, "transfer", err)
	}
	s.metrics.StoreOp(ctx, "transfer", nil)
	s.log.Info("session transferred", "session_id", sessionID, "from", fromUserID, "to", toUserID)
	return rec.Clone(), nil
}

// CleanupExpired deletes every record idle for longer than the TTL and
// leaves a tombstone for it. A record that fails to load or delete is
// logged and skipped.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := s.backend.ListIDs(ctx)
	if err != nil {
		return 0, s.persistence(ctx, "sweep", err)
	}

	removed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.sweepOne(ctx, id)
		if err != nil {
			s.log.LogError(err, "sweep skipped record", "session_id", id)
			continue
		}
		if ok {
			removed++
		}
	}

	s.mu.Lock()
	s.swept += int64(removed)
	s.mu.Unlock()
	s.metrics.Swept(ctx, removed)

	if removed > 0 {
		s.log.Info("expired sessions swept", "removed", removed, "scanned", len(ids))
	}
	return removed, nil
}

func (s *Store) sweepOne(ctx context.Context, id string) (bool, error) {
	unlock := s.lock(id)
	defer unlock()

	rec, err := s.backend.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// index entry outlived its record
		_, err = s.backend.Delete(ctx, id)
		return false, err
	}
	if err != nil {
		return false, err
	}

	now := s.now()
	if !rec.Expired(now, s.opts.TTL) {
		return false, nil
	}
	if _, err := s.backend.Delete(ctx, id); err != nil {
		return false, err
	}
	s.tombstones.Set(id, now)
	return true, nil
}

// Stats aggregates counts over every record
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ids, err := s.backend.ListIDs(ctx)
	if err != nil {
		return Stats{}, s.persistence(ctx, "stats", err)
	}

	now := s.now()
	st := Stats{ByTopic: make(map[string]int)}
	var total time.Duration
	for _, id := range ids {
		rec, err := s.backend.Get(ctx, id)
		if err != nil {
			continue
		}
		st.Total++
		st.ByTopic[rec.TopicID]++
		switch {
		case rec.Expired(now, s.opts.TTL):
			st.Expired++
		case rec.Ended():
			st.Ended++
		default:
			st.Active++
		}
		total += rec.Duration(now)
	}
	if st.Total > 0 {
		st.AverageDurationSeconds = total.Seconds() / float64(st.Total)
	}

	s.mu.Lock()
	st.Swept = s.swept
	s.mu.Unlock()
	return st, nil
}

// Ping checks the backend
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%s backend: %w", s.backend.Name(), err)
	}
	return nil
}

// Close releases the tombstone janitor
func (s *Store) Close() {
	s.tombstones.Close()
}

// Run sweeps on a fixed interval until ctx is cancelled
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	s.log.Info("session sweep started", "interval", s.opts.SweepInterval.String(), "ttl", s.opts.TTL.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				s.log.LogError(err, "session sweep failed")
			}
		}
	}
}
