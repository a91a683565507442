package session

import (
	"sort"
	"sync"
	"time"

	"speaking-practice/backend/internal/models"
	"speaking-practice/backend/internal/store"
)

// Info is a read-only view of a live session
type Info struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	TopicID      string     `json:"topicId"`
	Participants []string   `json:"participants"`
	MessageCount int        `json:"messageCount"`
	StartTime    time.Time  `json:"startTime"`
	LastActivity time.Time  `json:"lastActivity"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Active       bool       `json:"active"`
}

// Duration is the elapsed time of the session
func (i Info) Duration() time.Duration {
	end := i.LastActivity
	if i.EndTime != nil {
		end = *i.EndTime
	}
	if end.Before(i.StartTime) {
		return 0
	}
	return end.Sub(i.StartTime)
}

// session is the registry-owned mutable state. Every field is guarded by mu.
// saveMu orders snapshots so an older one never overwrites a newer one.
type session struct {
	saveMu sync.Mutex

	mu           sync.Mutex
	id           string
	userID       string
	topicID      string
	participants map[string]struct{}
	messages     []models.Message
	startTime    time.Time
	lastActivity time.Time
	endTime      *time.Time
	active       bool

	// version counts mutations; savedVersion is the version last persisted
	version      uint64
	savedVersion uint64

	// ending is closed once End has written the final snapshot and unmapped
	// the session
	ending chan struct{}
}

func newSession(id, userID, topicID string, now time.Time) *session {
	return &session{
		id:           id,
		userID:       userID,
		topicID:      topicID,
		participants: make(map[string]struct{}),
		startTime:    now,
		lastActivity: now,
		active:       true,
		version:      1,
	}
}

func fromRecord(rec *models.SessionRecord, now time.Time) *session {
	s := &session{
		id:           rec.ID,
		userID:       rec.UserID,
		topicID:      rec.TopicID,
		participants: make(map[string]struct{}),
		messages:     models.CloneMessages(rec.Messages),
		startTime:    rec.StartTime,
		lastActivity: now,
		active:       true,
		// a resumed record is re-activated and must be saved as such
		version: 1,
	}
	if s.startTime.IsZero() {
		s.startTime = now
	}
	return s
}

func (s *session) touch(now time.Time) {
	s.lastActivity = now
	s.version++
}

// info copies the view. Caller holds mu.
func (s *session) info() Info {
	participants := make([]string, 0, len(s.participants))
	for id := range s.participants {
		participants = append(participants, id)
	}
	sort.Strings(participants)

	var end *time.Time
	if s.endTime != nil {
		e := *s.endTime
		end = &e
	}
	return Info{
		ID:           s.id,
		UserID:       s.userID,
		TopicID:      s.topicID,
		Participants: participants,
		MessageCount: len(s.messages),
		StartTime:    s.startTime,
		LastActivity: s.lastActivity,
		EndTime:      end,
		Active:       s.active,
	}
}

// snapshot copies the persistable state. Caller holds mu.
func (s *session) snapshot() store.Snapshot {
	info := s.info()
	return store.Snapshot{
		ID:           s.id,
		UserID:       s.userID,
		TopicID:      s.topicID,
		Participants: info.Participants,
		Messages:     models.CloneMessages(s.messages),
		StartTime:    s.startTime,
		EndTime:      info.EndTime,
		Active:       s.active,
	}
}
