package models

import (
	"time"
)

// SessionRecord is the durable mirror of a practice session. There is at
// most one record per session id; every save replaces the previous one.
type SessionRecord struct {
	ID              string     `json:"id" gorm:"primaryKey;size:64"`
	UserID          string     `json:"userId" gorm:"index;size:128;not null"`
	TopicID         string     `json:"topicId" gorm:"size:128"`
	Participants    []string   `json:"participants" gorm:"serializer:json;type:text"`
	Messages        []Message  `json:"messages" gorm:"serializer:json;type:text"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	Active          bool       `json:"active"`
	SavedAt         time.Time  `json:"savedAt"`
	LastActivity    time.Time  `json:"lastActivity" gorm:"index"`
	RecoveredFrom   string     `json:"recoveredFrom,omitempty" gorm:"size:64"`
	TransferredFrom string     `json:"transferredFrom,omitempty" gorm:"size:128"`
}

// TableName overrides the gorm default
func (SessionRecord) TableName() string {
	return "practice_sessions"
}

// Clone returns a deep copy of the record
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Participants = append([]string(nil), r.Participants...)
	c.Messages = CloneMessages(r.Messages)
	if r.EndTime != nil {
		end := *r.EndTime
		c.EndTime = &end
	}
	return &c
}

// Ended reports whether the session was explicitly ended
func (r *SessionRecord) Ended() bool {
	return !r.Active || r.EndTime != nil
}

// Expired reports whether the record has been idle longer than ttl
func (r *SessionRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastActivity) > ttl
}

// Duration is the wall time between start and end, or now for open sessions
func (r *SessionRecord) Duration(now time.Time) time.Duration {
	end := now
	if r.EndTime != nil {
		end = *r.EndTime
	}
	if end.Before(r.StartTime) {
		return 0
	}
	return end.Sub(r.StartTime)
}
