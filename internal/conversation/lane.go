package conversation

import (
	"context"
	"fmt"
	"time"

	"speaking-practice/backend/internal/models"
	apperrors "speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/ws"
)

type jobKind int

const (
	jobText jobKind = iota
	jobVoice
	jobEnd
)

func (k jobKind) String() string {
	switch k {
	case jobText:
		return "text"
	case jobVoice:
		return "voice"
	default:
		return "end"
	}
}

type endRequest struct {
	sessionID string
	connID    string
}

// job is one unit of work in a session lane
type job struct {
	kind     jobKind
	ctx      context.Context
	queuedAt time.Time

	text  Turn
	voice VoiceTurn
	end   endRequest

	// learner is set once the learner message has been appended
	learner *models.Message
}

func (j *job) connID() string {
	switch j.kind {
	case jobText:
		return j.text.ConnID
	case jobVoice:
		return j.voice.ConnID
	default:
		return j.end.connID
	}
}

// lane serialises the work of one session
type lane struct {
	busy    bool
	pending []*job
}

// acquire claims the lane for j and returns true when the session is idle.
// Otherwise j is queued behind the running job and false is returned.
func (o *Orchestrator) acquire(sessionID string, j *job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.lanes[sessionID]
	if ok && l.busy {
		l.pending = append(l.pending, j)
		return false
	}
	if !ok {
		l = &lane{}
		o.lanes[sessionID] = l
	}
	l.busy = true
	o.wg.Add(1)
	return true
}

// start runs first and then whatever queued behind it. A nil first only
// drains the queue, which releases a lane claimed by a turn that failed
// before its pipeline began.
func (o *Orchestrator) start(sessionID string, first *job) {
	go o.drain(sessionID, first)
}

func (o *Orchestrator) drain(sessionID string, j *job) {
	defer o.wg.Done()

	for {
		if j != nil {
			o.process(sessionID, j)
		}

		o.mu.Lock()
		l := o.lanes[sessionID]
		if l == nil || len(l.pending) == 0 {
			delete(o.lanes, sessionID)
			o.mu.Unlock()
			return
		}
		j = l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		o.mu.Unlock()
	}
}

// InFlight reports whether a job is running for the session
func (o *Orchestrator) InFlight(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.lanes[sessionID]
	return ok && l.busy
}

// Pending is the number of jobs queued behind the running one
func (o *Orchestrator) Pending(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, ok := o.lanes[sessionID]; ok {
		return len(l.pending)
	}
	return 0
}

func (o *Orchestrator) process(sessionID string, j *job) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("turn pipeline panic: %v", r)
			o.log.WithSessionID(sessionID).LogError(err, "recovered from panic", "kind", j.kind.String())
			o.notify.ToRoom(sessionID, ws.NewEvent(ws.EventAITyping, ws.AITypingPayload{SessionID: sessionID, Typing: false}))
			o.notify.ToConn(j.connID(), ws.ErrorEvent(apperrors.CodeInternal, "turn could not be completed"))
		}
	}()

	switch j.kind {
	case jobText:
		o.runText(sessionID, j)
	case jobVoice:
		o.runVoice(sessionID, j)
	case jobEnd:
		o.runEnd(sessionID, j)
	}
}
