package domain

import (
	"math"
	"time"
)

// EventType names an outbound message.
type EventType string

const (
	EventSessionState     EventType = "session_state"
	EventSessionStarted   EventType = "session_started"
	EventTimer            EventType = "timer"
	EventProgress         EventType = "progress"
	EventAnswerResult     EventType = "answer_result"
	EventFinishedWaiting  EventType = "finished_waiting"
	EventOpponentFinished EventType = "opponent_finished"
	EventFinalResults     EventType = "final_results"
	EventError            EventType = "error"
)

// Event is an outbound message with a typed payload.
type Event interface {
	EventType() EventType
}

// PlayerProgress is the public view of a player slot.
type PlayerProgress struct {
	UserID        string  `json:"userId"`
	Score         float64 `json:"score"`
	CorrectCount  int     `json:"correctCount"`
	WrongCount    int     `json:"wrongCount"`
	AnsweredCount int     `json:"answeredCount"`
	Finished      bool    `json:"finished"`
}

// Snapshot is the sanitized state of a session. It never carries answer logs.
type Snapshot struct {
	SessionID        string           `json:"sessionId"`
	Mode             Mode             `json:"mode"`
	Status           Status           `json:"status"`
	RoomCode         string           `json:"roomCode,omitempty"`
	TotalUnits       int              `json:"totalUnits"`
	TimeLimitSeconds int              `json:"timeLimitSeconds"`
	StartTime        *time.Time       `json:"startTime,omitempty"`
	Players          []PlayerProgress `json:"players"`
	Winner           string           `json:"winner,omitempty"`
	Result           Result           `json:"result"`
}

// NewSnapshot builds the public view of s.
func NewSnapshot(s Session) Snapshot {
	snap := Snapshot{
		SessionID:        s.ID,
		Mode:             s.Mode,
		Status:           s.Status,
		RoomCode:         s.RoomCode,
		TotalUnits:       s.TotalUnits,
		TimeLimitSeconds: s.TimeLimitSeconds,
		StartTime:        s.StartTime,
		Players:          make([]PlayerProgress, 0, len(s.Players)),
		Winner:           s.Winner,
		Result:           s.Result,
	}
	for _, p := range s.Players {
		snap.Players = append(snap.Players, PlayerProgress{
			UserID:        p.UserID,
			Score:         p.Score,
			CorrectCount:  p.CorrectCount,
			WrongCount:    p.WrongCount,
			AnsweredCount: p.AnsweredCount,
			Finished:      s.TotalUnits > 0 && p.AnsweredCount >= s.TotalUnits,
		})
	}
	return snap
}

// SessionState is sent to a player when they join.
type SessionState Snapshot

func (SessionState) EventType() EventType { return EventSessionState }

// Progress is the periodic and per-submission progress broadcast.
type Progress Snapshot

func (Progress) EventType() EventType { return EventProgress }

// SessionStarted carries the client-safe content once both players are in.
type SessionStarted struct {
	SessionID        string    `json:"sessionId"`
	Mode             Mode      `json:"mode"`
	Players          []string  `json:"players"`
	StartTime        time.Time `json:"startTime"`
	TimeLimitSeconds int       `json:"timeLimitSeconds"`
	TotalUnits       int       `json:"totalUnits"`
	Content          Content   `json:"content"`
}

func (SessionStarted) EventType() EventType { return EventSessionStarted }

// TimerTick re-anchors the client countdown to the server clock.
type TimerTick struct {
	SessionID        string    `json:"sessionId"`
	RemainingSeconds int       `json:"remaining"`
	RemainingMillis  int64     `json:"remainingMs"`
	ServerTime       time.Time `json:"serverTime"`
}

func (TimerTick) EventType() EventType { return EventTimer }

// AnswerResult is the immediate feedback to the submitting player.
type AnswerResult struct {
	SessionID     string  `json:"sessionId"`
	UnitIndex     int     `json:"unitIndex"`
	Correct       bool    `json:"correct"`
	Skipped       bool    `json:"skipped"`
	CorrectAnswer string  `json:"correctAnswer,omitempty"`
	Explanation   string  `json:"explanation,omitempty"`
	PassRatio     float64 `json:"passRatio,omitempty"`
	ScoreDelta    float64 `json:"scoreDelta"`
	Score         float64 `json:"score"`
	AnsweredCount int     `json:"answeredCount"`
}

func (AnswerResult) EventType() EventType { return EventAnswerResult }

// FinishedWaiting tells a player they are done and the opponent is still playing.
type FinishedWaiting struct {
	SessionID string  `json:"sessionId"`
	Score     float64 `json:"score"`
}

func (FinishedWaiting) EventType() EventType { return EventFinishedWaiting }

// OpponentFinished tells a player their opponent answered every unit.
type OpponentFinished struct {
	SessionID  string `json:"sessionId"`
	OpponentID string `json:"opponentId"`
}

func (OpponentFinished) EventType() EventType { return EventOpponentFinished }

// PlayerResult is one line of the final results.
type PlayerResult struct {
	UserID        string  `json:"userId"`
	Score         float64 `json:"score"`
	Rank          int     `json:"rank"`
	CorrectCount  int     `json:"correctCount"`
	WrongCount    int     `json:"wrongCount"`
	AnsweredCount int     `json:"answeredCount"`
	RatingBefore  int     `json:"ratingBefore"`
	RatingAfter   int     `json:"ratingAfter"`
	RatingChange  int     `json:"ratingChange"`
}

// FinalResults is broadcast exactly once per session.
type FinalResults struct {
	SessionID string         `json:"sessionId"`
	Mode      Mode           `json:"mode"`
	Result    Result         `json:"result"`
	Winner    string         `json:"winner,omitempty"`
	Reason    string         `json:"reason"`
	Players   []PlayerResult `json:"players"`
	EndTime   time.Time      `json:"endTime"`
}

func (FinalResults) EventType() EventType { return EventFinalResults }

// ErrorEvent carries a machine readable code and a short message.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorEvent) EventType() EventType { return EventError }

// NewErrorEvent maps err to a client-safe error event.
func NewErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Code: Code(err), Message: PublicMessage(err)}
}

// Remaining is the time left of a session, derived only from its start time.
func Remaining(startedAt, now time.Time, limit time.Duration) time.Duration {
	left := limit - now.Sub(startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// RemainingSeconds rounds up so the countdown shows 0 only once time is fully out.
func RemainingSeconds(left time.Duration) int {
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}
