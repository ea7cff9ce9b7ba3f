package domain

import "time"

// Mode selects the kind of competition a session runs.
type Mode string

const (
	ModeCodeBattle Mode = "code-battle"
	ModeRapidFire  Mode = "rapid-fire"
)

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	return m == ModeCodeBattle || m == ModeRapidFire
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusOngoing   Status = "ongoing"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// Result is the final verdict of a session.
type Result string

const (
	ResultWinner     Result = "winner"
	ResultDraw       Result = "draw"
	ResultUnresolved Result = "unresolved"
)

// MaxPlayers is the number of slots in every session.
const MaxPlayers = 2

// AnswerRecord is one scored answer of a player. A player has at most one record per unit.
type AnswerRecord struct {
	UnitIndex      int       `json:"unitIndex"`
	SelectedOption string    `json:"selectedOption"`
	IsCorrect      bool      `json:"isCorrect"`
	IsSkipped      bool      `json:"isSkipped"`
	ScoreDelta     float64   `json:"scoreDelta"`
	PassRatio      float64   `json:"passRatio,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PlayerSlot holds a player's running totals inside a session.
type PlayerSlot struct {
	UserID        string         `json:"userId"`
	Score         float64        `json:"score"`
	CorrectCount  int            `json:"correctCount"`
	WrongCount    int            `json:"wrongCount"`
	AnsweredCount int            `json:"answeredCount"`
	Answers       []AnswerRecord `json:"answers"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`

	RatingBefore int `json:"ratingBefore,omitempty"`
	RatingAfter  int `json:"ratingAfter,omitempty"`
	RatingChange int `json:"ratingChange,omitempty"`
	Rank         int `json:"rank,omitempty"`
}

// HasAnswered reports whether the player already has a record for unit.
func (p *PlayerSlot) HasAnswered(unit int) bool {
	for _, a := range p.Answers {
		if a.UnitIndex == unit {
			return true
		}
	}
	return false
}

// Record appends an answer and folds it into the running totals.
func (p *PlayerSlot) Record(rec AnswerRecord) {
	p.Answers = append(p.Answers, rec)
	p.AnsweredCount++
	p.Score += rec.ScoreDelta
	switch {
	case rec.IsSkipped:
	case rec.IsCorrect:
		p.CorrectCount++
	default:
		p.WrongCount++
	}
}

// Session is the durable record of one head-to-head encounter.
type Session struct {
	ID               string       `json:"id"`
	Mode             Mode         `json:"mode"`
	Status           Status       `json:"status"`
	RoomCode         string       `json:"roomCode,omitempty"`
	Players          []PlayerSlot `json:"players"`
	ContentRefs      []string     `json:"contentRefs"`
	TotalUnits       int          `json:"totalUnits"`
	TimeLimitSeconds int          `json:"timeLimitSeconds"`
	StartTime        *time.Time   `json:"startTime,omitempty"`
	EndTime          *time.Time   `json:"endTime,omitempty"`
	Winner           string       `json:"winner,omitempty"`
	Result           Result       `json:"result"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// Player returns the slot of userID, if present.
func (s *Session) Player(userID string) (*PlayerSlot, bool) {
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// Opponent returns the slot that does not belong to userID.
func (s *Session) Opponent(userID string) (*PlayerSlot, bool) {
	for i := range s.Players {
		if s.Players[i].UserID != userID {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// IsFull reports whether both slots are taken.
func (s *Session) IsFull() bool {
	return len(s.Players) >= MaxPlayers
}

// AllFinished reports whether every player answered every unit.
func (s *Session) AllFinished() bool {
	if len(s.Players) < MaxPlayers {
		return false
	}
	for _, p := range s.Players {
		if p.AnsweredCount < s.TotalUnits {
			return false
		}
	}
	return true
}

// RemovePlayer drops the slot of userID.
func (s *Session) RemovePlayer(userID string) {
	kept := s.Players[:0]
	for _, p := range s.Players {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	s.Players = kept
}

// Clone returns a deep copy so stores never share slices with callers.
func (s Session) Clone() Session {
	out := s
	out.ContentRefs = append([]string(nil), s.ContentRefs...)
	out.Players = make([]PlayerSlot, len(s.Players))
	for i, p := range s.Players {
		p.Answers = append([]AnswerRecord(nil), p.Answers...)
		if p.FinishedAt != nil {
			t := *p.FinishedAt
			p.FinishedAt = &t
		}
		out.Players[i] = p
	}
	if s.StartTime != nil {
		t := *s.StartTime
		out.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	return out
}

// Option is one choice of a rapid-fire question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a single-correct-option quiz item.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []Option `json:"options"`
	CorrectOption string   `json:"correctOption,omitempty"`
	Explanation   string   `json:"explanation,omitempty"`
}

// TestCase is one input/expected-output pair of a problem.
type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Hidden   bool   `json:"hidden,omitempty"`
}

// Problem is a code-battle task judged by its test cases.
type Problem struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Statement string     `json:"statement"`
	TestCases []TestCase `json:"testCases"`
}

// Content is the immutable payload a session is played on.
type Content struct {
	Mode      Mode       `json:"mode"`
	Questions []Question `json:"questions,omitempty"`
	Problem   *Problem   `json:"problem,omitempty"`
}

// TotalUnits is the number of answerable units in the content.
func (c Content) TotalUnits() int {
	if c.Mode == ModeCodeBattle {
		if c.Problem == nil {
			return 0
		}
		return 1
	}
	return len(c.Questions)
}

// ClientView strips answers and hidden tests so content can be sent to players.
func (c Content) ClientView() Content {
	out := Content{Mode: c.Mode}
	for _, q := range c.Questions {
		q.CorrectOption = ""
		q.Explanation = ""
		out.Questions = append(out.Questions, q)
	}
	if c.Problem != nil {
		p := *c.Problem
		p.TestCases = c.Problem.VisibleTests()
		out.Problem = &p
	}
	return out
}

// VisibleTests are the test cases shown to players, in problem order.
func (p Problem) VisibleTests() []TestCase {
	return p.tests(false)
}

// HiddenTests are the test cases only the server judges.
func (p Problem) HiddenTests() []TestCase {
	return p.tests(true)
}

func (p Problem) tests(hidden bool) []TestCase {
	var out []TestCase
	for _, tc := range p.TestCases {
		if tc.Hidden == hidden {
			out = append(out, tc)
		}
	}
	return out
}

// Submission is a player's answer to one unit.
type Submission struct {
	UnitIndex      int
	SelectedOption string
	Skip           bool
	// Outputs answer the visible test cases of a code-battle problem, in the
	// order the client received them.
	Outputs []string
	// Code is the submitted program, run against hidden test cases when a
	// runner is configured.
	Code string
}

// JoinSpec describes how a player enters a session.
type JoinSpec struct {
	RoomCode   string
	CreateRoom bool
}

// Random reports whether the join asks for random pairing.
func (j JoinSpec) Random() bool {
	return j.RoomCode == "" && !j.CreateRoom
}
