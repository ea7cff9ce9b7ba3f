package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches an id or room code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRoomFull is returned when a room already has two players.
	ErrRoomFull = errors.New("room is full")
	// ErrAlreadyInSession is returned when a user already holds a session of the same mode.
	ErrAlreadyInSession = errors.New("user already in a session of this mode")
	// ErrSessionNotOngoing is returned when an action needs a running session.
	ErrSessionNotOngoing = errors.New("session is not ongoing")
	// ErrTimeUp is returned for submissions that arrive after the time limit.
	ErrTimeUp = errors.New("session time is up")
	// ErrNotInSession is returned when a user acts on a session without holding a slot.
	ErrNotInSession = errors.New("user is not a player of this session")
	// ErrDuplicateSubmission is returned when a unit was already answered by the player.
	ErrDuplicateSubmission = errors.New("unit already answered")
	// ErrInvalidUnit is returned for unit indexes outside the session content.
	ErrInvalidUnit = errors.New("unit index out of range")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTooEarly is returned when a client reports a timeout the server clock does not confirm.
	ErrTooEarly = errors.New("session time has not run out")
	// ErrUnauthorized is returned when a credential cannot be verified.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrContentNotFound indicates session content could not be loaded.
	ErrContentNotFound = errors.New("content not found")
)

// Error codes sent to clients.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeRoomFull            = "ROOM_FULL"
	CodeAlreadyInSession    = "ALREADY_IN_SESSION"
	CodeNotOngoing          = "NOT_ONGOING"
	CodeTimeUp              = "TIME_UP"
	CodeNotInSession        = "NOT_IN_SESSION"
	CodeDuplicateSubmission = "DUPLICATE_SUBMISSION"
	CodeInvalidUnit         = "INVALID_UNIT"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeTooEarly            = "TOO_EARLY"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrSessionNotFound, CodeNotFound},
	{ErrContentNotFound, CodeNotFound},
	{ErrRoomFull, CodeRoomFull},
	{ErrAlreadyInSession, CodeAlreadyInSession},
	{ErrSessionNotOngoing, CodeNotOngoing},
	{ErrTimeUp, CodeTimeUp},
	{ErrNotInSession, CodeNotInSession},
	{ErrDuplicateSubmission, CodeDuplicateSubmission},
	{ErrInvalidUnit, CodeInvalidUnit},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrTooEarly, CodeTooEarly},
	{ErrUnauthorized, CodeUnauthorized},
}

// Code maps an error to its stable client code. Unknown errors map to CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// PublicMessage is the message safe to show a client for err.
func PublicMessage(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.err.Error()
		}
	}
	return "internal error"
}
