package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"battle-service/internal/domain"
)

func TestRandomPairingStartsSession(t *testing.T) {
	f := newFixture(t)
	id := f.startMatch(t, domain.ModeRapidFire)

	session := f.session(t, id)
	if session.Status != domain.StatusOngoing || session.StartTime == nil {
		t.Fatalf("expected ongoing session with start time, got %+v", session)
	}
	if session.TotalUnits != 3 || len(session.ContentRefs) != 3 {
		t.Fatalf("expected 3 units, got %d (%v)", session.TotalUnits, session.ContentRefs)
	}
	if f.engine.ActiveSessions() != 1 {
		t.Fatalf("expected one runtime entry, got %d", f.engine.ActiveSessions())
	}
	if !f.tracker.isActive(id) {
		t.Fatalf("expected session %s to be marked active", id)
	}

	for _, user := range []string{"alice", "bob"} {
		started := f.notes.of(user, domain.EventSessionStarted)
		if len(started) != 1 {
			t.Fatalf("expected one session_started for %s, got %d", user, len(started))
		}
		content := started[0].(domain.SessionStarted).Content
		for _, q := range content.Questions {
			if q.CorrectOption != "" {
				t.Fatalf("correct option leaked to %s: %+v", user, q)
			}
		}
	}
	if n := len(f.notes.of("alice", domain.EventSessionState)); n != 1 {
		t.Fatalf("expected alice to get the join state once, got %d", n)
	}
}

func TestAlreadyInSessionOfSameMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{}); err != nil {
		t.Fatalf("first join: %v", err)
	}
	_, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{})
	if !errors.Is(err, domain.ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
	if _, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeCodeBattle, domain.JoinSpec{}); err != nil {
		t.Fatalf("expected a different mode to be allowed, got %v", err)
	}
}

func TestCreateOrMatchRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.CreateOrMatch(ctx, "", domain.ModeRapidFire, domain.JoinSpec{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty user, got %v", err)
	}
	if _, err := f.engine.CreateOrMatch(ctx, "alice", domain.Mode("chess"), domain.JoinSpec{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown mode, got %v", err)
	}
}

func TestPrivateRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{CreateRoom: true})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if len(room.RoomCode) != roomCodeLength || room.Status != domain.StatusWaiting {
		t.Fatalf("expected waiting room with a %d char code, got %+v", roomCodeLength, room)
	}

	// Random pairing never lands in a private room.
	other, err := f.engine.CreateOrMatch(ctx, "dave", domain.ModeRapidFire, domain.JoinSpec{})
	if err != nil {
		t.Fatalf("random join: %v", err)
	}
	if other.SessionID == room.SessionID {
		t.Fatalf("random pairing joined private room %s", room.RoomCode)
	}

	joined, err := f.engine.CreateOrMatch(ctx, "bob", domain.ModeRapidFire, domain.JoinSpec{RoomCode: " " + strings.ToLower(room.RoomCode)})
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	if joined.SessionID != room.SessionID || joined.Status != domain.StatusOngoing {
		t.Fatalf("expected bob to start alice's room, got %+v", joined)
	}

	_, err = f.engine.CreateOrMatch(ctx, "carol", domain.ModeRapidFire, domain.JoinSpec{RoomCode: room.RoomCode})
	if !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	_, err = f.engine.CreateOrMatch(ctx, "carol", domain.ModeRapidFire, domain.JoinSpec{RoomCode: "ZZZZZZ"})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	_, err = f.engine.CreateOrMatch(ctx, "carol", domain.ModeCodeBattle, domain.JoinSpec{RoomCode: room.RoomCode})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for mode mismatch, got %v", err)
	}
}

func TestLeaveWaitingSessionCancelsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.engine.Leave(ctx, snap.SessionID, "mallory"); !errors.Is(err, domain.ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}
	if err := f.engine.Leave(ctx, snap.SessionID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	session := f.session(t, snap.SessionID)
	if session.Status != domain.StatusCancelled || len(session.Players) != 0 || session.EndTime == nil {
		t.Fatalf("expected cancelled empty session, got %+v", session)
	}
	if err := f.engine.Leave(ctx, snap.SessionID, "alice"); !errors.Is(err, domain.ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession after leaving, got %v", err)
	}

	// The cancelled session no longer blocks a new one.
	next, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if next.SessionID == snap.SessionID {
		t.Fatalf("expected a fresh session, got the cancelled one")
	}
}

func TestLeaveOngoingSessionForfeits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startMatch(t, domain.ModeRapidFire)

	// bob is ahead on points but leaves.
	if _, err := f.engine.Submit(ctx, id, "bob", domain.Submission{UnitIndex: 0, SelectedOption: "b"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.engine.Leave(ctx, id, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	final := f.notes.final(t, "alice")
	if final.Winner != "alice" || final.Result != domain.ResultWinner || final.Reason != string(ReasonForfeit) {
		t.Fatalf("expected alice to win by forfeit, got %+v", final)
	}
	f.notes.final(t, "bob")
	if f.engine.ActiveSessions() != 0 || f.tracker.isActive(id) {
		t.Fatalf("expected runtime state to be torn down")
	}
	if err := f.engine.Leave(ctx, id, "alice"); !errors.Is(err, domain.ErrSessionNotOngoing) {
		t.Fatalf("expected ErrSessionNotOngoing after resolution, got %v", err)
	}
}

func TestLeaveOngoingByStrangerIsRejected(t *testing.T) {
	f := newFixture(t)
	id := f.startMatch(t, domain.ModeRapidFire)
	if err := f.engine.Leave(context.Background(), id, "mallory"); !errors.Is(err, domain.ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}
	if f.engine.ActiveSessions() != 1 {
		t.Fatalf("session must stay active")
	}
}

func TestDisconnectForfeitsActiveSessions(t *testing.T) {
	f := newFixture(t)
	id := f.startMatch(t, domain.ModeRapidFire)

	if err := f.engine.Disconnect(context.Background(), "alice"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	final := f.notes.final(t, "bob")
	if final.Winner != "bob" {
		t.Fatalf("expected bob to win after alice disconnected, got %+v", final)
	}
	if s := f.session(t, id); s.Status != domain.StatusFinished {
		t.Fatalf("expected finished session, got %s", s.Status)
	}
	if err := f.engine.Disconnect(context.Background(), "alice"); err != nil {
		t.Fatalf("second disconnect should be a no-op, got %v", err)
	}
}

// ongoingRecord stores an ongoing session that no runtime entry backs, as left
// behind by a crashed process.
func ongoingRecord(t *testing.T, f *fixture, id string, startedAgo time.Duration, users ...string) {
	t.Helper()
	start := f.clock.Now().Add(-startedAgo)
	session := domain.Session{
		ID:               id,
		Mode:             domain.ModeRapidFire,
		Status:           domain.StatusOngoing,
		ContentRefs:      []string{"q1", "q2", "q3"},
		TotalUnits:       3,
		TimeLimitSeconds: 120,
		StartTime:        &start,
		Result:           domain.ResultUnresolved,
		CreatedAt:        start,
	}
	for _, u := range users {
		session.Players = append(session.Players, domain.PlayerSlot{UserID: u})
	}
	if err := f.sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestOrphanedSessionIsFinishedOnRejoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ongoingRecord(t, f, "orphan", time.Minute, "alice", "bob")

	snap, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{})
	if err != nil {
		t.Fatalf("expected the orphaned session to be released, got %v", err)
	}
	if snap.SessionID == "orphan" || snap.Status != domain.StatusWaiting {
		t.Fatalf("expected a fresh waiting session, got %+v", snap)
	}

	s := f.session(t, "orphan")
	if s.Status != domain.StatusFinished || s.Result != domain.ResultDraw || s.EndTime == nil {
		t.Fatalf("expected the orphan to finish as a draw, got %s/%s", s.Status, s.Result)
	}
	final := f.notes.final(t, "bob")
	if final.Reason != string(ReasonFault) {
		t.Fatalf("expected a fault resolution, got %+v", final)
	}
	r, _ := f.ratings.LoadRating(ctx, "bob", domain.ModeRapidFire)
	if r.Played != 1 || r.Tied != 1 || r.Rating != 1200 {
		t.Fatalf("expected one rated draw, got %+v", r)
	}
}

func TestSessionHeldElsewhereStillBlocksRejoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ongoingRecord(t, f, "remote", time.Minute, "alice", "bob")
	if err := f.tracker.Activate(ctx, "remote", time.Minute); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if _, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{}); !errors.Is(err, domain.ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
	if err := f.engine.Leave(ctx, "remote", "alice"); !errors.Is(err, domain.ErrSessionNotOngoing) {
		t.Fatalf("expected ErrSessionNotOngoing for a session run elsewhere, got %v", err)
	}
	if s := f.session(t, "remote"); s.Status != domain.StatusOngoing {
		t.Fatalf("a live session must not be touched, got %s", s.Status)
	}
}

func TestLeaveOrphanedSessionForfeits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ongoingRecord(t, f, "orphan", time.Minute, "alice", "bob")

	if err := f.engine.Leave(ctx, "orphan", "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	s := f.session(t, "orphan")
	if s.Status != domain.StatusFinished || s.Winner != "bob" {
		t.Fatalf("expected bob to win the abandoned session, got %s/%s", s.Status, s.Winner)
	}
	if final := f.notes.final(t, "bob"); final.Reason != string(ReasonForfeit) {
		t.Fatalf("expected a forfeit, got %+v", final)
	}
}

func TestOrphanWithoutTrackerWaitsForDeadline(t *testing.T) {
	f := newFixture(t)
	f.engine.tracker = nil
	ctx := context.Background()
	ongoingRecord(t, f, "orphan", 0, "alice", "bob")

	if _, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{}); !errors.Is(err, domain.ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession before the deadline, got %v", err)
	}
	f.clock.Advance(120*time.Second + DefaultConfig().TimeoutGrace)
	if _, err := f.engine.CreateOrMatch(ctx, "alice", domain.ModeRapidFire, domain.JoinSpec{}); err != nil {
		t.Fatalf("expected the expired session to be released, got %v", err)
	}
	if s := f.session(t, "orphan"); s.Status != domain.StatusFinished {
		t.Fatalf("expected the orphan to be finished, got %s", s.Status)
	}
}

func TestFailedForfeitIsCommittedOnRejoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startMatch(t, domain.ModeRapidFire)

	f.sessions.failSave.Store(true)
	if err := f.engine.Leave(ctx, id, "alice"); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the save failure to surface, got %v", err)
	}
	if n := len(f.notes.of("bob", domain.EventFinalResults)); n != 0 {
		t.Fatalf("nothing may be announced before the record is saved, got %d", n)
	}
	if f.engine.ActiveSessions() != 1 || !f.tracker.isActive(id) {
		t.Fatalf("runtime state must survive a failed resolution")
	}
	if _, err := f.engine.Submit(ctx, id, "bob", domain.Submission{UnitIndex: 0, SelectedOption: "b"}); !errors.Is(err, domain.ErrSessionNotOngoing) {
		t.Fatalf("a decided session must refuse answers, got %v", err)
	}
	if _, err := f.engine.CreateOrMatch(ctx, "bob", domain.ModeRapidFire, domain.JoinSpec{}); !errors.Is(err, domain.ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession while the store is down, got %v", err)
	}

	f.sessions.failSave.Store(false)
	snap, err := f.engine.CreateOrMatch(ctx, "bob", domain.ModeRapidFire, domain.JoinSpec{})
	if err != nil {
		t.Fatalf("bob rejoin: %v", err)
	}
	if snap.SessionID == id || snap.Status != domain.StatusWaiting {
		t.Fatalf("expected bob in a new waiting session, got %+v", snap)
	}

	final := f.notes.final(t, "bob")
	if final.Winner != "bob" || final.Reason != string(ReasonForfeit) {
		t.Fatalf("expected the original forfeit to stand, got %+v", final)
	}
	if s := f.session(t, id); s.Status != domain.StatusFinished || s.Winner != "bob" {
		t.Fatalf("expected a finished session won by bob, got %s/%s", s.Status, s.Winner)
	}
	r, _ := f.ratings.LoadRating(ctx, "bob", domain.ModeRapidFire)
	if r.Rating != 1216 || r.Played != 1 {
		t.Fatalf("retries must rate the session once, got %+v", r)
	}
	if f.engine.ActiveSessions() != 0 || f.tracker.isActive(id) {
		t.Fatalf("expected runtime state to be released")
	}
	if f.published.count() != 1 {
		t.Fatalf("expected results published once, got %d", f.published.count())
	}
}
