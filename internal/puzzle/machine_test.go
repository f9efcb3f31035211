package puzzle

import (
	"testing"
	"time"

	"github.com/park285/cheese-puzzle/internal/rules"
)

func newTestMachine(movesPerPosition int) *Machine {
	return NewMachine(rules.New(), Policy{
		CounterDelay:     time.Second,
		AdvanceDelay:     2 * time.Second,
		MovesPerPosition: movesPerPosition,
	})
}

func setOf(fens ...string) PositionSet {
	set := PositionSet{}
	for _, f := range fens {
		set.Positions = append(set.Positions, Position{FEN: f})
	}
	return set
}

func uci(t *testing.T, s string) rules.Move {
	t.Helper()
	mv, err := rules.ParseUCI(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return mv
}

func requestOf(t *testing.T, effects []Effect) RequestAnalysis {
	t.Helper()
	for _, e := range effects {
		if r, ok := e.(RequestAnalysis); ok {
			return r
		}
	}
	t.Fatalf("no analysis request in %#v", effects)
	return RequestAnalysis{}
}

func hasNotice(effects []Effect, kind NoticeKind) bool {
	for _, e := range effects {
		if n, ok := e.(Notice); ok && n.Kind == kind {
			return true
		}
	}
	return false
}

func finished(effects []Effect) []PositionFinished {
	var out []PositionFinished
	for _, e := range effects {
		if f, ok := e.(PositionFinished); ok {
			out = append(out, f)
		}
	}
	return out
}

// resolve answers the in-flight request with mv.
func resolve(t *testing.T, m *Machine, s State, mv string) (State, []Effect) {
	t.Helper()
	if s.Inflight == nil {
		t.Fatalf("no request in flight (stage %s)", s.Stage)
	}
	return m.Reduce(s, AnalysisResolved{
		Seq:      s.Inflight.Seq,
		Index:    s.Inflight.Index,
		Expected: ExpectedMove{Move: uci(t, mv)},
	})
}

func TestSinglePositionMateCompletesSession(t *testing.T) {
	m := newTestMachine(0)
	s, effects := m.Start(setOf(fenBackRank))
	if s.Stage != StageAwaitingFirstMove || s.UserSide != rules.White {
		t.Fatalf("unexpected start: %s/%s", s.Stage, s.UserSide)
	}
	if req := requestOf(t, effects); req.Kind != RequestExpected || req.Delay != 0 {
		t.Fatalf("unexpected first request: %+v", req)
	}

	s, _ = resolve(t, m, s, "a1a8")
	s, effects = m.Reduce(s, Submit{Move: uci(t, "a1a8")})

	if s.Stage != StageComplete {
		t.Fatalf("expected session-complete, got %s", s.Stage)
	}
	done := finished(effects)
	if len(done) != 1 || done[0].Result != ResultWon {
		t.Fatalf("expected one won position, got %+v", done)
	}
	if !hasNotice(effects, NoticeSessionComplete) {
		t.Fatalf("missing completion notice")
	}
	var sawSession bool
	for _, e := range effects {
		if _, ok := e.(SessionFinished); ok {
			sawSession = true
		}
	}
	if !sawSession {
		t.Fatalf("missing SessionFinished effect")
	}
}

func TestSubmitBeforeAnalysisIsPending(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenBackRank))
	next, effects := m.Reduce(s, Submit{Move: uci(t, "a1a8")})
	if !hasNotice(effects, NoticeAnalysisPending) {
		t.Fatalf("expected pending notice")
	}
	if next.Board != s.Board || next.Stage != s.Stage {
		t.Fatalf("state changed while analysis pending")
	}
}

func TestFirstMoveMismatchLeavesStateUnchanged(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenBackRank))
	s, _ = resolve(t, m, s, "a1a8")

	next, effects := m.Reduce(s, Submit{Move: uci(t, "a1a2")})
	if !hasNotice(effects, NoticeWrongFirstMove) {
		t.Fatalf("expected wrong-first-move notice")
	}
	if next.Board != s.Board || next.Stage != StageAwaitingFirstMove || next.Pending != nil {
		t.Fatalf("first move mismatch must not change the position: %+v", next)
	}
	if next.Cursor != s.Cursor || next.Stats.MovesAccepted != 0 {
		t.Fatalf("cursor or counters moved")
	}
}

// playOpening plays 1.e4 e5 and leaves the user to move with g1f3 expected.
func playOpening(t *testing.T, m *Machine) State {
	t.Helper()
	s, _ := m.Start(setOf(fenStart))
	s, _ = resolve(t, m, s, "e2e4")

	s, effects := m.Reduce(s, Submit{Move: uci(t, "e2e4")})
	if s.Stage != StageOpponentTurn {
		t.Fatalf("expected opponent-turn, got %s", s.Stage)
	}
	req := requestOf(t, effects)
	if req.Kind != RequestCounter || req.Delay != time.Second {
		t.Fatalf("unexpected counter request: %+v", req)
	}

	s, effects = resolve(t, m, s, "e7e5")
	if s.Stage != StageAwaitingMove {
		t.Fatalf("expected awaiting-move, got %s", s.Stage)
	}
	if !hasNotice(effects, NoticeOpponentMoved) {
		t.Fatalf("missing opponent move notice")
	}
	s, _ = resolve(t, m, s, "g1f3")
	return s
}

func TestDeviationNeedsConfirmation(t *testing.T) {
	m := newTestMachine(0)
	s := playOpening(t, m)
	board := s.Board

	pending, effects := m.Reduce(s, Submit{Move: uci(t, "d2d4")})
	if pending.Stage != StageAwaitingConfirmation || pending.Pending == nil {
		t.Fatalf("expected pending move, got %+v", pending.Stage)
	}
	if pending.Board != board {
		t.Fatalf("board changed before confirmation")
	}
	if !hasNotice(effects, NoticeConfirmDeviation) {
		t.Fatalf("missing confirmation notice")
	}

	cancelled, effects := m.Reduce(pending, Cancel{})
	if cancelled.Stage != StageAwaitingMove || cancelled.Pending != nil || cancelled.Board != board {
		t.Fatalf("cancel did not restore: %+v", cancelled)
	}
	if !hasNotice(effects, NoticeMoveCancelled) {
		t.Fatalf("missing cancel notice")
	}
	if cancelled.Expected == nil || cancelled.Expected.Move.String() != "g1f3" {
		t.Fatalf("expected move lost on cancel")
	}

	pending, _ = m.Reduce(cancelled, Submit{Move: uci(t, "d2d4")})
	confirmed, effects := m.Reduce(pending, Confirm{})
	if confirmed.Stage != StageOpponentTurn {
		t.Fatalf("expected opponent-turn after confirm, got %s", confirmed.Stage)
	}
	if confirmed.Board == board || confirmed.Stats.Deviations != 1 {
		t.Fatalf("confirm did not commit the move")
	}
	if !hasNotice(effects, NoticeDeviationAccepted) {
		t.Fatalf("missing deviation notice")
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	m := newTestMachine(0)
	s := playOpening(t, m)
	next, effects := m.Reduce(s, Confirm{})
	if !hasNotice(effects, NoticeNothingPending) || next.Board != s.Board {
		t.Fatalf("confirm without pending must be a no-op")
	}
}

func TestSubmitDuringOpponentTurn(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenStart))
	s, _ = resolve(t, m, s, "e2e4")
	s, _ = m.Reduce(s, Submit{Move: uci(t, "e2e4")})

	next, effects := m.Reduce(s, Submit{Move: uci(t, "d2d4")})
	if !hasNotice(effects, NoticeOpponentThinking) || next.Board != s.Board {
		t.Fatalf("moves during opponent turn must be refused")
	}
}

func TestCompletesAfterOneMovePerPosition(t *testing.T) {
	m := newTestMachine(1)
	s, _ := m.Start(setOf(fenStart, fenStart, fenBackRank))
	best := []string{"e2e4", "d2d4", "a1a8"}

	for i, mv := range best {
		if s.Cursor.Index != i {
			t.Fatalf("expected index %d, got %d", i, s.Cursor.Index)
		}
		s, _ = resolve(t, m, s, mv)
		var effects []Effect
		s, effects = m.Reduce(s, Submit{Move: uci(t, mv)})
		if i < len(best)-1 {
			req := requestOf(t, effects)
			if req.Delay != 2*time.Second || req.Index != i+1 {
				t.Fatalf("expected paced request for next position, got %+v", req)
			}
		}
	}
	if s.Stage != StageComplete {
		t.Fatalf("expected complete, got %s", s.Stage)
	}
	if s.Stats.Count(ResultSolved) != 2 || s.Stats.Count(ResultWon) != 1 {
		t.Fatalf("unexpected results: %+v", s.Stats.Results)
	}
	if s.Stats.MovesAccepted != 3 {
		t.Fatalf("expected 3 accepted moves, got %d", s.Stats.MovesAccepted)
	}
}

func TestStaleResolutionDiscarded(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenStart, fenBackRank))
	old := *s.Inflight

	s, _ = m.Reduce(s, Next{})
	if s.Cursor.Index != 1 {
		t.Fatalf("expected index 1, got %d", s.Cursor.Index)
	}

	next, effects := m.Reduce(s, AnalysisResolved{Seq: old.Seq, Index: old.Index, Expected: ExpectedMove{Move: uci(t, "e2e4")}})
	if len(effects) != 1 {
		t.Fatalf("expected only a discard effect, got %#v", effects)
	}
	if _, ok := effects[0].(StaleDiscarded); !ok {
		t.Fatalf("expected StaleDiscarded, got %T", effects[0])
	}
	if next.Expected != nil || next.Inflight == nil || next.Inflight.Seq != s.Inflight.Seq {
		t.Fatalf("stale response leaked into state")
	}
}

func TestAnalysisFailureSkipsPosition(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenStart, fenBackRank))
	s, effects := m.Reduce(s, AnalysisFailed{Seq: s.Inflight.Seq, Index: 0, Reason: "timeout"})

	if s.Cursor.Index != 1 || s.Stage != StageAwaitingFirstMove {
		t.Fatalf("expected to move to next position, got %d/%s", s.Cursor.Index, s.Stage)
	}
	if !hasNotice(effects, NoticeAnalysisFailed) {
		t.Fatalf("missing failure notice")
	}
	done := finished(effects)
	if len(done) != 1 || done[0].Result != ResultAborted {
		t.Fatalf("expected aborted record, got %+v", done)
	}
}

func TestIllegalSuggestionAborts(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenBackRank))
	s, effects := resolve(t, m, s, "e2e4")
	if s.Stage != StageComplete || !hasNotice(effects, NoticeAnalysisFailed) {
		t.Fatalf("illegal suggestion must be treated as failure, got %s", s.Stage)
	}
}

func TestPreviousThenNextReturnsToSamePosition(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenStart, fenBackRank))
	s, _ = m.Reduce(s, Next{})
	before := s

	s, _ = m.Reduce(s, Previous{})
	if s.Cursor.Index != 0 || s.Board != fenStart {
		t.Fatalf("previous did not restore index 0")
	}
	s, effects := m.Reduce(s, Next{})
	if s.Cursor.Index != before.Cursor.Index || s.Board != before.Board {
		t.Fatalf("expected same position after previous/next")
	}
	req := requestOf(t, effects)
	if req.Seq <= before.Inflight.Seq || s.Expected != nil {
		t.Fatalf("expected a fresh request, got seq %d (before %d)", req.Seq, before.Inflight.Seq)
	}
}

func TestPreviousAtFirstPosition(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenStart))
	next, effects := m.Reduce(s, Previous{})
	if !hasNotice(effects, NoticeAtFirst) || next.Cursor.Index != 0 {
		t.Fatalf("expected at-first notice")
	}
}

func TestResetReturnsToStart(t *testing.T) {
	m := newTestMachine(0)
	s := playOpening(t, m)
	s, effects := m.Reduce(s, Reset{})
	if s.Board != fenStart || s.Stage != StageAwaitingFirstMove || len(s.Line) != 0 {
		t.Fatalf("reset did not restore the puzzle start")
	}
	if !hasNotice(effects, NoticePositionReset) {
		t.Fatalf("missing reset notice")
	}
}

func TestHintRevealsExpectedMove(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenBackRank))

	_, effects := m.Reduce(s, Hint{})
	if !hasNotice(effects, NoticeNoHint) {
		t.Fatalf("expected no-hint before analysis")
	}

	s, _ = resolve(t, m, s, "a1a8")
	s, effects = m.Reduce(s, Hint{})
	if !hasNotice(effects, NoticeHint) || s.Hint == nil || s.Hint.String() != "a1a8" {
		t.Fatalf("expected hint a1a8")
	}
	s, effects = m.Reduce(s, Hint{})
	if !hasNotice(effects, NoticeHintAgain) {
		t.Fatalf("expected repeated hint")
	}
	if s.Stats.HintsUsed != 1 || s.Stage != StageAwaitingFirstMove {
		t.Fatalf("hint must not change stage or double count: %+v", s.Stats)
	}
}

func TestOpponentMateEndsPositionAsLoss(t *testing.T) {
	m := newTestMachine(0)
	// white tucks the king into the corner, black mates on a1
	s, _ := m.Start(setOf("r5k1/8/8/8/8/8/5PPP/6K1 w - - 0 1"))
	s, _ = resolve(t, m, s, "g1h1")
	s, _ = m.Reduce(s, Submit{Move: uci(t, "g1h1")})
	s, effects := resolve(t, m, s, "a8a1")

	done := finished(effects)
	if len(done) != 1 || done[0].Result != ResultLost {
		t.Fatalf("expected lost position, got %+v", done)
	}
	if s.Stage != StageComplete {
		t.Fatalf("expected complete, got %s", s.Stage)
	}
}

func TestUnloadablePositionIsSkipped(t *testing.T) {
	m := newTestMachine(0)
	s, effects := m.Start(setOf("k7/8/8/8/8/8/8/K7 x - - 0 1", fenBackRank))
	if s.Cursor.Index != 1 {
		t.Fatalf("expected unloadable position to be skipped, index %d", s.Cursor.Index)
	}
	if !hasNotice(effects, NoticeInvalidPosition) {
		t.Fatalf("missing invalid position notice")
	}
}

func TestRevisitedPositionKeepsItsResult(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenBackRank, fenStart))
	s, _ = resolve(t, m, s, "a1a8")
	s, _ = m.Reduce(s, Submit{Move: uci(t, "a1a8")})
	if s.Cursor.Index != 1 || !s.Done(0) {
		t.Fatalf("expected position 0 finished, cursor %d", s.Cursor.Index)
	}

	s, _ = m.Reduce(s, Previous{})
	s, effects := m.Reduce(s, Next{})
	if s.Cursor.Index != 1 || s.Stage != StageAwaitingFirstMove {
		t.Fatalf("expected to return to index 1, got %d/%s", s.Cursor.Index, s.Stage)
	}
	if len(finished(effects)) != 0 || hasNotice(effects, NoticePositionFinished) {
		t.Fatalf("next over a finished position must not record it again: %#v", effects)
	}
	if s.Stats.Count(ResultWon) != 1 || s.Stats.Count(ResultSkipped) != 0 {
		t.Fatalf("unexpected results after revisit: %+v", s.Stats.Results)
	}

	// solving it again is reported as a replay and not recounted
	s, _ = m.Reduce(s, Previous{})
	s, _ = resolve(t, m, s, "a1a8")
	s, effects = m.Reduce(s, Submit{Move: uci(t, "a1a8")})
	done := finished(effects)
	if len(done) != 1 || !done[0].Replay || s.Stats.Count(ResultWon) != 1 {
		t.Fatalf("expected a replay record, got %+v (results %+v)", done, s.Stats.Results)
	}
}

func TestReopenedSessionCompletesAgain(t *testing.T) {
	m := newTestMachine(0)
	s, _ := m.Start(setOf(fenBackRank))
	s, _ = resolve(t, m, s, "a1a8")
	s, _ = m.Reduce(s, Submit{Move: uci(t, "a1a8")})

	s, _ = m.Reduce(s, Previous{})
	if s.Stage != StageAwaitingFirstMove {
		t.Fatalf("previous should reopen the last position, got %s", s.Stage)
	}
	s, effects := m.Reduce(s, Next{})
	if s.Stage != StageComplete {
		t.Fatalf("expected complete, got %s", s.Stage)
	}
	var again bool
	for _, e := range effects {
		if f, ok := e.(SessionFinished); ok {
			again = f.Again
		}
	}
	if !again {
		t.Fatalf("second completion should be flagged")
	}
}

func TestHintRefusedWhileConfirming(t *testing.T) {
	m := newTestMachine(0)
	s := playOpening(t, m)
	pending, _ := m.Reduce(s, Submit{Move: uci(t, "d2d4")})

	next, effects := m.Reduce(pending, Hint{})
	if !hasNotice(effects, NoticeNoHint) || next.Hint != nil || next.Stats.HintsUsed != 0 {
		t.Fatalf("hint must wait until the pending move is resolved")
	}
	if next.Stage != StageAwaitingConfirmation || next.Pending == nil {
		t.Fatalf("hint changed the confirmation state")
	}
}
