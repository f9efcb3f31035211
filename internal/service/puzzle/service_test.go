package puzzle

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-puzzle/internal/analysis"
	"github.com/park285/cheese-puzzle/internal/catalog"
	"github.com/park285/cheese-puzzle/internal/msgcat"
	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	"github.com/park285/cheese-puzzle/internal/rules"
	"github.com/park285/cheese-puzzle/internal/service/cache"
)

const (
	fenStart    = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	fenBackRank = "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1"
)

// firstMoveAnalyzer answers with the lexically smallest legal move, or with
// the override for a position when one is set.
type firstMoveAnalyzer struct {
	rules     *rules.Engine
	overrides map[string]string
	err       error
}

func (a *firstMoveAnalyzer) BestMove(ctx context.Context, fen string) (analysis.Suggestion, error) {
	if a.err != nil {
		return analysis.Suggestion{}, a.err
	}
	var mv rules.Move
	if text, ok := a.overrides[fen]; ok {
		parsed, err := rules.ParseUCI(text)
		if err != nil {
			return analysis.Suggestion{}, err
		}
		mv = parsed
	} else {
		moves, err := a.rules.LegalMoves(fen, "")
		if err != nil {
			return analysis.Suggestion{}, err
		}
		if len(moves) == 0 {
			return analysis.Suggestion{}, analysis.ErrNoMove
		}
		sort.Slice(moves, func(i, j int) bool { return moves[i].String() < moves[j].String() })
		mv = moves[0]
	}
	san, err := a.rules.SAN(fen, mv)
	if err != nil {
		return analysis.Suggestion{}, err
	}
	return analysis.Suggestion{Move: mv, SAN: san, Provider: "test", Rationale: analysis.Rationale{Text: san + " - test"}}, nil
}

type harness struct {
	svc  *Service
	repo Repository
	mr   *miniredis.Miniredis
}

func newHarness(t *testing.T, an Analyzer, policy corepuzzle.Policy) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	msgs, err := msgcat.New("en", "")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	lessons, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	repo := NewMemoryRepository()
	svc, err := NewService(Deps{
		Rules:    rules.New(),
		Analyzer: an,
		Store:    NewStore(cache.NewCacheServiceWithClient(rdb, nil), time.Hour),
		Repo:     repo,
		Lessons:  lessons,
		Messages: msgs,
	}, Config{Policy: policy, AnalysisTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	t.Cleanup(svc.Close)
	return &harness{svc: svc, repo: repo, mr: mr}
}

func kinds(up *Update) []string {
	out := make([]string, 0, len(up.Feedback))
	for _, fb := range up.Feedback {
		out = append(out, fb.Kind)
	}
	return out
}

func hasKind(up *Update, kind corepuzzle.NoticeKind) bool {
	for _, fb := range up.Feedback {
		if fb.Kind == string(kind) {
			return true
		}
	}
	return false
}

var player = SessionMeta{Room: "room-1", Sender: "user-1", PlayerName: "tester"}

func TestMateInOneCompletesSession(t *testing.T) {
	r := rules.New()
	h := newHarness(t, &firstMoveAnalyzer{rules: r, overrides: map[string]string{fenBackRank: "a1a8"}}, corepuzzle.Policy{})
	ctx := context.Background()

	up, err := h.svc.StartFromText(ctx, player, fenBackRank, "Mate", "beginner")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !hasKind(up, corepuzzle.NoticePuzzleStarted) {
		t.Fatalf("expected start notice, got %v", kinds(up))
	}
	if up.Feedback[0].Text != "Puzzle 1/1 - Your turn as White!" {
		t.Fatalf("unexpected start text %q", up.Feedback[0].Text)
	}
	id := up.Session.ID
	h.svc.Wait()

	sess, err := h.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.State.Expected == nil || sess.State.Expected.Move.String() != "a1a8" {
		t.Fatalf("expected move not resolved: %+v", sess.State.Expected)
	}

	up, err = h.svc.Submit(ctx, id, "a1a8")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !up.Session.State.Complete() {
		t.Fatalf("session should be complete, stage %s", up.Session.State.Stage)
	}
	for _, want := range []corepuzzle.NoticeKind{corepuzzle.NoticeMoveAccepted, corepuzzle.NoticePositionFinished, corepuzzle.NoticeSessionComplete} {
		if !hasKind(up, want) {
			t.Fatalf("missing %s in %v", want, kinds(up))
		}
	}
	for _, fb := range up.Feedback {
		if fb.Kind == string(corepuzzle.NoticePositionFinished) && !strings.Contains(fb.Text, "won by checkmate") {
			t.Fatalf("unexpected finish text %q", fb.Text)
		}
	}

	attempts, err := h.svc.History(ctx, player, 5)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("history: %v %d", err, len(attempts))
	}
	if attempts[0].Result != string(corepuzzle.ResultWon) || !strings.Contains(attempts[0].PGN, fenBackRank) {
		t.Fatalf("unexpected attempt %+v", attempts[0])
	}
	profile, err := h.svc.Profile(ctx, player)
	if err != nil || profile == nil {
		t.Fatalf("profile: %v %v", profile, err)
	}
	if profile.PositionsSolved != 1 || profile.SessionsFinished != 1 || profile.Streak != 1 || profile.LastLevel != "beginner" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestWrongFirstMoveAndIllegalInput(t *testing.T) {
	r := rules.New()
	h := newHarness(t, &firstMoveAnalyzer{rules: r, overrides: map[string]string{fenBackRank: "a1a8"}}, corepuzzle.Policy{})
	ctx := context.Background()

	up, err := h.svc.StartFromText(ctx, SessionMeta{}, fenBackRank, "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := up.Session.ID
	h.svc.Wait()

	up, err = h.svc.Submit(ctx, id, "a1a7")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !hasKind(up, corepuzzle.NoticeWrongFirstMove) {
		t.Fatalf("expected wrong first move, got %v", kinds(up))
	}
	if up.Session.State.Board != fenBackRank || up.Session.State.Stats.FirstMoveMisses != 1 {
		t.Fatalf("board must stay put: %+v", up.Session.State)
	}

	up, err = h.svc.Submit(ctx, id, "Qh7")
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected illegal move error, got %v", err)
	}
	if up == nil || !hasKind(up, corepuzzle.NoticeIllegalMove) || up.Feedback[0].Text != "Invalid move! Try again." {
		t.Fatalf("unexpected illegal update %+v", up)
	}
}

// gatedAnalyzer holds every answer until release is closed.
type gatedAnalyzer struct {
	inner   Analyzer
	release chan struct{}
}

func (g *gatedAnalyzer) BestMove(ctx context.Context, fen string) (analysis.Suggestion, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return analysis.Suggestion{}, ctx.Err()
	}
	return g.inner.BestMove(ctx, fen)
}

func TestSubmitBeforeAnalysisIsPending(t *testing.T) {
	gate := &gatedAnalyzer{inner: &firstMoveAnalyzer{rules: rules.New()}, release: make(chan struct{})}
	h := newHarness(t, gate, corepuzzle.Policy{})
	ctx := context.Background()

	up, err := h.svc.StartFromText(ctx, SessionMeta{}, fenStart, "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := up.Session.ID
	up, err = h.svc.Submit(ctx, id, "e2e4")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !hasKind(up, corepuzzle.NoticeAnalysisPending) || up.Session.State.Board != fenStart {
		t.Fatalf("expected analysis pending, got %v", kinds(up))
	}
	close(gate.release)
	h.svc.Wait()

	up, err = h.svc.Next(ctx, id)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !up.Session.State.Complete() || up.Session.State.Stats.Count(corepuzzle.ResultSkipped) != 1 {
		t.Fatalf("single position set should complete after skip: %+v", up.Session.State)
	}
	up, err = h.svc.Submit(ctx, id, "e2e4")
	if err != nil {
		t.Fatalf("submit after completion: %v", err)
	}
	if !hasKind(up, corepuzzle.NoticeSessionOver) {
		t.Fatalf("expected session over, got %v", kinds(up))
	}
}

func TestOpponentReplyFlow(t *testing.T) {
	r := rules.New()
	h := newHarness(t, &firstMoveAnalyzer{rules: r}, corepuzzle.Policy{})
	ctx := context.Background()

	up, err := h.svc.StartFromText(ctx, player, fenStart, "Opening", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := up.Session.ID
	updates, unsubscribe := h.svc.Hub().Subscribe(id, 16)
	defer unsubscribe()
	h.svc.Wait()

	sess, _ := h.svc.Get(ctx, id)
	best := sess.State.Expected.Move.String()
	up, err = h.svc.Submit(ctx, id, best)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if up.Session.State.Stage != corepuzzle.StageOpponentTurn || !hasKind(up, corepuzzle.NoticeOpponentThinking) {
		t.Fatalf("expected opponent turn, got %s %v", up.Session.State.Stage, kinds(up))
	}

	// a move during the opponent's turn is refused without a state change
	up, err = h.svc.Submit(ctx, id, "e7e5")
	if err != nil && !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("submit during opponent turn: %v", err)
	}

	h.svc.Wait()
	sess, _ = h.svc.Get(ctx, id)
	if sess.State.Stage != corepuzzle.StageAwaitingMove || len(sess.State.Line) != 2 || sess.State.Expected == nil {
		t.Fatalf("unexpected state after reply: %+v", sess.State)
	}
	if !sess.State.Line[1].Opponent {
		t.Fatalf("second ply should be the opponent's")
	}

	sawOpponent := false
	for {
		select {
		case u := <-updates:
			if u.Async && hasKind(&u, corepuzzle.NoticeOpponentMoved) {
				sawOpponent = true
			}
			continue
		default:
		}
		break
	}
	if !sawOpponent {
		t.Fatalf("subscriber did not receive the opponent move")
	}

	pgn, err := h.svc.PGN(ctx, id)
	if err != nil || !strings.Contains(pgn, "1.") {
		t.Fatalf("pgn: %q %v", pgn, err)
	}
}

func TestDeviationConfirmAndCancel(t *testing.T) {
	r := rules.New()
	h := newHarness(t, &firstMoveAnalyzer{rules: r}, corepuzzle.Policy{})
	ctx := context.Background()

	up, err := h.svc.StartFromText(ctx, SessionMeta{}, fenStart, "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := up.Session.ID
	h.svc.Wait()
	sess, _ := h.svc.Get(ctx, id)
	if _, err := h.svc.Submit(ctx, id, sess.State.Expected.Move.String()); err != nil {
		t.Fatalf("first move: %v", err)
	}
	h.svc.Wait()

	sess, _ = h.svc.Get(ctx, id)
	committed := sess.State.Board
	alt := ""
	moves, _ := r.LegalMoves(committed, "")
	for _, mv := range moves {
		if !mv.Equal(sess.State.Expected.Move) {
			alt = mv.String()
			break
		}
	}

	up, err = h.svc.Submit(ctx, id, alt)
	if err != nil {
		t.Fatalf("deviation: %v", err)
	}
	if up.Session.State.Stage != corepuzzle.StageAwaitingConfirmation || up.Session.State.Board != committed {
		t.Fatalf("deviation must not touch the board: %+v", up.Session.State)
	}
	up, err = h.svc.Cancel(ctx, id)
	if err != nil || up.Session.State.Board != committed || up.Session.State.Pending != nil {
		t.Fatalf("cancel: %v %+v", err, up.Session.State)
	}

	if _, err := h.svc.Submit(ctx, id, alt); err != nil {
		t.Fatalf("deviation again: %v", err)
	}
	up, err = h.svc.Confirm(ctx, id)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !hasKind(up, corepuzzle.NoticeDeviationAccepted) || up.Session.State.Stats.Deviations != 1 {
		t.Fatalf("unexpected confirm update %v %+v", kinds(up), up.Session.State.Stats)
	}
}

func TestAnalysisFailureSkipsPosition(t *testing.T) {
	h := newHarness(t, &firstMoveAnalyzer{rules: rules.New(), err: analysis.ErrAnalysisFailed}, corepuzzle.Policy{})
	ctx := context.Background()

	up, err := h.svc.StartFromText(ctx, SessionMeta{}, fenStart+"\n"+fenBackRank, "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.svc.Wait()
	sess, err := h.svc.Get(ctx, up.Session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sess.State.Complete() || sess.State.Stats.Count(corepuzzle.ResultAborted) != 2 {
		t.Fatalf("expected both positions aborted: %+v", sess.State)
	}
}

func TestHintPreviousAndBoard(t *testing.T) {
	r := rules.New()
	h := newHarness(t, &firstMoveAnalyzer{rules: r}, corepuzzle.Policy{MovesPerPosition: 1})
	ctx := context.Background()

	up, err := h.svc.StartFromText(ctx, SessionMeta{}, fenStart+","+fenBackRank, "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := up.Session.ID
	h.svc.Wait()

	up, err = h.svc.Hint(ctx, id)
	if err != nil || !hasKind(up, corepuzzle.NoticeHint) {
		t.Fatalf("hint: %v %v", err, kinds(up))
	}
	view := View(up.Session, up.Feedback)
	if view.Hint == nil || view.Rationale == "" || !view.AnalysisReady {
		t.Fatalf("hint should be visible in the view: %+v", view)
	}

	png, err := h.svc.BoardPNG(ctx, id, BoardOptions{Hint: true})
	if err != nil || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("board png: %v", err)
	}

	up, err = h.svc.Submit(ctx, id, up.Session.State.Expected.Move.String())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if up.Session.State.Cursor.Index != 1 {
		t.Fatalf("one move per position should advance, got index %d", up.Session.State.Cursor.Index)
	}
	h.svc.Wait()

	up, err = h.svc.Previous(ctx, id)
	if err != nil {
		t.Fatalf("previous: %v", err)
	}
	if up.Session.State.Cursor.Index != 0 || up.Session.State.Board != fenStart || up.Session.State.Expected != nil {
		t.Fatalf("previous must reload the first position: %+v", up.Session.State)
	}
}

func TestStartErrors(t *testing.T) {
	h := newHarness(t, &firstMoveAnalyzer{rules: rules.New()}, corepuzzle.Policy{})
	ctx := context.Background()

	if _, err := h.svc.StartFromText(ctx, SessionMeta{}, "not a fen", "", ""); !errors.Is(err, corepuzzle.ErrNoValidPositions) {
		t.Fatalf("expected no valid positions, got %v", err)
	}
	if _, err := h.svc.StartFromLesson(ctx, SessionMeta{}, 5, "beginner"); !errors.Is(err, catalog.ErrLessonUnavailable) {
		t.Fatalf("expected lesson unavailable, got %v", err)
	}
	up, err := h.svc.StartFromLesson(ctx, player, 14, "advanced")
	if err != nil {
		t.Fatalf("lesson: %v", err)
	}
	if up.Session.State.Set.Label() != "Mate in One | advanced" {
		t.Fatalf("unexpected label %q", up.Session.State.Set.Label())
	}
	active, err := h.svc.Active(ctx, player)
	if err != nil || active.ID != up.Session.ID {
		t.Fatalf("active session lookup: %v", err)
	}
	if _, err := h.svc.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoomAllowList(t *testing.T) {
	h := newHarness(t, &firstMoveAnalyzer{rules: rules.New()}, corepuzzle.Policy{})
	h.svc.allowedRooms = map[string]struct{}{"room-ok": {}}
	_, err := h.svc.StartFromText(context.Background(), SessionMeta{Room: "room-x", Sender: "u"}, fenStart, "", "")
	if !errors.Is(err, ErrRoomNotAllowed) {
		t.Fatalf("expected room not allowed, got %v", err)
	}
	if _, err := h.svc.StartFromText(context.Background(), SessionMeta{Source: SourceWeb, Room: "web", Sender: "u"}, fenStart, "", ""); err != nil {
		t.Fatalf("web sessions are not bound to chat rooms: %v", err)
	}
}

func TestPreviousNextKeepsProfile(t *testing.T) {
	r := rules.New()
	h := newHarness(t, &firstMoveAnalyzer{rules: r, overrides: map[string]string{fenBackRank: "a1a8"}}, corepuzzle.Policy{})
	ctx := context.Background()

	up, err := h.svc.StartFromText(ctx, player, fenBackRank+"\n"+fenStart, "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := up.Session.ID
	h.svc.Wait()
	if _, err := h.svc.Submit(ctx, id, "a1a8"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.svc.Wait()

	if _, err := h.svc.Previous(ctx, id); err != nil {
		t.Fatalf("previous: %v", err)
	}
	h.svc.Wait()
	up, err = h.svc.Next(ctx, id)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	h.svc.Wait()
	if up.Session.State.Cursor.Index != 1 || hasKind(up, corepuzzle.NoticePositionFinished) {
		t.Fatalf("next should return to index 1 without finishing: %v", kinds(up))
	}

	profile, err := h.svc.Profile(ctx, player)
	if err != nil || profile == nil {
		t.Fatalf("profile: %v %v", profile, err)
	}
	if profile.PositionsPlayed != 1 || profile.PositionsSolved != 1 || profile.PositionsSkipped != 0 || profile.Streak != 1 {
		t.Fatalf("revisit changed the profile: %+v", profile)
	}
	sess, err := h.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.State.Stats.Count(corepuzzle.ResultSkipped) != 0 || sess.State.Stats.Count(corepuzzle.ResultWon) != 1 {
		t.Fatalf("unexpected session results %+v", sess.State.Stats.Results)
	}
}
