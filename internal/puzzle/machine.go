package puzzle

import (
	"fmt"
	"time"

	"github.com/park285/cheese-puzzle/internal/rules"
)

// Rules is the subset of the rules engine the reducer needs.
type Rules interface {
	SideToMove(fen string) (rules.Side, error)
	Apply(fen string, mv rules.Move) (rules.Applied, error)
}

// Machine reduces session events into a new state and a list of effects.
// It never performs I/O; callers run the returned effects.
type Machine struct {
	Rules  Rules
	Policy Policy
}

func NewMachine(r Rules, p Policy) *Machine {
	return &Machine{Rules: r, Policy: p}
}

// Start enters the first position of set.
func (m *Machine) Start(set PositionSet) (State, []Effect) {
	s := State{Set: set, Stats: Stats{Results: map[Result]int{}}}
	return m.enter(s, 0, 0, nil)
}

func (m *Machine) Reduce(prev State, ev Event) (State, []Effect) {
	s := prev.clone()
	switch e := ev.(type) {
	case Submit:
		return m.submit(prev, s, e)
	case Confirm:
		return m.confirm(prev, s)
	case Cancel:
		return m.cancel(prev, s)
	case Hint:
		return m.hint(prev, s)
	case AnalysisResolved:
		return m.resolved(prev, s, e)
	case AnalysisFailed:
		return m.failed(prev, s, e)
	case Next:
		if s.Complete() {
			return prev, []Effect{Notice{Kind: NoticeSessionOver}}
		}
		if s.Done(s.Cursor.Index) {
			// revisited through Previous; its result stands
			return m.enter(s, s.Cursor.Index+1, 0, nil)
		}
		return m.finish(s, ResultSkipped, 0, nil)
	case Previous:
		if s.Cursor.Index == 0 {
			return prev, []Effect{Notice{Kind: NoticeAtFirst}}
		}
		return m.enter(s, s.Cursor.Index-1, 0, nil)
	case Reset:
		if s.Complete() {
			return prev, []Effect{Notice{Kind: NoticeSessionOver}}
		}
		return m.enter(s, s.Cursor.Index, 0, []Effect{Notice{Kind: NoticePositionReset, Index: s.Cursor.Index, Total: s.Total()}})
	default:
		panic(fmt.Sprintf("puzzle: unknown event %T", ev))
	}
}

func (m *Machine) submit(prev, s State, e Submit) (State, []Effect) {
	switch {
	case s.Complete():
		return prev, []Effect{Notice{Kind: NoticeSessionOver}}
	case s.Stage == StageOpponentTurn:
		return prev, []Effect{Notice{Kind: NoticeOpponentThinking}}
	case !s.Stage.acceptsMoves():
		return prev, nil
	case s.Expected == nil:
		return prev, []Effect{Notice{Kind: NoticeAnalysisPending}}
	}

	applied, err := m.Rules.Apply(s.Board, e.Move)
	if err != nil {
		// callers filter illegal input first; anything that slips through is a no-op
		return prev, []Effect{Notice{Kind: NoticeIllegalMove, Move: e.Move, Detail: err.Error()}}
	}
	if applied.Move.Equal(s.Expected.Move) {
		return m.commit(s, applied, true)
	}

	if s.Stage == StageAwaitingFirstMove {
		s = prev.clone()
		s.Stats.FirstMoveMisses++
		return s, []Effect{Notice{Kind: NoticeWrongFirstMove, Move: applied.Move, SAN: applied.SAN}}
	}

	s.Pending = &PendingMove{Applied: applied}
	s.Stage = StageAwaitingConfirmation
	return s, []Effect{Notice{Kind: NoticeConfirmDeviation, Move: applied.Move, SAN: applied.SAN}}
}

func (m *Machine) confirm(prev, s State) (State, []Effect) {
	if s.Stage != StageAwaitingConfirmation || s.Pending == nil {
		return prev, []Effect{Notice{Kind: NoticeNothingPending}}
	}
	applied := s.Pending.Applied
	s.Pending = nil
	s.Stats.Deviations++
	s.Deviated = true
	return m.commit(s, applied, false)
}

func (m *Machine) cancel(prev, s State) (State, []Effect) {
	if s.Stage != StageAwaitingConfirmation || s.Pending == nil {
		return prev, []Effect{Notice{Kind: NoticeNothingPending}}
	}
	s.Pending = nil
	s.Stage = StageAwaitingMove
	return s, []Effect{Notice{Kind: NoticeMoveCancelled}}
}

func (m *Machine) hint(prev, s State) (State, []Effect) {
	if !s.Stage.allowsHint() || s.Expected == nil {
		return prev, []Effect{Notice{Kind: NoticeNoHint}}
	}
	kind := NoticeHint
	if s.Hint != nil {
		kind = NoticeHintAgain
	}
	mv := s.Expected.Move
	s.Hint = &mv
	if !s.HintUsed {
		s.HintUsed = true
		s.Stats.HintsUsed++
	}
	return s, []Effect{Notice{Kind: kind, Move: mv, SAN: s.Expected.SAN}}
}

// commit plays a user move that has been accepted.
func (m *Machine) commit(s State, applied rules.Applied, best bool) (State, []Effect) {
	s.Board = applied.FEN
	s.Cursor.MovesPlayed++
	s.Stats.MovesAccepted++
	s.Line = append(s.Line, Ply{Side: s.UserSide, Move: applied.Move, SAN: applied.SAN, FEN: applied.FEN, Best: best})
	s.Expected = nil
	s.Pending = nil
	s.Hint = nil

	kind := NoticeMoveAccepted
	if !best {
		kind = NoticeDeviationAccepted
	}
	effects := []Effect{Notice{Kind: kind, Move: applied.Move, SAN: applied.SAN}}

	if applied.Status.Terminal() {
		return m.finish(s, resultOf(applied, s.UserSide), m.Policy.AdvanceDelay, effects)
	}
	if limit := m.Policy.MovesPerPosition; limit > 0 && s.Cursor.MovesPlayed >= limit {
		result := ResultSolved
		if s.Deviated {
			result = ResultCompleted
		}
		return m.finish(s, result, m.Policy.AdvanceDelay, effects)
	}

	s.Stage = StageOpponentTurn
	req := m.issue(&s, RequestCounter)
	effects = append(effects,
		Notice{Kind: NoticeOpponentThinking},
		RequestAnalysis{Request: req, Delay: m.Policy.CounterDelay},
	)
	return s, effects
}

func (m *Machine) resolved(prev, s State, e AnalysisResolved) (State, []Effect) {
	if !s.owns(e.Seq, e.Index) {
		return prev, []Effect{StaleDiscarded{Seq: e.Seq}}
	}
	req := *s.Inflight
	s.Inflight = nil

	if req.Kind == RequestExpected {
		if _, err := m.Rules.Apply(s.Board, e.Expected.Move); err != nil {
			return m.abort(s, err.Error())
		}
		exp := e.Expected
		s.Expected = &exp
		return s, nil
	}

	applied, err := m.Rules.Apply(s.Board, e.Expected.Move)
	if err != nil {
		return m.abort(s, err.Error())
	}
	s.Board = applied.FEN
	s.Line = append(s.Line, Ply{Side: s.UserSide.Opponent(), Move: applied.Move, SAN: applied.SAN, FEN: applied.FEN, Opponent: true})
	effects := []Effect{Notice{Kind: NoticeOpponentMoved, Move: applied.Move, SAN: applied.SAN}}

	if applied.Status.Terminal() {
		return m.finish(s, resultOf(applied, s.UserSide), m.Policy.AdvanceDelay, effects)
	}
	s.Stage = StageAwaitingMove
	next := m.issue(&s, RequestExpected)
	effects = append(effects, RequestAnalysis{Request: next})
	return s, effects
}

func (m *Machine) failed(prev, s State, e AnalysisFailed) (State, []Effect) {
	if !s.owns(e.Seq, e.Index) {
		return prev, []Effect{StaleDiscarded{Seq: e.Seq}}
	}
	s.Inflight = nil
	return m.abort(s, e.Reason)
}

func (m *Machine) abort(s State, reason string) (State, []Effect) {
	effects := []Effect{Notice{Kind: NoticeAnalysisFailed, Index: s.Cursor.Index, Detail: reason}}
	return m.finish(s, ResultAborted, m.Policy.AdvanceDelay, effects)
}

// finish records the current position's result and moves to the next one.
// A position played again after Previous keeps its first result in Stats.
func (m *Machine) finish(s State, result Result, delay time.Duration, effects []Effect) (State, []Effect) {
	pos, _ := s.Current()
	replay := s.Done(s.Cursor.Index)
	if !replay {
		s.Stats.Results = countResult(s.Stats.Results, result)
		s.Finished = append(s.Finished, s.Cursor.Index)
	}
	r := result
	s.LastFinal = &r
	effects = append(effects,
		Notice{Kind: NoticePositionFinished, Index: s.Cursor.Index, Total: s.Total(), Result: result, Side: s.UserSide},
		PositionFinished{
			Index:       s.Cursor.Index,
			Position:    pos,
			Result:      result,
			Line:        append([]Ply(nil), s.Line...),
			MovesPlayed: s.Cursor.MovesPlayed,
			HintUsed:    s.HintUsed,
			Deviated:    s.Deviated,
			Replay:      replay,
		},
	)
	return m.enter(s, s.Cursor.Index+1, delay, effects)
}

// enter makes index i current. Positions the rules engine cannot load are
// skipped; running off the end completes the session.
func (m *Machine) enter(s State, i int, delay time.Duration, effects []Effect) (State, []Effect) {
	for {
		s.Expected = nil
		s.Pending = nil
		s.Inflight = nil
		s.Hint = nil
		s.HintUsed = false
		s.Deviated = false
		s.Line = nil
		s.Cursor = Cursor{Index: i}

		if i >= s.Set.Len() {
			s.Stage = StageComplete
			effects = append(effects,
				Notice{Kind: NoticeSessionComplete, Total: s.Total()},
				SessionFinished{Total: s.Total(), Stats: s.Stats, Again: s.Ended},
			)
			s.Ended = true
			return s, effects
		}

		pos := s.Set.Positions[i]
		side, err := m.Rules.SideToMove(pos.FEN)
		if err != nil {
			if !s.Done(i) {
				s.Stats.Results = countResult(s.Stats.Results, ResultAborted)
				s.Finished = append(s.Finished, i)
			}
			effects = append(effects, Notice{Kind: NoticeInvalidPosition, Index: i, Detail: err.Error()})
			i++
			continue
		}

		s.Board = pos.FEN
		s.UserSide = side
		s.Stage = StageAwaitingFirstMove
		req := m.issue(&s, RequestExpected)
		effects = append(effects,
			Notice{Kind: NoticePuzzleStarted, Index: i, Total: s.Total(), Side: side},
			RequestAnalysis{Request: req, Delay: delay},
		)
		return s, effects
	}
}

func countResult(results map[Result]int, r Result) map[Result]int {
	if results == nil {
		results = map[Result]int{}
	}
	results[r]++
	return results
}

func (m *Machine) issue(s *State, kind RequestKind) Request {
	s.Seq++
	req := Request{Seq: s.Seq, Kind: kind, Index: s.Cursor.Index, FEN: s.Board}
	s.Inflight = &req
	return req
}

func (s State) owns(seq uint64, index int) bool {
	return s.Inflight != nil && s.Inflight.Seq == seq && s.Inflight.Index == index
}

func resultOf(applied rules.Applied, user rules.Side) Result {
	switch applied.Status {
	case rules.StatusCheckmate:
		if applied.Winner == user {
			return ResultWon
		}
		return ResultLost
	case rules.StatusStalemate:
		return ResultStalemate
	default:
		return ResultDraw
	}
}
