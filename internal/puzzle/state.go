package puzzle

import (
	"slices"
	"time"

	"github.com/park285/cheese-puzzle/internal/rules"
)

type Stage string

const (
	StageAwaitingFirstMove    Stage = "awaiting-first-move"
	StageAwaitingMove         Stage = "awaiting-move"
	StageAwaitingConfirmation Stage = "awaiting-confirmation"
	StageOpponentTurn         Stage = "opponent-turn"
	StageComplete             Stage = "session-complete"
)

// acceptsMoves reports whether the user may submit a move in this stage.
func (s Stage) acceptsMoves() bool {
	switch s {
	case StageAwaitingFirstMove, StageAwaitingMove, StageAwaitingConfirmation:
		return true
	}
	return false
}

func (s Stage) allowsHint() bool {
	return s == StageAwaitingFirstMove || s == StageAwaitingMove
}

type RequestKind string

const (
	RequestExpected RequestKind = "expected"
	RequestCounter  RequestKind = "counter"
)

// Request identifies an analysis call; only the one in flight may resolve.
type Request struct {
	Seq   uint64      `json:"seq"`
	Kind  RequestKind `json:"kind"`
	Index int         `json:"index"`
	FEN   string      `json:"fen"`
}

type ExpectedMove struct {
	Move      rules.Move `json:"move"`
	SAN       string     `json:"san"`
	Rationale string     `json:"rationale,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Provider  string     `json:"provider,omitempty"`
}

// PendingMove holds a legal non-best move until the user confirms it.
type PendingMove struct {
	Applied rules.Applied `json:"applied"`
}

type Cursor struct {
	Index       int `json:"index"`
	MovesPlayed int `json:"moves_played"`
}

type Ply struct {
	Side     rules.Side `json:"side"`
	Move     rules.Move `json:"move"`
	SAN      string     `json:"san"`
	FEN      string     `json:"fen"`
	Best     bool       `json:"best,omitempty"`
	Opponent bool       `json:"opponent,omitempty"`
}

type Result string

const (
	ResultWon       Result = "won"
	ResultLost      Result = "lost"
	ResultDraw      Result = "draw"
	ResultStalemate Result = "stalemate"
	ResultSolved    Result = "solved"
	ResultCompleted Result = "completed"
	ResultSkipped   Result = "skipped"
	ResultAborted   Result = "aborted"
)

type Stats struct {
	MovesAccepted   int            `json:"moves_accepted"`
	FirstMoveMisses int            `json:"first_move_misses"`
	Deviations      int            `json:"deviations"`
	HintsUsed       int            `json:"hints_used"`
	Results         map[Result]int `json:"results,omitempty"`
}

func (s Stats) Count(r Result) int { return s.Results[r] }

// State is everything the reducer owns for one session.
type State struct {
	Set       PositionSet   `json:"set"`
	Cursor    Cursor        `json:"cursor"`
	Stage     Stage         `json:"stage"`
	Board     string        `json:"board"`
	UserSide  rules.Side    `json:"user_side"`
	Expected  *ExpectedMove `json:"expected,omitempty"`
	Pending   *PendingMove  `json:"pending,omitempty"`
	Inflight  *Request      `json:"inflight,omitempty"`
	Hint      *rules.Move   `json:"hint,omitempty"`
	HintUsed  bool          `json:"hint_used,omitempty"`
	Deviated  bool          `json:"deviated,omitempty"`
	Line      []Ply         `json:"line,omitempty"`
	Seq       uint64        `json:"seq"`
	Stats     Stats         `json:"stats"`
	LastFinal *Result       `json:"last_result,omitempty"`
	// Finished lists the indexes that already have a result.
	Finished []int `json:"finished,omitempty"`
	// Ended is set the first time the session reaches session-complete.
	Ended bool `json:"ended,omitempty"`
}

func (s State) Total() int { return s.Set.Len() }

func (s State) Complete() bool { return s.Stage == StageComplete }

// Done reports whether position i already has a result in this session.
func (s State) Done(i int) bool { return slices.Contains(s.Finished, i) }

// Current returns the position under the cursor.
func (s State) Current() (Position, bool) {
	if s.Cursor.Index < 0 || s.Cursor.Index >= s.Set.Len() {
		return Position{}, false
	}
	return s.Set.Positions[s.Cursor.Index], true
}

func (s State) clone() State {
	out := s
	if s.Expected != nil {
		e := *s.Expected
		e.Tags = append([]string(nil), s.Expected.Tags...)
		out.Expected = &e
	}
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	if s.Inflight != nil {
		r := *s.Inflight
		out.Inflight = &r
	}
	if s.Hint != nil {
		h := *s.Hint
		out.Hint = &h
	}
	if s.LastFinal != nil {
		r := *s.LastFinal
		out.LastFinal = &r
	}
	out.Line = append([]Ply(nil), s.Line...)
	out.Finished = append([]int(nil), s.Finished...)
	out.Stats.Results = make(map[Result]int, len(s.Stats.Results))
	for k, v := range s.Stats.Results {
		out.Stats.Results[k] = v
	}
	return out
}

// Policy carries pacing and scoring knobs.
type Policy struct {
	CounterDelay time.Duration
	AdvanceDelay time.Duration
	// MovesPerPosition ends a position after that many accepted user moves;
	// zero plays on until the game reaches a result.
	MovesPerPosition int
}

func DefaultPolicy() Policy {
	return Policy{
		CounterDelay: time.Second,
		AdvanceDelay: 2 * time.Second,
	}
}
