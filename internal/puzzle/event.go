package puzzle

import (
	"time"

	"github.com/park285/cheese-puzzle/internal/rules"
)

// Event is an input to Machine.Reduce.
type Event interface{ isEvent() }

type (
	Submit  struct{ Move rules.Move }
	Confirm struct{}
	Cancel  struct{}
	Hint    struct{}
	Next    struct{}
	// Previous steps back one position in the original set.
	Previous struct{}
	Reset    struct{}

	AnalysisResolved struct {
		Seq      uint64
		Index    int
		Expected ExpectedMove
	}
	AnalysisFailed struct {
		Seq    uint64
		Index  int
		Reason string
	}
)

func (Submit) isEvent()           {}
func (Confirm) isEvent()          {}
func (Cancel) isEvent()           {}
func (Hint) isEvent()             {}
func (Next) isEvent()             {}
func (Previous) isEvent()         {}
func (Reset) isEvent()            {}
func (AnalysisResolved) isEvent() {}
func (AnalysisFailed) isEvent()   {}

// Effect is an output of Machine.Reduce for the caller to carry out.
type Effect interface{ isEffect() }

type RequestAnalysis struct {
	Request
	Delay time.Duration
}

type NoticeKind string

const (
	NoticePuzzleStarted     NoticeKind = "puzzle_started"
	NoticeAnalysisPending   NoticeKind = "analysis_pending"
	NoticeWrongFirstMove    NoticeKind = "wrong_first_move"
	NoticeIllegalMove       NoticeKind = "illegal_move"
	NoticeConfirmDeviation  NoticeKind = "confirm_deviation"
	NoticeMoveCancelled     NoticeKind = "move_cancelled"
	NoticeNothingPending    NoticeKind = "nothing_pending"
	NoticeMoveAccepted      NoticeKind = "move_accepted"
	NoticeDeviationAccepted NoticeKind = "deviation_accepted"
	NoticeOpponentThinking  NoticeKind = "opponent_thinking"
	NoticeOpponentMoved     NoticeKind = "opponent_moved"
	NoticePositionFinished  NoticeKind = "position_finished"
	NoticeAnalysisFailed    NoticeKind = "analysis_failed"
	NoticeInvalidPosition   NoticeKind = "invalid_position"
	NoticeHint              NoticeKind = "hint"
	NoticeHintAgain         NoticeKind = "hint_again"
	NoticeNoHint            NoticeKind = "no_hint"
	NoticeAtFirst           NoticeKind = "at_first"
	NoticePositionReset     NoticeKind = "position_reset"
	NoticeSessionComplete   NoticeKind = "session_complete"
	NoticeSessionOver       NoticeKind = "session_over"
)

// Notice is user-facing feedback; transports render it through the message catalog.
type Notice struct {
	Kind   NoticeKind
	Index  int
	Total  int
	Side   rules.Side
	Move   rules.Move
	SAN    string
	Result Result
	Detail string
}

type PositionFinished struct {
	Index       int
	Position    Position
	Result      Result
	Line        []Ply
	MovesPlayed int
	HintUsed    bool
	Deviated    bool
	// Replay is set when the position already had a result in this session.
	Replay bool
}

type SessionFinished struct {
	Total int
	Stats Stats
	// Again is set when a session reopened by Previous completes a second time.
	Again bool
}

type StaleDiscarded struct {
	Seq uint64
}

func (RequestAnalysis) isEffect()  {}
func (Notice) isEffect()           {}
func (PositionFinished) isEffect() {}
func (SessionFinished) isEffect()  {}
func (StaleDiscarded) isEffect()   {}
