package puzzledto

import "time"

type MoveView struct {
	UCI string `json:"uci"`
	SAN string `json:"san,omitempty"`
}

type PlyView struct {
	Side     string `json:"side"`
	UCI      string `json:"uci"`
	SAN      string `json:"san"`
	FEN      string `json:"fen"`
	Best     bool   `json:"best,omitempty"`
	Opponent bool   `json:"opponent,omitempty"`
}

type StatsView struct {
	MovesAccepted   int            `json:"moves_accepted"`
	FirstMoveMisses int            `json:"first_move_misses"`
	Deviations      int            `json:"deviations"`
	HintsUsed       int            `json:"hints_used"`
	Results         map[string]int `json:"results"`
}

type FeedbackView struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Move   string `json:"move,omitempty"`
	SAN    string `json:"san,omitempty"`
	Result string `json:"result,omitempty"`
}

// SessionView is the transport shape of a session. The expected move is never
// exposed; Hint carries it only after the user asked for one.
type SessionView struct {
	ID            string         `json:"id"`
	Title         string         `json:"title,omitempty"`
	Level         string         `json:"level,omitempty"`
	Label         string         `json:"label,omitempty"`
	Index         int            `json:"index"`
	Total         int            `json:"total"`
	Stage         string         `json:"stage"`
	FEN           string         `json:"fen"`
	StartFEN      string         `json:"start_fen,omitempty"`
	UserSide      string         `json:"user_side,omitempty"`
	AnalysisReady bool           `json:"analysis_ready"`
	Rationale     string         `json:"rationale,omitempty"`
	Pending       *MoveView      `json:"pending,omitempty"`
	Hint          *MoveView      `json:"hint,omitempty"`
	Line          []PlyView      `json:"line"`
	MovesPlayed   int            `json:"moves_played"`
	LastResult    string         `json:"last_result,omitempty"`
	Complete      bool           `json:"complete"`
	Stats         StatsView      `json:"stats"`
	Feedback      []FeedbackView `json:"feedback,omitempty"`
	Version       int64          `json:"version"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
