package puzzledto

import "time"

type PuzzleProfile struct {
	PositionsPlayed  int       `json:"positions_played"`
	PositionsSolved  int       `json:"positions_solved"`
	PositionsFailed  int       `json:"positions_failed"`
	PositionsSkipped int       `json:"positions_skipped"`
	SessionsFinished int       `json:"sessions_finished"`
	HintsUsed        int       `json:"hints_used"`
	Streak           int       `json:"streak"`
	BestStreak       int       `json:"best_streak"`
	LastLevel        string    `json:"last_level,omitempty"`
	LastPlayedAt     time.Time `json:"last_played_at"`
}

type PuzzleAttempt struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title,omitempty"`
	Level    string    `json:"level,omitempty"`
	Index    int       `json:"index"`
	FEN      string    `json:"fen"`
	Result   string    `json:"result"`
	MovesSAN []string  `json:"moves_san"`
	PGN      string    `json:"pgn,omitempty"`
	HintUsed bool      `json:"hint_used,omitempty"`
	EndedAt  time.Time `json:"ended_at"`
}
