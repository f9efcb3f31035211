package domain

import "time"

// PuzzleAttempt is one finished position of a session.
type PuzzleAttempt struct {
	ID          int64
	SessionUUID string
	PlayerHash  string
	RoomHash    string
	SetTitle    string
	SetLevel    string
	Index       int
	FEN         string
	Result      string
	MovesUCI    []string
	MovesSAN    []string
	PGN         string
	MovesPlayed int
	HintUsed    bool
	Deviated    bool
	EndedAt     time.Time
}

type PuzzleProfile struct {
	PlayerHash       string
	RoomHash         string
	PositionsPlayed  int
	PositionsSolved  int
	PositionsFailed  int
	PositionsSkipped int
	SessionsFinished int
	HintsUsed        int
	Streak           int
	BestStreak       int
	LastLevel        string
	LastPlayedAt     time.Time
	UpdatedAt        time.Time
	CreatedAt        time.Time
}
