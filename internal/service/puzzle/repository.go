package puzzle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/park285/cheese-puzzle/internal/domain"
)

var ErrDuplicateAttempt = errors.New("puzzle attempt already recorded")

type Repository interface {
	InsertAttempt(ctx context.Context, attempt *domain.PuzzleAttempt) (int64, error)
	GetRecentAttempts(ctx context.Context, playerHash string, limit int) ([]*domain.PuzzleAttempt, error)
	GetProfile(ctx context.Context, playerHash string, roomHash string) (*domain.PuzzleProfile, error)
	UpsertProfile(ctx context.Context, profile *domain.PuzzleProfile) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InsertAttempt(ctx context.Context, a *domain.PuzzleAttempt) (int64, error) {
	if a == nil {
		return 0, fmt.Errorf("nil puzzle attempt payload")
	}
	movesUCI, err := json.Marshal(a.MovesUCI)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(a.MovesSAN)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO puzzle_attempts (
			session_uuid,
			player_hash,
			room_hash,
			set_title,
			set_level,
			position_index,
			fen,
			result,
			moves_uci,
			moves_san,
			pgn,
			moves_played,
			hint_used,
			deviated,
			ended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11, $12, $13, $14, $15)
		ON CONFLICT (session_uuid, position_index, ended_at) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		a.SessionUUID,
		a.PlayerHash,
		a.RoomHash,
		a.SetTitle,
		a.SetLevel,
		a.Index,
		a.FEN,
		a.Result,
		movesUCI,
		movesSAN,
		a.PGN,
		a.MovesPlayed,
		a.HintUsed,
		a.Deviated,
		a.EndedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateAttempt
	}
	if err != nil {
		return 0, fmt.Errorf("insert puzzle attempt: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) GetRecentAttempts(ctx context.Context, playerHash string, limit int) ([]*domain.PuzzleAttempt, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT
			id,
			session_uuid,
			player_hash,
			room_hash,
			set_title,
			set_level,
			position_index,
			fen,
			result,
			moves_uci,
			moves_san,
			pgn,
			moves_played,
			hint_used,
			deviated,
			ended_at
		FROM puzzle_attempts
		WHERE player_hash = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, playerHash, limit)
	if err != nil {
		return nil, fmt.Errorf("select puzzle attempts: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.PuzzleAttempt, 0, limit)
	for rows.Next() {
		var (
			a            domain.PuzzleAttempt
			movesUCIJSON []byte
			movesSANJSON []byte
		)
		if err := rows.Scan(
			&a.ID,
			&a.SessionUUID,
			&a.PlayerHash,
			&a.RoomHash,
			&a.SetTitle,
			&a.SetLevel,
			&a.Index,
			&a.FEN,
			&a.Result,
			&movesUCIJSON,
			&movesSANJSON,
			&a.PGN,
			&a.MovesPlayed,
			&a.HintUsed,
			&a.Deviated,
			&a.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scan puzzle attempt: %w", err)
		}
		if err := json.Unmarshal(movesUCIJSON, &a.MovesUCI); err != nil {
			return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
		}
		if err := json.Unmarshal(movesSANJSON, &a.MovesSAN); err != nil {
			return nil, fmt.Errorf("unmarshal moves_san: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *repository) GetProfile(ctx context.Context, playerHash string, roomHash string) (*domain.PuzzleProfile, error) {
	const query = `
		SELECT
			player_hash,
			room_hash,
			positions_played,
			positions_solved,
			positions_failed,
			positions_skipped,
			sessions_finished,
			hints_used,
			streak,
			best_streak,
			last_level,
			last_played_at,
			updated_at,
			created_at
		FROM puzzle_profiles
		WHERE player_hash = $1 AND room_hash = $2
		LIMIT 1`

	var p domain.PuzzleProfile
	err := r.db.QueryRowContext(ctx, query, playerHash, roomHash).Scan(
		&p.PlayerHash,
		&p.RoomHash,
		&p.PositionsPlayed,
		&p.PositionsSolved,
		&p.PositionsFailed,
		&p.PositionsSkipped,
		&p.SessionsFinished,
		&p.HintsUsed,
		&p.Streak,
		&p.BestStreak,
		&p.LastLevel,
		&p.LastPlayedAt,
		&p.UpdatedAt,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select puzzle profile: %w", err)
	}
	return &p, nil
}

func (r *repository) UpsertProfile(ctx context.Context, p *domain.PuzzleProfile) error {
	if p == nil {
		return fmt.Errorf("nil puzzle profile payload")
	}
	const query = `
		INSERT INTO puzzle_profiles (
			player_hash,
			room_hash,
			positions_played,
			positions_solved,
			positions_failed,
			positions_skipped,
			sessions_finished,
			hints_used,
			streak,
			best_streak,
			last_level,
			last_played_at,
			updated_at,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (player_hash, room_hash)
		DO UPDATE SET
			positions_played = EXCLUDED.positions_played,
			positions_solved = EXCLUDED.positions_solved,
			positions_failed = EXCLUDED.positions_failed,
			positions_skipped = EXCLUDED.positions_skipped,
			sessions_finished = EXCLUDED.sessions_finished,
			hints_used = EXCLUDED.hints_used,
			streak = EXCLUDED.streak,
			best_streak = EXCLUDED.best_streak,
			last_level = EXCLUDED.last_level,
			last_played_at = EXCLUDED.last_played_at,
			updated_at = NOW()`

	_, err := r.db.ExecContext(
		ctx,
		query,
		p.PlayerHash,
		p.RoomHash,
		p.PositionsPlayed,
		p.PositionsSolved,
		p.PositionsFailed,
		p.PositionsSkipped,
		p.SessionsFinished,
		p.HintsUsed,
		p.Streak,
		p.BestStreak,
		p.LastLevel,
		p.LastPlayedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert puzzle profile: %w", err)
	}
	return nil
}
