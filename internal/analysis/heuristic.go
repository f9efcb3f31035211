package analysis

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/park285/cheese-puzzle/internal/rules"
)

var heuristicValues = map[string]float64{"p": 1, "n": 3, "b": 3, "r": 5, "q": 9}

// Heuristic picks a move locally when no engine is reachable. The score
// rewards captures, checks, central landing squares and leaving the back rank.
type Heuristic struct {
	rules *rules.Engine
	noise func() float64
}

func NewHeuristic(r *rules.Engine) *Heuristic {
	return &Heuristic{rules: r, noise: func() float64 { return rand.Float64() * 0.1 }}
}

func (h *Heuristic) Name() string { return "heuristic" }

type ScoredMove struct {
	Move  rules.Move
	Score float64
}

func (h *Heuristic) Score(fen string) ([]ScoredMove, error) {
	moves, err := h.rules.LegalMoves(fen, "")
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMove, 0, len(moves))
	for _, mv := range moves {
		applied, err := h.rules.Apply(fen, mv)
		if err != nil {
			continue
		}
		score := heuristicValues[applied.Captured.Type] * 10
		if applied.Check {
			score += 20
		}
		if centerSquares[mv.To] {
			score += 5
		}
		if mv.From[1] == '1' || mv.From[1] == '8' {
			score += 3
		}
		if h.noise != nil {
			score += h.noise()
		}
		out = append(out, ScoredMove{Move: mv, Score: score})
	}
	return out, nil
}

func (h *Heuristic) Suggest(ctx context.Context, fen string) (Raw, error) {
	if err := ctx.Err(); err != nil {
		return Raw{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	scored, err := h.Score(fen)
	if err != nil {
		return Raw{}, err
	}
	if len(scored) == 0 {
		return Raw{}, ErrNoMove
	}
	best := scored[0]
	for _, s := range scored[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return Raw{Move: best.Move.String()}, nil
}
