package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/cheese-puzzle/internal/analysis/uci"
)

// StockfishProvider runs a local engine through the UCI pool.
type StockfishProvider struct {
	pool  *uci.Pool
	depth int
}

func NewStockfishProvider(pool *uci.Pool, depth int) *StockfishProvider {
	if depth <= 0 {
		depth = 15
	}
	return &StockfishProvider{pool: pool, depth: depth}
}

func (p *StockfishProvider) Name() string { return "stockfish" }

func (p *StockfishProvider) Suggest(ctx context.Context, fen string) (Raw, error) {
	res, err := p.pool.Search(ctx, fen, p.depth)
	switch {
	case errors.Is(err, uci.ErrNoBestMove):
		return Raw{}, ErrNoMove
	case err != nil:
		return Raw{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	cp := res.EvalCP()
	raw := Raw{Move: res.BestMove, Depth: res.Depth, EvalCP: &cp}
	if res.Mate {
		m := res.Score
		raw.Mate = &m
	}
	return raw, nil
}

func (p *StockfishProvider) Close() error {
	return p.pool.Close()
}
