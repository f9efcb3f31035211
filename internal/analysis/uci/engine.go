package uci

import (
	"errors"
	"fmt"

	fuci "github.com/freeeve/uci"
)

// MateScore stands in for a centipawn value when the engine reports mate.
const MateScore = 30000

// ErrNoBestMove is returned when the engine has no legal move to offer.
var ErrNoBestMove = errors.New("engine returned no move")

type Options struct {
	Threads int
	HashMB  int
}

func (o Options) withDefaults() Options {
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.HashMB <= 0 {
		o.HashMB = 64
	}
	return o
}

// Result is the deepest line of one search. Score is from the side to move;
// with Mate set it counts moves to mate instead of centipawns.
type Result struct {
	BestMove string
	Depth    int
	Score    int
	Mate     bool
}

// EvalCP folds mate scores into the centipawn scale.
func (r Result) EvalCP() int {
	if !r.Mate {
		return r.Score
	}
	if r.Score < 0 {
		return -MateScore
	}
	return MateScore
}

type searcher interface {
	search(fen string, depth int) (Result, error)
	close()
}

// process is one running engine binary.
type process struct {
	eng *fuci.Engine
}

func startProcess(path string, opt Options) (searcher, error) {
	eng, err := fuci.NewEngine(path)
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	if err := eng.SetOptions(fuci.Options{
		Hash:    opt.HashMB,
		Threads: opt.Threads,
		MultiPV: 1,
		Ponder:  false,
		OwnBook: false,
	}); err != nil {
		eng.Close()
		return nil, fmt.Errorf("set engine options: %w", err)
	}
	return &process{eng: eng}, nil
}

func (p *process) search(fen string, depth int) (Result, error) {
	if err := p.eng.SetFEN(fen); err != nil {
		return Result{}, fmt.Errorf("set fen: %w", err)
	}
	results, err := p.eng.GoDepth(depth, fuci.HighestDepthOnly)
	if err != nil {
		return Result{}, fmt.Errorf("go depth %d: %w", depth, err)
	}
	res := Result{BestMove: results.BestMove}
	if res.BestMove == "" || res.BestMove == "(none)" || res.BestMove == "0000" {
		return Result{}, ErrNoBestMove
	}
	for i, r := range results.Results {
		if i == 0 || r.Depth > res.Depth {
			res.Depth, res.Score, res.Mate = r.Depth, r.Score, r.Mate
		}
	}
	return res, nil
}

func (p *process) close() { p.eng.Close() }
