package rules

// Game is a mutable line of play backed by a FEN stack. Push/Undo let
// search code walk a tree without rebuilding positions from the root.
type Game struct {
	engine *Engine
	stack  []string
}

func (e *Engine) NewGame(fen string) (*Game, error) {
	if err := e.Validate(fen); err != nil {
		return nil, err
	}
	return &Game{engine: e, stack: []string{fen}}, nil
}

func (g *Game) FEN() string {
	return g.stack[len(g.stack)-1]
}

func (g *Game) Ply() int {
	return len(g.stack) - 1
}

func (g *Game) LegalMoves() []Move {
	moves, err := g.engine.LegalMoves(g.FEN(), "")
	if err != nil {
		return nil
	}
	return moves
}

func (g *Game) Push(mv Move) (Applied, error) {
	applied, err := g.engine.Apply(g.FEN(), mv)
	if err != nil {
		return Applied{}, err
	}
	g.stack = append(g.stack, applied.FEN)
	return applied, nil
}

// Undo pops the last move; the starting position cannot be popped.
func (g *Game) Undo() bool {
	if len(g.stack) <= 1 {
		return false
	}
	g.stack = g.stack[:len(g.stack)-1]
	return true
}
