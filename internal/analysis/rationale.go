package analysis

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-puzzle/internal/rules"
)

// centipawn values used for capture labels; kings are worth nothing here.
var rationaleValues = map[string]int{"p": 100, "n": 320, "b": 330, "r": 500, "q": 900}

var centerSquares = map[string]bool{"e4": true, "e5": true, "d4": true, "d5": true}

type Rationale struct {
	Text string   `json:"text"`
	Tags []string `json:"tags,omitempty"`
}

// Explain labels a move by what it does on the board. It depends only on the
// position and the move.
func Explain(r *rules.Engine, fen string, mv rules.Move) (Rationale, error) {
	applied, err := r.Apply(fen, mv)
	if err != nil {
		return Rationale{}, err
	}
	label := applied.SAN

	if applied.Status == rules.StatusCheckmate {
		return Rationale{Text: label + " - CHECKMATE! Game over.", Tags: []string{"CHECKMATE"}}, nil
	}

	var tags []string
	if applied.Check {
		if forcedMateInTwo(r, applied.FEN) {
			tags = append(tags, "FORCED MATE IN 2")
		} else {
			tags = append(tags, "CHECK")
		}
	}

	if !applied.Captured.IsZero() {
		gain := rationaleValues[applied.Captured.Type]
		cost := rationaleValues[applied.Piece.Type]
		name := strings.ToUpper(applied.Captured.Type)
		switch {
		case gain > cost:
			tags = append(tags, fmt.Sprintf("WINS %s (+%d)", name, gain-cost))
		case gain == cost:
			tags = append(tags, "TRADES "+name)
		default:
			tags = append(tags, "SACRIFICE FOR ATTACK")
		}
	}

	if n := captureReplies(r, applied.FEN); n >= 2 {
		tags = append(tags, fmt.Sprintf("FORK (attacks %d pieces)", n))
	}
	if applied.Castle {
		tags = append(tags, "CASTLING (safety)")
	}
	if applied.Move.Promotion != "" {
		tags = append(tags, "PROMOTION TO "+strings.ToUpper(applied.Move.Promotion))
	}
	if centerSquares[applied.Move.To] {
		tags = append(tags, "CENTER CONTROL")
	}

	if len(tags) == 0 {
		return Rationale{Text: label + " - Strong positional move"}, nil
	}
	return Rationale{Text: label + " - " + strings.Join(tags, ", "), Tags: tags}, nil
}

// forcedMateInTwo reports whether every reply to the checking move in fen
// allows a mate in one.
func forcedMateInTwo(r *rules.Engine, fen string) bool {
	g, err := r.NewGame(fen)
	if err != nil {
		return false
	}
	defenses := g.LegalMoves()
	if len(defenses) == 0 {
		return false
	}
	for _, d := range defenses {
		if _, err := g.Push(d); err != nil {
			return false
		}
		mated := false
		for _, a := range g.LegalMoves() {
			applied, err := g.Push(a)
			if err != nil {
				continue
			}
			mated = applied.Status == rules.StatusCheckmate
			g.Undo()
			if mated {
				break
			}
		}
		g.Undo()
		if !mated {
			return false
		}
	}
	return true
}

// captureReplies counts the opponent's capturing moves in fen.
func captureReplies(r *rules.Engine, fen string) int {
	moves, err := r.LegalMoves(fen, "")
	if err != nil {
		return 0
	}
	n := 0
	for _, mv := range moves {
		target, err := r.PieceAt(fen, mv.To)
		if err != nil {
			continue
		}
		if !target.IsZero() || isEnPassant(r, fen, mv) {
			n++
		}
	}
	return n
}

func isEnPassant(r *rules.Engine, fen string, mv rules.Move) bool {
	fields := strings.Fields(fen)
	if len(fields) < 4 || fields[3] == "-" || fields[3] != mv.To {
		return false
	}
	p, err := r.PieceAt(fen, mv.From)
	return err == nil && p.Type == "p"
}
