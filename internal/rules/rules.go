// Package rules wraps github.com/corentings/chess/v2 behind a FEN-in, FEN-out
// API. Every call loads its own game, so an Engine is safe for concurrent use.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrInvalidFEN  = errors.New("invalid fen")
	ErrIllegalMove = errors.New("illegal move")
	ErrBadNotation = errors.New("unrecognized move notation")
)

type Side string

const (
	White Side = "white"
	Black Side = "black"
)

func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusDraw      Status = "draw"
)

// Terminal reports whether no further moves are played from the position.
func (s Status) Terminal() bool {
	return s != StatusOngoing && s != ""
}

// Piece is a colored piece; Type is one of "p", "n", "b", "r", "q", "k".
type Piece struct {
	Type  string `json:"type"`
	Color Side   `json:"color"`
}

func (p Piece) IsZero() bool { return p.Type == "" }

// Applied describes a move that was played and the position it produced.
type Applied struct {
	Move      Move
	SAN       string
	Piece     Piece
	Captured  Piece
	Castle    bool
	EnPassant bool
	Check     bool
	FEN       string
	Status    Status
	// Winner is set only when Status is StatusCheckmate.
	Winner Side
}

type Engine struct{}

func New() *Engine { return &Engine{} }

// Validate loads the FEN and reports parse failures as ErrInvalidFEN.
func (e *Engine) Validate(fen string) error {
	_, err := load(fen)
	return err
}

func (e *Engine) SideToMove(fen string) (Side, error) {
	game, err := load(fen)
	if err != nil {
		return "", err
	}
	return sideOf(game.Position().Turn()), nil
}

// Status evaluates the loaded position, returning the winner on checkmate.
func (e *Engine) Status(fen string) (Status, Side, error) {
	game, err := load(fen)
	if err != nil {
		return "", "", err
	}
	st, winner := statusOf(game)
	return st, winner, nil
}

// LegalMoves lists legal moves, optionally restricted to one origin square.
func (e *Engine) LegalMoves(fen, from string) ([]Move, error) {
	game, err := load(fen)
	if err != nil {
		return nil, err
	}
	from = strings.ToLower(strings.TrimSpace(from))
	valid := game.ValidMoves()
	out := make([]Move, 0, len(valid))
	for i := range valid {
		mv := toMove(&valid[i])
		if from != "" && mv.From != from {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

// IsLegal reports whether mv is playable in fen.
func (e *Engine) IsLegal(fen string, mv Move) bool {
	game, err := load(fen)
	if err != nil {
		return false
	}
	_, ok := findMove(game, mv)
	return ok
}

// Apply plays mv on a fresh copy of fen.
func (e *Engine) Apply(fen string, mv Move) (Applied, error) {
	game, err := load(fen)
	if err != nil {
		return Applied{}, err
	}
	legal, ok := findMove(game, mv)
	if !ok {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv)
	}

	pos := game.Position()
	board := pos.Board()
	out := Applied{
		Move:      toMove(legal),
		SAN:       nchess.AlgebraicNotation{}.Encode(pos, legal),
		Piece:     pieceOf(board.Piece(legal.S1())),
		EnPassant: legal.HasTag(nchess.EnPassant),
		Check:     legal.HasTag(nchess.Check),
	}
	if out.EnPassant {
		out.Captured = Piece{Type: "p", Color: sideOf(pos.Turn()).Opponent()}
	} else if target := board.Piece(legal.S2()); target != nchess.NoPiece {
		out.Captured = pieceOf(target)
	}
	if out.Piece.Type == "k" && fileDistance(out.Move.From, out.Move.To) == 2 {
		out.Castle = true
	}

	if err := game.Move(legal, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, mv, err)
	}
	out.FEN = game.FEN()
	out.Status, out.Winner = statusOf(game)
	if out.Status == StatusCheckmate {
		out.Check = true
	}
	return out, nil
}

// SAN renders mv in standard algebraic notation for fen.
func (e *Engine) SAN(fen string, mv Move) (string, error) {
	game, err := load(fen)
	if err != nil {
		return "", err
	}
	legal, ok := findMove(game, mv)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIllegalMove, mv)
	}
	return nchess.AlgebraicNotation{}.Encode(game.Position(), legal), nil
}

// Normalize accepts SAN ("Nf3", "exd8=Q+") or coordinates ("g1f3", "e7e8")
// and returns the canonical legal move. A pawn reaching the last rank without
// a promotion piece promotes to a queen.
func (e *Engine) Normalize(fen, text string) (Move, error) {
	game, err := load(fen)
	if err != nil {
		return Move{}, err
	}
	s := strings.TrimSpace(text)
	if s == "" {
		return Move{}, fmt.Errorf("%w: empty move", ErrBadNotation)
	}

	if mv, perr := ParseUCI(s); perr == nil {
		if mv.Promotion == "" && isPromotionSquare(game, mv) {
			mv.Promotion = "q"
		}
		if legal, ok := findMove(game, mv); ok {
			return toMove(legal), nil
		}
		return Move{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv)
	}

	pos := game.Position()
	notation := nchess.AlgebraicNotation{}
	decoded, derr := notation.Decode(pos, s)
	if derr != nil {
		trimmed := strings.TrimRight(s, "+#")
		if strings.HasSuffix(trimmed, "1") || strings.HasSuffix(trimmed, "8") {
			decoded, derr = notation.Decode(pos, trimmed+"=Q")
		}
	}
	if derr != nil || decoded == nil {
		return Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, s)
	}
	legal, ok := findMove(game, toMove(decoded))
	if !ok {
		return Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, s)
	}
	return toMove(legal), nil
}

// PieceAt returns the piece on a square such as "e4".
func (e *Engine) PieceAt(fen, square string) (Piece, error) {
	game, err := load(fen)
	if err != nil {
		return Piece{}, err
	}
	sq, ok := parseSquare(square)
	if !ok {
		return Piece{}, fmt.Errorf("%w: square %q", ErrBadNotation, square)
	}
	return pieceOf(game.Position().Board().Piece(sq)), nil
}

// Board exposes the library board for rendering.
func (e *Engine) Board(fen string) (*nchess.Board, error) {
	game, err := load(fen)
	if err != nil {
		return nil, err
	}
	return game.Position().Board(), nil
}

// PGN replays moves from startFEN and returns the game text with SetUp/FEN tags.
func (e *Engine) PGN(startFEN string, moves []Move, tags map[string]string) (string, error) {
	game, err := load(startFEN)
	if err != nil {
		return "", err
	}
	game.AddTagPair("SetUp", "1")
	game.AddTagPair("FEN", startFEN)
	for k, v := range tags {
		game.AddTagPair(k, v)
	}
	for _, mv := range moves {
		legal, ok := findMove(game, mv)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrIllegalMove, mv)
		}
		if err := game.Move(legal, nil); err != nil {
			return "", fmt.Errorf("apply %s: %w", mv, err)
		}
	}
	return game.String(), nil
}

func load(fen string) (*nchess.Game, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return nchess.NewGame(opt), nil
}

func findMove(game *nchess.Game, mv Move) (*nchess.Move, bool) {
	valid := game.ValidMoves()
	for i := range valid {
		if toMove(&valid[i]).Equal(mv) {
			return &valid[i], true
		}
	}
	return nil, false
}

func isPromotionSquare(game *nchess.Game, mv Move) bool {
	sq, ok := parseSquare(mv.From)
	if !ok {
		return false
	}
	piece := game.Position().Board().Piece(sq)
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return false
	}
	return (piece.Color() == nchess.White && mv.To[1] == '8') || (piece.Color() == nchess.Black && mv.To[1] == '1')
}

func statusOf(game *nchess.Game) (Status, Side) {
	if game.Outcome() == nchess.NoOutcome {
		return StatusOngoing, ""
	}
	switch game.Method() {
	case nchess.Checkmate:
		if game.Outcome() == nchess.WhiteWon {
			return StatusCheckmate, White
		}
		return StatusCheckmate, Black
	case nchess.Stalemate:
		return StatusStalemate, ""
	default:
		return StatusDraw, ""
	}
}

func toMove(m *nchess.Move) Move {
	return Move{
		From:      m.S1().String(),
		To:        m.S2().String(),
		Promotion: pieceLetter(m.Promo()),
	}
}

func pieceOf(p nchess.Piece) Piece {
	if p == nchess.NoPiece {
		return Piece{}
	}
	return Piece{Type: pieceLetter(p.Type()), Color: sideOf(p.Color())}
}

func pieceLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.King:
		return "k"
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	case nchess.Pawn:
		return "p"
	default:
		return ""
	}
}

func sideOf(c nchess.Color) Side {
	if c == nchess.Black {
		return Black
	}
	return White
}

func parseSquare(s string) (nchess.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !validSquare(s) {
		return 0, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func fileDistance(a, b string) int {
	d := int(a[0]) - int(b[0])
	if d < 0 {
		return -d
	}
	return d
}
