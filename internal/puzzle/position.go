package puzzle

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrEmptyInput       = errors.New("no positions supplied")
	ErrNoValidPositions = errors.New("no valid FEN positions found")
	ErrFieldCount       = errors.New("FEN must have 6 parts")
	ErrWhiteKing        = errors.New("need exactly one white king (K)")
	ErrBlackKing        = errors.New("need exactly one black king (k)")
)

// Position is one validated puzzle start.
type Position struct {
	FEN string `json:"fen"`
}

// SideField returns the active-color field ("w" or "b").
func (p Position) SideField() string {
	fields := strings.Fields(p.FEN)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

type PositionSet struct {
	Title     string     `json:"title,omitempty"`
	Level     string     `json:"level,omitempty"`
	Positions []Position `json:"positions"`
}

func (s PositionSet) Len() int { return len(s.Positions) }

// Label joins title and level the way lesson pages show it.
func (s PositionSet) Label() string {
	switch {
	case s.Title != "" && s.Level != "":
		return s.Title + " | " + s.Level
	case s.Title != "":
		return s.Title
	default:
		return s.Level
	}
}

// Discard records an input line that failed validation.
type Discard struct {
	Line   int    `json:"line"`
	Input  string `json:"input"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

type ParseResult struct {
	Set      PositionSet `json:"set"`
	Discards []Discard   `json:"discards,omitempty"`
}

// ParsePosition checks the structural shape of a single FEN line. Piece
// placement and move legality are left to the rules engine.
func ParsePosition(line string) (Position, error) {
	fields := strings.Fields(line)
	if len(fields) != 6 {
		return Position{}, fmt.Errorf("%w, found %d", ErrFieldCount, len(fields))
	}
	placement := fields[0]
	if n := strings.Count(placement, "K"); n != 1 {
		return Position{}, fmt.Errorf("%w, found %d", ErrWhiteKing, n)
	}
	if n := strings.Count(placement, "k"); n != 1 {
		return Position{}, fmt.Errorf("%w, found %d", ErrBlackKing, n)
	}
	return Position{FEN: strings.Join(fields, " ")}, nil
}

// ParsePositionSet splits raw input on newlines, then commas, and keeps the
// lines that validate in their original order.
func ParsePositionSet(raw string) (ParseResult, error) {
	lines := splitInput(raw)
	if len(lines) == 0 {
		return ParseResult{}, ErrEmptyInput
	}

	var res ParseResult
	for i, line := range lines {
		pos, err := ParsePosition(line)
		if err != nil {
			res.Discards = append(res.Discards, Discard{Line: i + 1, Input: line, Reason: err.Error(), Err: err})
			continue
		}
		res.Set.Positions = append(res.Set.Positions, pos)
	}
	if len(res.Set.Positions) == 0 {
		first := res.Discards[0]
		return res, fmt.Errorf("%w: first line error: %w", ErrNoValidPositions, first.Err)
	}
	return res, nil
}

// ParseQuery reads the URL entry point: repeatable "fens" (each possibly a
// comma list), legacy "fen" when no "fens" is present, and the "title" and
// "level" labels.
func ParseQuery(values url.Values) (ParseResult, error) {
	fens := values["fens"]
	if len(fens) == 0 {
		if v := strings.TrimSpace(values.Get("fen")); v != "" {
			fens = []string{v}
		}
	}
	res, err := ParsePositionSet(strings.Join(fens, "\n"))
	res.Set.Title = strings.TrimSpace(values.Get("title"))
	res.Set.Level = strings.TrimSpace(values.Get("level"))
	return res, err
}

func splitInput(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.Contains(line, ",") {
			out = append(out, line)
			continue
		}
		for _, part := range strings.Split(line, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
