package rules

import (
	"fmt"
	"strings"
)

// Move 는 (from, to, promotion) 정규형 수.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// ParseUCI parses coordinate notation such as "e2e4" or "e7e8q".
func ParseUCI(text string) (Move, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrBadNotation, text)
	}
	mv := Move{From: s[:2], To: s[2:4]}
	if !validSquare(mv.From) || !validSquare(mv.To) {
		return Move{}, fmt.Errorf("%w: %q", ErrBadNotation, text)
	}
	if len(s) == 5 {
		if !strings.ContainsRune("qrbn", rune(s[4])) {
			return Move{}, fmt.Errorf("%w: promotion %q", ErrBadNotation, s[4:])
		}
		mv.Promotion = s[4:]
	}
	return mv, nil
}

func (m Move) String() string {
	return m.From + m.To + m.Promotion
}

func (m Move) IsZero() bool {
	return m.From == "" && m.To == ""
}

// Equal compares canonical coordinates; SAN/UCI differences never reach here.
func (m Move) Equal(o Move) bool {
	return m.From == o.From && m.To == o.To && m.Promotion == o.Promotion
}

func validSquare(sq string) bool {
	if len(sq) != 2 {
		return false
	}
	return sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}
