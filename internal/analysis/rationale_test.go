package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/park285/cheese-puzzle/internal/rules"
)

const (
	fenStart     = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	fenBackRank  = "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1"
	fenDoubled   = "r6k/6pp/8/8/8/8/4R3/4R1K1 w - - 0 1"
	fenHangingQ  = "4k3/8/8/3q4/8/4N3/8/4K3 w - - 0 1"
	fenCastle    = "r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1"
	fenPromote   = "8/4P3/8/8/8/8/k7/6K1 w - - 0 1"
	fenStalemate = "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"
)

func mustUCI(t *testing.T, s string) rules.Move {
	t.Helper()
	mv, err := rules.ParseUCI(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return mv
}

func TestExplain(t *testing.T) {
	r := rules.New()
	cases := []struct {
		name string
		fen  string
		move string
		want string
	}{
		{"checkmate", fenBackRank, "a1a8", "Ra8# - CHECKMATE! Game over."},
		{"forced mate in two", fenDoubled, "e2e8", "Re8+ - FORCED MATE IN 2"},
		{"wins material", fenHangingQ, "e3d5", "Nxd5 - WINS Q (+580), CENTER CONTROL"},
		{"center", fenStart, "e2e4", "e4 - CENTER CONTROL"},
		{"quiet", fenStart, "g1f3", "Nf3 - Strong positional move"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Explain(r, tc.fen, mustUCI(t, tc.move))
			if err != nil {
				t.Fatalf("explain: %v", err)
			}
			if got.Text != tc.want {
				t.Fatalf("got %q want %q", got.Text, tc.want)
			}
		})
	}
}

func TestExplainSpecialMoves(t *testing.T) {
	r := rules.New()
	castle, err := Explain(r, fenCastle, mustUCI(t, "e1g1"))
	if err != nil {
		t.Fatalf("castle: %v", err)
	}
	if !strings.Contains(castle.Text, "CASTLING (safety)") {
		t.Fatalf("missing castling tag: %q", castle.Text)
	}

	promo, err := Explain(r, fenPromote, mustUCI(t, "e7e8q"))
	if err != nil {
		t.Fatalf("promotion: %v", err)
	}
	if !strings.Contains(promo.Text, "PROMOTION TO Q") {
		t.Fatalf("missing promotion tag: %q", promo.Text)
	}
}

func TestExplainIllegal(t *testing.T) {
	if _, err := Explain(rules.New(), fenStart, mustUCI(t, "e2e5")); !errors.Is(err, rules.ErrIllegalMove) {
		t.Fatalf("expected illegal move error, got %v", err)
	}
}

func TestHeuristicPrefersCapture(t *testing.T) {
	h := NewHeuristic(rules.New())
	h.noise = func() float64 { return 0 }

	raw, err := h.Suggest(context.Background(), fenHangingQ)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if raw.Move != "e3d5" {
		t.Fatalf("expected knight to take the queen, got %s", raw.Move)
	}

	scored, err := h.Score(fenHangingQ)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for _, s := range scored {
		if s.Move.String() == "e3d5" && s.Score != 95 {
			t.Fatalf("expected capture score 95, got %v", s.Score)
		}
	}
}

func TestHeuristicNoLegalMoves(t *testing.T) {
	h := NewHeuristic(rules.New())
	if _, err := h.Suggest(context.Background(), fenStalemate); !errors.Is(err, ErrNoMove) {
		t.Fatalf("expected ErrNoMove, got %v", err)
	}
}
