package puzzle

import (
	"github.com/park285/cheese-puzzle/internal/catalog"
	"github.com/park285/cheese-puzzle/internal/domain"
	"github.com/park285/cheese-puzzle/pkg/puzzledto"
)

// View maps a session and its feedback to the transport shape.
func View(sess *Session, feedback []Feedback) puzzledto.SessionView {
	st := sess.State
	v := puzzledto.SessionView{
		ID:            sess.ID,
		Title:         st.Set.Title,
		Level:         st.Set.Level,
		Label:         st.Set.Label(),
		Index:         st.Cursor.Index,
		Total:         st.Total(),
		Stage:         string(st.Stage),
		FEN:           st.Board,
		UserSide:      string(st.UserSide),
		AnalysisReady: st.Expected != nil,
		Line:          make([]puzzledto.PlyView, 0, len(st.Line)),
		MovesPlayed:   st.Cursor.MovesPlayed,
		Complete:      st.Complete(),
		Version:       sess.Version,
		UpdatedAt:     sess.UpdatedAt,
		Stats: puzzledto.StatsView{
			MovesAccepted:   st.Stats.MovesAccepted,
			FirstMoveMisses: st.Stats.FirstMoveMisses,
			Deviations:      st.Stats.Deviations,
			HintsUsed:       st.Stats.HintsUsed,
			Results:         make(map[string]int, len(st.Stats.Results)),
		},
	}
	if pos, ok := st.Current(); ok {
		v.StartFEN = pos.FEN
	}
	if st.Pending != nil {
		v.Pending = &puzzledto.MoveView{UCI: st.Pending.Applied.Move.String(), SAN: st.Pending.Applied.SAN}
	}
	if st.Hint != nil && st.Expected != nil {
		v.Hint = &puzzledto.MoveView{UCI: st.Hint.String(), SAN: st.Expected.SAN}
		v.Rationale = st.Expected.Rationale
	}
	if st.LastFinal != nil {
		v.LastResult = string(*st.LastFinal)
	}
	for _, p := range st.Line {
		v.Line = append(v.Line, puzzledto.PlyView{
			Side:     string(p.Side),
			UCI:      p.Move.String(),
			SAN:      p.SAN,
			FEN:      p.FEN,
			Best:     p.Best,
			Opponent: p.Opponent,
		})
	}
	for r, n := range st.Stats.Results {
		v.Stats.Results[string(r)] = n
	}
	for _, fb := range feedback {
		v.Feedback = append(v.Feedback, puzzledto.FeedbackView(fb))
	}
	return v
}

func ProfileView(p *domain.PuzzleProfile) *puzzledto.PuzzleProfile {
	if p == nil {
		return nil
	}
	return &puzzledto.PuzzleProfile{
		PositionsPlayed:  p.PositionsPlayed,
		PositionsSolved:  p.PositionsSolved,
		PositionsFailed:  p.PositionsFailed,
		PositionsSkipped: p.PositionsSkipped,
		SessionsFinished: p.SessionsFinished,
		HintsUsed:        p.HintsUsed,
		Streak:           p.Streak,
		BestStreak:       p.BestStreak,
		LastLevel:        p.LastLevel,
		LastPlayedAt:     p.LastPlayedAt,
	}
}

func AttemptViews(list []*domain.PuzzleAttempt) []puzzledto.PuzzleAttempt {
	out := make([]puzzledto.PuzzleAttempt, 0, len(list))
	for _, a := range list {
		out = append(out, puzzledto.PuzzleAttempt{
			ID:       a.ID,
			Title:    a.SetTitle,
			Level:    a.SetLevel,
			Index:    a.Index,
			FEN:      a.FEN,
			Result:   a.Result,
			MovesSAN: a.MovesSAN,
			PGN:      a.PGN,
			HintUsed: a.HintUsed,
			EndedAt:  a.EndedAt,
		})
	}
	return out
}

// CatalogView lists lessons with the levels that have playable positions.
func CatalogView(c *catalog.Catalog) puzzledto.CatalogView {
	view := puzzledto.CatalogView{Lessons: []puzzledto.LessonView{}}
	if c == nil {
		return view
	}
	for _, l := range c.Lessons() {
		lv := puzzledto.LessonView{Number: l.Number, Title: l.Title, Category: l.Category, Available: []string{}}
		for _, lvl := range l.Available {
			lv.Available = append(lv.Available, string(lvl))
		}
		view.Lessons = append(view.Lessons, lv)
	}
	return view
}
