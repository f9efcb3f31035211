package puzzle

import (
	"go.uber.org/zap"

	"github.com/park285/cheese-puzzle/internal/msgcat"
	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	"github.com/park285/cheese-puzzle/internal/rules"
)

// Feedback is a rendered notice.
type Feedback struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Move   string `json:"move,omitempty"`
	SAN    string `json:"san,omitempty"`
	Result string `json:"result,omitempty"`
}

type feedbackRenderer struct {
	messages *msgcat.Catalog
	logger   *zap.Logger
}

func (f feedbackRenderer) sideLabel(side rules.Side) string {
	if side == "" {
		return ""
	}
	return f.messages.MustRender("side."+string(side), nil)
}

func (f feedbackRenderer) render(n corepuzzle.Notice) Feedback {
	key := "notice." + string(n.Kind)
	if n.Kind == corepuzzle.NoticePositionFinished {
		key += "." + string(n.Result)
	}
	data := map[string]any{
		"Number": n.Index + 1,
		"Total":  n.Total,
		"Side":   f.sideLabel(n.Side),
		"SAN":    n.SAN,
		"Move":   n.Move.String(),
		"Detail": n.Detail,
	}

	var (
		text string
		err  error
	)
	if n.Kind == corepuzzle.NoticeMoveAccepted {
		text, err = f.messages.Pick(key, data)
	} else {
		text, err = f.messages.Render(key, data)
	}
	if err != nil {
		f.logger.Warn("puzzle_feedback_render_failed", zap.String("key", key), zap.Error(err))
		text = string(n.Kind)
	}

	fb := Feedback{Kind: string(n.Kind), Text: text, SAN: n.SAN, Result: string(n.Result)}
	if !n.Move.IsZero() {
		fb.Move = n.Move.String()
	}
	return fb
}
