package puzzlepresenter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/cheese-puzzle/internal/catalog"
	"github.com/park285/cheese-puzzle/internal/msgcat"
	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	svcpuzzle "github.com/park285/cheese-puzzle/internal/service/puzzle"
	"github.com/park285/cheese-puzzle/internal/util"
	"github.com/park285/cheese-puzzle/pkg/puzzledto"
)

const (
	puzzleHelpInstruction    = "♞ 퍼즐 명령어 안내"
	puzzleCatalogInstruction = "♜ 퍼즐 레슨 목록"
	puzzleHistoryInstruction = "♜ 최근 퍼즐 기록"
	puzzleProfileInstruction = "♞ 퍼즐 프로필"
)

// PrefixProvider exposes the Prefix that Kakao messages should use.
type PrefixProvider interface {
	Prefix() string
}

// Formatter renders puzzle DTOs into Kakao-friendly text blocks.
type Formatter struct {
	prefixProvider PrefixProvider
	messages       *msgcat.Catalog
}

func NewFormatter(provider PrefixProvider, messages *msgcat.Catalog) *Formatter {
	return &Formatter{prefixProvider: provider, messages: messages}
}

func (f *Formatter) Prefix() string {
	if f == nil || f.prefixProvider == nil {
		return ""
	}
	return strings.TrimSpace(f.prefixProvider.Prefix())
}

func (f *Formatter) command(sub string) string {
	return "`" + f.Prefix() + "퍼즐 " + sub + "`"
}

func (f *Formatter) Help() string {
	lines := []string{
		puzzleHelpInstruction,
		"",
		"• " + f.command("시작 <FEN>[,<FEN>...]") + " 퍼즐 세트 시작",
		"• " + f.command("레슨 <번호> [beginner|intermediate|advanced]") + " 레슨 퍼즐 시작",
		"• " + f.command("<수>") + " 수 두기 (예: Qh7#, e2e4)",
		"• " + f.command("확인") + " / " + f.command("취소") + " 최선수가 아닌 수 진행 여부",
		"• " + f.command("힌트") + " 최선수 표시",
		"• " + f.command("다음") + " / " + f.command("이전") + " / " + f.command("리셋") + " 퍼즐 이동",
		"• " + f.command("현황") + " / " + f.command("목록") + " / " + f.command("기록") + " / " + f.command("프로필"),
		"• " + f.command("종료") + " 진행 중인 세트 끝내기",
	}
	content := strings.Join(lines, "\n")
	return util.SeeMoreWithHeader(content, puzzleHelpInstruction)
}

// Update joins the feedback lines of one change and adds a short progress
// line while the set is still running.
func (f *Formatter) Update(view puzzledto.SessionView) string {
	var sb strings.Builder
	for _, fb := range view.Feedback {
		if strings.TrimSpace(fb.Text) == "" {
			continue
		}
		sb.WriteString(fb.Text)
		sb.WriteString("\n")
	}
	if view.Hint != nil && view.Rationale != "" {
		sb.WriteString("• ")
		sb.WriteString(view.Rationale)
		sb.WriteString("\n")
	}
	if !view.Complete && view.Total > 0 {
		sb.WriteString(f.progressLine(view))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) progressLine(view puzzledto.SessionView) string {
	progress := fmt.Sprintf("[%d/%d]", min(view.Index+1, view.Total), view.Total)
	if view.Label != "" {
		progress = view.Label + " " + progress
	}
	switch corepuzzle.Stage(view.Stage) {
	case corepuzzle.StageAwaitingConfirmation:
		return progress + " " + f.command("확인") + " 또는 " + f.command("취소")
	case corepuzzle.StageOpponentTurn:
		return progress + " 컴퓨터 차례"
	default:
		return progress + " " + sideLabel(view.UserSide) + " 차례"
	}
}

func (f *Formatter) Status(view puzzledto.SessionView) string {
	var sb strings.Builder
	sb.WriteString("♞ 퍼즐 현황\n")
	if view.Label != "" {
		sb.WriteString(fmt.Sprintf("• 세트: %s\n", view.Label))
	}
	sb.WriteString(fmt.Sprintf("• 진행: %d/%d\n", min(view.Index+1, view.Total), view.Total))
	sb.WriteString(fmt.Sprintf("• 상태: %s\n", stageLabel(view.Stage)))
	if !view.Complete {
		sb.WriteString(fmt.Sprintf("• 내 색: %s\n", sideLabel(view.UserSide)))
	}
	if moves := recentMoves(view.Line, 6); moves != "" {
		sb.WriteString(fmt.Sprintf("• 최근 수: %s\n", moves))
	}
	sb.WriteString(fmt.Sprintf("• 성공 %d · 실패 %d · 건너뜀 %d · 힌트 %d",
		view.Stats.Results["won"]+view.Stats.Results["solved"]+view.Stats.Results["completed"],
		view.Stats.Results["lost"]+view.Stats.Results["draw"]+view.Stats.Results["stalemate"],
		view.Stats.Results["skipped"]+view.Stats.Results["aborted"],
		view.Stats.HintsUsed,
	))
	return sb.String()
}

func (f *Formatter) Catalog(view puzzledto.CatalogView) string {
	if len(view.Lessons) == 0 {
		return "등록된 레슨이 없습니다."
	}
	var sb strings.Builder
	category := ""
	for _, l := range view.Lessons {
		if l.Category != category {
			category = l.Category
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("■ " + category + "\n")
		}
		levels := "준비 중"
		if len(l.Available) > 0 {
			levels = strings.Join(l.Available, ", ")
		}
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", l.Number, l.Title, levels))
	}
	sb.WriteString("\n시작: " + f.command("레슨 <번호> <level>"))
	return util.SeeMore(sb.String(), puzzleCatalogInstruction)
}

func (f *Formatter) History(list []puzzledto.PuzzleAttempt) string {
	if len(list) == 0 {
		return "아직 기록된 퍼즐이 없습니다."
	}
	var sb strings.Builder
	for _, a := range list {
		label := a.Title
		if label == "" {
			label = "퍼즐"
		}
		if a.Level != "" {
			label += " | " + a.Level
		}
		sb.WriteString(fmt.Sprintf("%s %s #%d (%s)\n", formatResultBadge(a.Result), label, a.Index+1, util.FormatKST(a.EndedAt, "01-02 15:04")))
		if moves := strings.Join(a.MovesSAN, " "); moves != "" {
			sb.WriteString("   " + moves + "\n")
		}
	}
	return util.SeeMore(strings.TrimRight(sb.String(), "\n"), puzzleHistoryInstruction)
}

func (f *Formatter) Profile(p *puzzledto.PuzzleProfile) string {
	if p == nil {
		return "아직 퍼즐 프로필이 없습니다. " + f.command("시작") + "으로 시작해 보세요."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("• 푼 퍼즐: %d / %d\n", p.PositionsSolved, p.PositionsPlayed))
	sb.WriteString(fmt.Sprintf("• 실패 %d · 건너뜀 %d\n", p.PositionsFailed, p.PositionsSkipped))
	sb.WriteString(fmt.Sprintf("• 연속 성공: %d (최고 %d)\n", p.Streak, p.BestStreak))
	sb.WriteString(fmt.Sprintf("• 완료한 세트: %d · 힌트 %d회\n", p.SessionsFinished, p.HintsUsed))
	if p.LastLevel != "" {
		sb.WriteString(fmt.Sprintf("• 최근 레벨: %s\n", p.LastLevel))
	}
	sb.WriteString(fmt.Sprintf("• 마지막 플레이: %s", util.FormatKST(p.LastPlayedAt, "2006-01-02 15:04")))
	return util.SeeMore(sb.String(), puzzleProfileInstruction)
}

func (f *Formatter) NoSession() string {
	return f.render("error.session_not_found", nil) + "\n" + f.command("시작 <FEN>") + " 또는 " + f.command("목록") + "을 확인하세요."
}

func (f *Formatter) Ended() string {
	return "퍼즐 세트를 종료했습니다."
}

// Error maps a service error to a user-facing line.
func (f *Formatter) Error(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, corepuzzle.ErrEmptyInput):
		return f.render("error.empty_input", nil)
	case errors.Is(err, corepuzzle.ErrNoValidPositions):
		return f.render("error.no_valid_positions", map[string]any{"Detail": firstLineDetail(err)})
	case errors.Is(err, svcpuzzle.ErrSessionNotFound):
		return f.NoSession()
	case errors.Is(err, svcpuzzle.ErrSessionBusy):
		return f.render("error.session_busy", nil)
	case errors.Is(err, catalog.ErrLessonNotFound):
		return f.render("error.lesson_not_found", nil)
	case errors.Is(err, catalog.ErrLessonUnavailable):
		return f.render("error.lesson_unavailable", nil)
	case errors.Is(err, catalog.ErrUnknownLevel):
		return "레벨은 beginner, intermediate, advanced 중 하나입니다."
	}
	return f.render("error.internal", nil)
}

func (f *Formatter) render(key string, data any) string {
	if f == nil || f.messages == nil {
		return key
	}
	text, err := f.messages.Render(key, data)
	if err != nil {
		return key
	}
	return text
}

func firstLineDetail(err error) string {
	const marker = "first line error: "
	msg := err.Error()
	if i := strings.Index(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return msg
}

func sideLabel(side string) string {
	switch side {
	case "white":
		return "백"
	case "black":
		return "흑"
	default:
		return "-"
	}
}

func stageLabel(stage string) string {
	switch corepuzzle.Stage(stage) {
	case corepuzzle.StageAwaitingFirstMove:
		return "첫 수 대기"
	case corepuzzle.StageAwaitingMove:
		return "수 대기"
	case corepuzzle.StageAwaitingConfirmation:
		return "확인 대기"
	case corepuzzle.StageOpponentTurn:
		return "컴퓨터 차례"
	case corepuzzle.StageComplete:
		return "완료"
	default:
		return stage
	}
}

func recentMoves(line []puzzledto.PlyView, limit int) string {
	if len(line) > limit {
		line = line[len(line)-limit:]
	}
	out := make([]string, 0, len(line))
	for _, p := range line {
		out = append(out, p.SAN)
	}
	return strings.Join(out, " ")
}

func formatResultBadge(result string) string {
	switch corepuzzle.Result(result) {
	case corepuzzle.ResultWon, corepuzzle.ResultSolved, corepuzzle.ResultCompleted:
		return "✅"
	case corepuzzle.ResultLost:
		return "❌"
	case corepuzzle.ResultDraw, corepuzzle.ResultStalemate:
		return "🤝"
	default:
		return "⏭"
	}
}
