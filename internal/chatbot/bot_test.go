package chatbot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-puzzle/internal/adapter/puzzlepresenter"
	"github.com/park285/cheese-puzzle/internal/analysis"
	"github.com/park285/cheese-puzzle/internal/catalog"
	"github.com/park285/cheese-puzzle/internal/irisfast"
	"github.com/park285/cheese-puzzle/internal/msgcat"
	"github.com/park285/cheese-puzzle/internal/rules"
	"github.com/park285/cheese-puzzle/internal/service/cache"
	svcpuzzle "github.com/park285/cheese-puzzle/internal/service/puzzle"
)

const fenBackRank = "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1"

type mateAnalyzer struct{ rules *rules.Engine }

func (a mateAnalyzer) BestMove(ctx context.Context, fen string) (analysis.Suggestion, error) {
	mv := rules.Move{From: "a1", To: "a8"}
	if !a.rules.IsLegal(fen, mv) {
		return analysis.Suggestion{}, analysis.ErrNoMove
	}
	san, err := a.rules.SAN(fen, mv)
	if err != nil {
		return analysis.Suggestion{}, err
	}
	return analysis.Suggestion{Move: mv, SAN: san, Provider: "test"}, nil
}

type sent struct {
	room  string
	text  string
	image bool
}

type fakeSender struct {
	mu  sync.Mutex
	out []sent
}

func (f *fakeSender) SendText(_ context.Context, room, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{room: room, text: message})
	return nil
}

func (f *fakeSender) SendImage(_ context.Context, room, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{room: room, image: true})
	return nil
}

// drain returns and clears everything sent so far.
func (f *fakeSender) drain() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = nil
	return out
}

func texts(list []sent) string {
	var parts []string
	for _, s := range list {
		if !s.image {
			parts = append(parts, s.text)
		}
	}
	return strings.Join(parts, "\n")
}

func images(list []sent) int {
	n := 0
	for _, s := range list {
		if s.image {
			n++
		}
	}
	return n
}

type prefix string

func (p prefix) Prefix() string { return string(p) }

func newTestBot(t *testing.T, rooms ...string) (*Bot, *svcpuzzle.Service, *fakeSender) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	msgs, err := msgcat.New("ko", "")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	lessons, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	r := rules.New()
	svc, err := svcpuzzle.NewService(svcpuzzle.Deps{
		Rules:    r,
		Analyzer: mateAnalyzer{rules: r},
		Store:    svcpuzzle.NewStore(cache.NewCacheServiceWithClient(rdb, nil), time.Hour),
		Lessons:  lessons,
		Messages: msgs,
	}, svcpuzzle.Config{AnalysisTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	t.Cleanup(svc.Close)

	sender := &fakeSender{}
	bot := New(svc, sender, puzzlepresenter.NewFormatter(prefix("!"), msgs), Config{Prefix: "!", AllowedRooms: rooms}, nil)
	return bot, svc, sender
}

func message(room, user, text string) *irisfast.Message {
	name := user + "-name"
	return &irisfast.Message{Msg: text, Room: room, Sender: &name, JSON: &irisfast.MessageJSON{UserID: user}}
}

func settle(bot *Bot, svc *svcpuzzle.Service) {
	svc.Wait()
	bot.Wait()
}

func TestChatPuzzleFlow(t *testing.T) {
	bot, svc, sender := newTestBot(t)
	ctx := context.Background()

	bot.Handle(ctx, message("room1", "u1", "!퍼즐 시작 "+fenBackRank))
	settle(bot, svc)
	out := sender.drain()
	if images(out) == 0 || !strings.Contains(texts(out), "백 차례") {
		t.Fatalf("start reply missing board or turn: %+v", out)
	}
	for _, s := range out {
		if s.room != "room1" {
			t.Fatalf("reply sent to wrong room %q", s.room)
		}
	}

	sess, err := svc.Active(ctx, svcpuzzle.SessionMeta{Room: "room1", Sender: "u1"})
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if sess.Source != Source || sess.PlayerName != "u1-name" {
		t.Fatalf("unexpected session meta %+v", sess)
	}

	bot.Handle(ctx, message("room1", "u1", "!퍼즐 Qh7"))
	out = sender.drain()
	if images(out) != 0 || !strings.Contains(texts(out), "둘 수 없는 수입니다") {
		t.Fatalf("illegal move reply: %+v", out)
	}

	bot.Handle(ctx, message("room1", "u1", "!퍼즐 Ra8#"))
	settle(bot, svc)
	out = sender.drain()
	if images(out) == 0 || !strings.Contains(texts(out), "체크메이트 승리") {
		t.Fatalf("mate reply: %+v", out)
	}

	bot.Handle(ctx, message("room1", "u1", "!퍼즐 기록"))
	if got := texts(sender.drain()); !strings.Contains(got, "Ra8") || !strings.Contains(got, "✅") {
		t.Fatalf("history reply: %q", got)
	}

	bot.Handle(ctx, message("room1", "u1", "!퍼즐 프로필"))
	if got := texts(sender.drain()); !strings.Contains(got, "1 / 1") {
		t.Fatalf("profile reply: %q", got)
	}
}

func TestChatErrorsAndHelp(t *testing.T) {
	bot, _, sender := newTestBot(t)
	ctx := context.Background()

	cases := []struct {
		input string
		want  string
	}{
		{"!퍼즐", "퍼즐 명령어 안내"},
		{"!퍼즐 힌트", "진행 중인 퍼즐이 없습니다."},
		{"!퍼즐 시작", "FEN을 하나 이상"},
		{"!퍼즐 시작 not a fen", "첫 줄 오류"},
		{"!퍼즐 레슨 99", "레슨을 찾을 수 없습니다."},
		{"!퍼즐 레슨 1 expert", "beginner"},
		{"!퍼즐 레슨 abc", "용법"},
		{"!퍼즐 목록", "퍼즐 레슨 목록"},
	}
	for _, tc := range cases {
		bot.Handle(ctx, message("room1", "u1", tc.input))
		if got := texts(sender.drain()); !strings.Contains(got, tc.want) {
			t.Fatalf("%q replied %q, want %q", tc.input, got, tc.want)
		}
	}

	bot.Handle(ctx, message("room1", "u1", "!체스 시작"))
	if out := sender.drain(); len(out) != 0 {
		t.Fatalf("other commands should be ignored: %+v", out)
	}
}

func TestHandleMessageFiltersRooms(t *testing.T) {
	bot, svc, sender := newTestBot(t, "allowed")

	bot.HandleMessage(message("elsewhere", "u1", "!퍼즐"))
	bot.HandleMessage(message("allowed", "u1", "퍼즐"))
	bot.HandleMessage(nil)
	settle(bot, svc)
	if out := sender.drain(); len(out) != 0 {
		t.Fatalf("filtered messages produced replies: %+v", out)
	}

	bot.HandleMessage(message("allowed", "u1", "!퍼즐 도움"))
	settle(bot, svc)
	if out := sender.drain(); len(out) != 1 || out[0].room != "allowed" {
		t.Fatalf("expected help reply: %+v", out)
	}
}

func TestAsyncUpdatesPushedToChatRoom(t *testing.T) {
	bot, svc, sender := newTestBot(t)
	ctx := context.Background()

	up, err := svc.StartFromText(ctx, svcpuzzle.SessionMeta{Source: Source, Room: "room9", Sender: "u9"}, fenBackRank, "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	settle(bot, svc)
	sender.drain()

	feedback := []svcpuzzle.Feedback{{Kind: "opponent_moved", Text: "🤖 컴퓨터: Kh8"}}
	bot.onUpdate(svcpuzzle.Update{Session: up.Session, Feedback: feedback, Async: true})
	bot.onUpdate(svcpuzzle.Update{Session: up.Session, Feedback: feedback})
	web := *up.Session
	web.Source = "web"
	bot.onUpdate(svcpuzzle.Update{Session: &web, Feedback: feedback, Async: true})
	bot.Wait()

	out := sender.drain()
	if len(out) != 2 || out[0].room != "room9" || !strings.Contains(out[0].text, "Kh8") || !out[1].image {
		t.Fatalf("expected one pushed board to room9: %+v", out)
	}
}
