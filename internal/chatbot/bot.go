// Package chatbot routes KakaoTalk commands from the Iris bridge to the
// puzzle service and pushes asynchronous opponent replies back to the room.
package chatbot

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-puzzle/internal/adapter/puzzlepresenter"
	"github.com/park285/cheese-puzzle/internal/irisfast"
	svcpuzzle "github.com/park285/cheese-puzzle/internal/service/puzzle"
)

// Source tags sessions opened from chat so async updates are routed back here.
const Source = "kakao"

const (
	commandWord    = "퍼즐"
	defaultLevel   = "beginner"
	defaultHistory = 10
	replyTimeout   = 15 * time.Second
)

type Config struct {
	Prefix       string
	AllowedRooms []string
}

type Bot struct {
	svc       *svcpuzzle.Service
	presenter *puzzlepresenter.Presenter
	formatter *puzzlepresenter.Formatter
	cfg       Config
	logger    *zap.Logger

	wg sync.WaitGroup
}

func New(svc *svcpuzzle.Service, sender puzzlepresenter.Sender, formatter *puzzlepresenter.Formatter, cfg Config, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bot{
		svc:       svc,
		presenter: puzzlepresenter.NewPresenter(sender),
		formatter: formatter,
		cfg:       cfg,
		logger:    logger,
	}
	svc.Hub().OnUpdate(b.onUpdate)
	return b
}

// Attach subscribes the bot to incoming messages and returns the callback id.
func (b *Bot) Attach(ws irisfast.WSClient) int {
	return ws.OnMessage(b.HandleMessage)
}

// HandleMessage filters a message and handles it off the WS read loop.
func (b *Bot) HandleMessage(msg *irisfast.Message) {
	if !b.accepts(msg) {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		b.Handle(ctx, msg)
	}()
}

// Wait blocks until in-flight handlers and pushes have finished.
func (b *Bot) Wait() { b.wg.Wait() }

func (b *Bot) accepts(msg *irisfast.Message) bool {
	if msg == nil || strings.TrimSpace(msg.Msg) == "" {
		return false
	}
	if len(b.cfg.AllowedRooms) > 0 && !slices.Contains(b.cfg.AllowedRooms, msg.Room) {
		b.logger.Debug("chat_room_ignored", zap.String("room", msg.Room))
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(msg.Msg), b.cfg.Prefix)
}

// Handle runs one command synchronously.
func (b *Bot) Handle(ctx context.Context, msg *irisfast.Message) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg.Msg), b.cfg.Prefix))
	word, rest := cutWord(raw)
	if word != commandWord {
		return
	}
	meta := svcpuzzle.SessionMeta{
		Source:     Source,
		Room:       msg.Room,
		Sender:     msg.UserID(),
		PlayerName: msg.SenderName(),
	}
	sub, arg := cutWord(rest)
	b.logger.Debug("chat_command", zap.String("room", msg.Room), zap.String("sub", sub))

	var err error
	switch sub {
	case "", "도움", "help":
		err = b.presenter.Text(ctx, msg.Room, b.formatter.Help())
	case "시작":
		err = b.start(ctx, meta, func() (*svcpuzzle.Update, error) {
			return b.svc.StartFromText(ctx, meta, arg, "", "")
		})
	case "레슨":
		err = b.startLesson(ctx, meta, arg)
	case "확인":
		err = b.act(ctx, meta, b.svc.Confirm)
	case "취소":
		err = b.act(ctx, meta, b.svc.Cancel)
	case "힌트":
		err = b.act(ctx, meta, b.svc.Hint)
	case "다음":
		err = b.act(ctx, meta, b.svc.Next)
	case "이전":
		err = b.act(ctx, meta, b.svc.Previous)
	case "리셋":
		err = b.act(ctx, meta, b.svc.Reset)
	case "현황":
		err = b.status(ctx, meta)
	case "목록":
		err = b.presenter.Text(ctx, meta.Room, b.formatter.Catalog(svcpuzzle.CatalogView(b.svc.Lessons())))
	case "종료":
		err = b.end(ctx, meta)
	case "기록":
		err = b.history(ctx, meta, arg)
	case "프로필":
		err = b.profile(ctx, meta)
	default:
		err = b.move(ctx, meta, rest)
	}
	if err != nil {
		b.logger.Warn("chat_command_failed",
			zap.String("room", msg.Room),
			zap.String("sub", sub),
			zap.Error(err),
		)
		_ = b.presenter.Text(ctx, msg.Room, b.formatter.Error(err))
	}
}

func (b *Bot) start(ctx context.Context, meta svcpuzzle.SessionMeta, open func() (*svcpuzzle.Update, error)) error {
	up, err := open()
	if err != nil {
		return err
	}
	return b.reply(ctx, meta.Room, up)
}

func (b *Bot) startLesson(ctx context.Context, meta svcpuzzle.SessionMeta, arg string) error {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return b.presenter.Text(ctx, meta.Room, b.formatter.Catalog(svcpuzzle.CatalogView(b.svc.Lessons())))
	}
	number, err := strconv.Atoi(fields[0])
	if err != nil || number <= 0 {
		return b.presenter.Text(ctx, meta.Room, "용법: "+b.cfg.Prefix+commandWord+" 레슨 <번호> [level]")
	}
	level := defaultLevel
	if len(fields) >= 2 {
		level = fields[1]
	}
	return b.start(ctx, meta, func() (*svcpuzzle.Update, error) {
		return b.svc.StartFromLesson(ctx, meta, number, level)
	})
}

func (b *Bot) act(ctx context.Context, meta svcpuzzle.SessionMeta, fn func(context.Context, string) (*svcpuzzle.Update, error)) error {
	sess, err := b.svc.Active(ctx, meta)
	if err != nil {
		return err
	}
	up, err := fn(ctx, sess.ID)
	if err != nil {
		return err
	}
	return b.reply(ctx, meta.Room, up)
}

func (b *Bot) move(ctx context.Context, meta svcpuzzle.SessionMeta, input string) error {
	sess, err := b.svc.Active(ctx, meta)
	if err != nil {
		return err
	}
	up, err := b.svc.Submit(ctx, sess.ID, input)
	if errors.Is(err, svcpuzzle.ErrIllegalMove) && up != nil {
		// 보드는 그대로이므로 안내 문구만 보낸다.
		return b.presenter.Text(ctx, meta.Room, b.formatter.Update(svcpuzzle.View(up.Session, up.Feedback)))
	}
	if err != nil {
		return err
	}
	return b.reply(ctx, meta.Room, up)
}

func (b *Bot) status(ctx context.Context, meta svcpuzzle.SessionMeta) error {
	sess, err := b.svc.Active(ctx, meta)
	if err != nil {
		return err
	}
	view := svcpuzzle.View(sess, nil)
	png, err := b.svc.RenderBoard(ctx, sess, svcpuzzle.BoardOptions{Hint: view.Hint != nil})
	if err != nil {
		return err
	}
	return b.presenter.Board(ctx, meta.Room, b.formatter.Status(view), png)
}

func (b *Bot) end(ctx context.Context, meta svcpuzzle.SessionMeta) error {
	sess, err := b.svc.Active(ctx, meta)
	if err != nil {
		return err
	}
	if err := b.svc.End(ctx, sess.ID); err != nil {
		return err
	}
	return b.presenter.Text(ctx, meta.Room, b.formatter.Ended())
}

func (b *Bot) history(ctx context.Context, meta svcpuzzle.SessionMeta, arg string) error {
	limit := defaultHistory
	if n, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil && n > 0 {
		limit = n
	}
	list, err := b.svc.History(ctx, meta, limit)
	if err != nil {
		return err
	}
	return b.presenter.Text(ctx, meta.Room, b.formatter.History(svcpuzzle.AttemptViews(list)))
}

func (b *Bot) profile(ctx context.Context, meta svcpuzzle.SessionMeta) error {
	p, err := b.svc.Profile(ctx, meta)
	if err != nil {
		return err
	}
	return b.presenter.Text(ctx, meta.Room, b.formatter.Profile(svcpuzzle.ProfileView(p)))
}

// reply sends the feedback of a caller-driven update with the current board.
func (b *Bot) reply(ctx context.Context, room string, up *svcpuzzle.Update) error {
	if up == nil || up.Session == nil {
		return nil
	}
	view := svcpuzzle.View(up.Session, up.Feedback)
	png, err := b.svc.RenderBoard(ctx, up.Session, svcpuzzle.BoardOptions{Hint: view.Hint != nil})
	if err != nil {
		b.logger.Warn("chat_board_render_failed", zap.String("session_id", up.Session.ID), zap.Error(err))
		return b.presenter.Text(ctx, room, b.formatter.Update(view))
	}
	return b.presenter.Board(ctx, room, b.formatter.Update(view), png)
}

// onUpdate forwards analysis-driven updates of chat sessions to their room.
func (b *Bot) onUpdate(u svcpuzzle.Update) {
	if !u.Async || u.Session == nil || u.Session.Source != Source || u.Session.Room == "" {
		return
	}
	if len(u.Feedback) == 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		if err := b.reply(ctx, u.Session.Room, &u); err != nil {
			b.logger.Warn("chat_push_failed",
				zap.String("session_id", u.Session.ID),
				zap.String("room", u.Session.Room),
				zap.Error(err),
			)
		}
	}()
}

// cutWord splits off the first whitespace-separated token.
func cutWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}
