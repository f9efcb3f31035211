package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/cheese-puzzle/internal/adapter/puzzlepresenter"
	"github.com/park285/cheese-puzzle/internal/chatbot"
	appcfg "github.com/park285/cheese-puzzle/internal/config"
	"github.com/park285/cheese-puzzle/internal/httpapi"
	"github.com/park285/cheese-puzzle/internal/irisfast"
	"github.com/park285/cheese-puzzle/internal/msgcat"
	"github.com/park285/cheese-puzzle/internal/obslog"
	"github.com/park285/cheese-puzzle/internal/puzzlebuilder"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	deps, err := puzzlebuilder.New(cfg, logger)
	if err != nil {
		logger.Fatal("puzzle_init_error", zap.Error(err))
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps.Service, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if cfg.ChatEnabled() {
		g.Go(func() error { return runChat(gctx, cfg, deps, logger) })
	} else {
		logger.Info("chat_disabled", zap.String("reason", "IRIS_BASE_URL/IRIS_WS_URL not set"))
	}

	if err := g.Wait(); err != nil {
		logger.Error("server_exit", zap.Error(err))
	}
	deps.Service.Wait()
}

// runChat connects the Iris bridge and serves commands until ctx ends.
func runChat(ctx context.Context, cfg *appcfg.AppConfig, deps *puzzlebuilder.Deps, logger *zap.Logger) error {
	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.XUserID != "" {
			h["X-User-Id"] = cfg.XUserID
		}
		if cfg.XUserEmail != "" {
			h["X-User-Email"] = cfg.XUserEmail
		}
		if cfg.XSessionID != "" {
			h["X-Session-Id"] = cfg.XSessionID
		}
		return h
	}

	client := irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(headers))
	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		logger.Info("iris_ws_state", zap.String("state", string(state)))
	})

	// 채팅 문구는 항상 한국어 카탈로그를 쓴다.
	messages, err := msgcat.New("ko", cfg.PuzzleMessagesDir)
	if err != nil {
		return err
	}
	egress := irisfast.NewEgress(cfg.IrisEgress, false, client, ws, logger)
	formatter := puzzlepresenter.NewFormatter(prefixProvider{prefix: cfg.BotPrefix}, messages)
	bot := chatbot.New(deps.Service, egress, formatter, chatbot.Config{
		Prefix:       cfg.BotPrefix,
		AllowedRooms: cfg.AllowedRooms,
	}, logger)

	return serveChat(ctx, ws, bot, logger)
}

func serveChat(ctx context.Context, ws irisfast.WSClient, bot *chatbot.Bot, logger *zap.Logger) error {
	id := bot.Attach(ws)
	defer ws.RemoveMessageCallback(id)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := ws.Connect(cctx)
	cancel()
	if err != nil {
		return err
	}
	logger.Info("chat_ready")

	<-ctx.Done()
	cctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = ws.Close(cctx)
	bot.Wait()
	return err
}

type prefixProvider struct{ prefix string }

func (p prefixProvider) Prefix() string { return p.prefix }
