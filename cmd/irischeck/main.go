package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/park285/cheese-puzzle/internal/config"
	"github.com/park285/cheese-puzzle/internal/irisfast"
	"github.com/park285/cheese-puzzle/internal/obslog"
)

// irischeck connects to the Iris bridge, prints incoming messages for a short
// window and optionally sends one test reply.
func main() {
	room := flag.String("room", "", "room to send a test reply to")
	text := flag.String("text", "♞ puzzle bot irischeck", "test reply text")
	window := flag.Duration("window", 10*time.Second, "how long to observe messages")
	flag.Parse()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	cfg, err := appcfg.Read()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.IrisBaseURL == "" {
		log.Fatal("IRIS_BASE_URL is required")
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if cfg.XUserID != "" {
			m["X-User-Id"] = cfg.XUserID
		}
		if cfg.XUserEmail != "" {
			m["X-User-Email"] = cfg.XUserEmail
		}
		if cfg.XSessionID != "" {
			m["X-Session-Id"] = cfg.XSessionID
		}
		return m
	}

	client := irisfast.NewClient(cfg.IrisBaseURL,
		irisfast.WithHeaderProvider(headers),
		irisfast.WithTimeout(8*time.Second),
	)

	var ws *irisfast.WebSocket
	if cfg.IrisWSURL != "" {
		ws = irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
		ws.SetHeaderProvider(headers)
		ws.OnStateChange(func(state irisfast.WebSocketState) {
			logger.Info("iris_ws_state", zap.String("state", string(state)))
		})
		ws.OnMessage(func(msg *irisfast.Message) {
			fmt.Printf("WS msg room=%s from=%s user=%s text=%q\n", msg.Room, msg.SenderName(), msg.UserID(), msg.Msg)
		})

		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := ws.Connect(cctx)
		ccancel()
		if err != nil {
			logger.Error("iris_ws_connect_failed", zap.Error(err))
			ws = nil
		}
	} else {
		logger.Info("iris_ws_skipped", zap.String("reason", "IRIS_WS_URL not set"))
	}

	if *room != "" {
		mode := cfg.IrisEgress
		if ws == nil {
			mode = irisfast.EgressHTTP
		}
		egress := irisfast.NewEgress(mode, false, client, ws, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := egress.SendText(ctx, *room, *text)
		cancel()
		if err != nil {
			logger.Error("iris_reply_failed", zap.String("room", *room), zap.Error(err))
			os.Exit(1)
		}
		logger.Info("iris_reply_ok", zap.String("room", *room))
	}

	if ws == nil {
		return
	}
	t := time.NewTimer(*window)
	<-t.C
	_ = ws.Close(context.Background())
}
