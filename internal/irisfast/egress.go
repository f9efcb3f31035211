package irisfast

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Egress is the outbound side of the bridge: text and base64 images to a room.
type Egress interface {
	SendText(ctx context.Context, room, message string) error
	SendImage(ctx context.Context, room, imageBase64 string) error
}

const (
	EgressHTTP = "http"
	EgressWS   = "ws"
	EgressAuto = "auto"
)

const wsWriteTimeout = 5 * time.Second

type transport interface {
	name() string
	ready() bool
	reply(ctx context.Context, r ReplyRequest) error
}

// NewEgress picks the reply path for mode. In auto mode replies go over the
// WebSocket while it is connected and fall back to HTTP once per reply.
func NewEgress(mode string, dryrun bool, c *Client, ws *WebSocket, logger *zap.Logger) Egress {
	if logger == nil {
		logger = zap.NewNop()
	}
	web := &httpTransport{c: c}
	sock := &wsTransport{ws: ws, dryrun: dryrun, logger: logger}
	switch mode {
	case EgressWS:
		return &replier{primary: sock, logger: logger}
	case EgressAuto:
		return &replier{primary: sock, fallback: web, logger: logger}
	default:
		return &replier{primary: web, logger: logger}
	}
}

type replier struct {
	primary  transport
	fallback transport
	logger   *zap.Logger
}

func (r *replier) SendText(ctx context.Context, room, message string) error {
	return r.send(ctx, ReplyRequest{Type: ReplyText, Room: room, Data: message})
}

func (r *replier) SendImage(ctx context.Context, room, imageBase64 string) error {
	return r.send(ctx, ReplyRequest{Type: ReplyImage, Room: room, Data: imageBase64})
}

func (r *replier) send(ctx context.Context, req ReplyRequest) error {
	if r.fallback == nil {
		return r.primary.reply(ctx, req)
	}
	if r.primary.ready() {
		err := r.primary.reply(ctx, req)
		if err == nil {
			return nil
		}
		r.logger.Warn("egress_fallback",
			zap.String("from", r.primary.name()),
			zap.String("to", r.fallback.name()),
			zap.String("type", req.Type),
			zap.String("room", req.Room),
			zap.Error(err),
		)
	}
	return r.fallback.reply(ctx, req)
}

type httpTransport struct{ c *Client }

func (h *httpTransport) name() string { return EgressHTTP }

func (h *httpTransport) ready() bool { return h.c != nil }

func (h *httpTransport) reply(ctx context.Context, r ReplyRequest) error {
	if h.c == nil {
		return errors.New("http egress not configured")
	}
	return h.c.Reply(ctx, r)
}

type wsTransport struct {
	ws     *WebSocket
	dryrun bool
	logger *zap.Logger
}

func (w *wsTransport) name() string { return EgressWS }

func (w *wsTransport) ready() bool {
	return w.ws != nil && w.ws.State() == WSStateConnected
}

func (w *wsTransport) reply(ctx context.Context, r ReplyRequest) error {
	if w.dryrun {
		w.logger.Info("ws_egress_dryrun", zap.String("type", r.Type), zap.String("room", r.Room))
		return nil
	}
	if w.ws == nil {
		return errors.New("ws egress not configured")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
	}
	return w.ws.WriteJSON(ctx, &r)
}
