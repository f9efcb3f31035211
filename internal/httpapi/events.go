package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	svcpuzzle "github.com/park285/cheese-puzzle/internal/service/puzzle"
)

const (
	eventsBuffer  = 16
	eventsTimeout = 5 * time.Second
)

// events streams a session view on every committed change. The first frame is
// the current snapshot. The stream outlives session-complete since Previous
// can reopen the set; it ends when the client or the server goes away.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	updates, cancel := h.svc.Hub().Subscribe(id, eventsBuffer)
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("puzzle_events_accept_failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// the client never sends; CloseRead handles its close frame
	ctx := conn.CloseRead(r.Context())

	if err := writeView(ctx, conn, svcpuzzle.View(sess, nil)); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if err := writeView(ctx, conn, svcpuzzle.View(up.Session, up.Feedback)); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("puzzle_events_write_failed", zap.String("session_id", id), zap.Error(err))
				}
				return
			}
		}
	}
}

func writeView(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, eventsTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
