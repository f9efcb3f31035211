// Package httpapi serves puzzle sessions as JSON plus a websocket event
// stream per session.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	svcpuzzle "github.com/park285/cheese-puzzle/internal/service/puzzle"
	"github.com/park285/cheese-puzzle/pkg/puzzledto"
)

const (
	maxBodyBytes = 64 << 10
	// PlayerHeader carries an opaque player id for history and profile.
	PlayerHeader = "X-Puzzle-Player"
	webRoom      = "web"
)

type Handler struct {
	svc    *svcpuzzle.Service
	logger *zap.Logger
}

func NewRouter(svc *svcpuzzle.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /api/catalog", h.catalog)
	mux.HandleFunc("GET /api/profile", h.profile)
	mux.HandleFunc("GET /api/history", h.history)

	mux.HandleFunc("POST /api/sessions", h.start)
	mux.HandleFunc("POST /api/sessions/from-query", h.startFromQuery)
	mux.HandleFunc("POST /api/sessions/from-lesson", h.startFromLesson)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.end)
	mux.HandleFunc("POST /api/sessions/{id}/moves", h.move)
	mux.HandleFunc("POST /api/sessions/{id}/{action}", h.action)
	mux.HandleFunc("GET /api/sessions/{id}/board.png", h.board)
	mux.HandleFunc("GET /api/sessions/{id}/pgn", h.pgn)
	mux.HandleFunc("GET /api/sessions/{id}/events", h.events)

	return RequestID(AccessLog(logger, mux))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) meta(r *http.Request) svcpuzzle.SessionMeta {
	return svcpuzzle.SessionMeta{Source: svcpuzzle.SourceWeb, Room: webRoom, Sender: strings.TrimSpace(r.Header.Get(PlayerHeader))}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, derr := toDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("http_request_failed",
			zap.String("rid", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, derr)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) writeUpdate(w http.ResponseWriter, status int, up *svcpuzzle.Update) {
	writeJSON(w, status, svcpuzzle.View(up.Session, up.Feedback))
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req puzzledto.StartSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, puzzledto.DomainError{Code: puzzledto.CodeBadRequest, Message: "invalid JSON body"})
		return
	}
	input := req.Input
	if len(req.FENs) > 0 {
		input = strings.Join(append([]string{input}, req.FENs...), "\n")
	}
	up, err := h.svc.StartFromText(r.Context(), h.meta(r), input, req.Title, req.Level)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeUpdate(w, http.StatusCreated, up)
}

func (h *Handler) startFromQuery(w http.ResponseWriter, r *http.Request) {
	up, err := h.svc.StartFromQuery(r.Context(), h.meta(r), r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeUpdate(w, http.StatusCreated, up)
}

func (h *Handler) startFromLesson(w http.ResponseWriter, r *http.Request) {
	var req puzzledto.StartLessonRequest
	if err := decodeBody(r, &req); err != nil || req.Lesson <= 0 {
		status, derr := badRequest("lesson number required")
		writeJSON(w, status, derr)
		return
	}
	up, err := h.svc.StartFromLesson(r.Context(), h.meta(r), req.Lesson, req.Level)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeUpdate(w, http.StatusCreated, up)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svcpuzzle.View(sess, nil))
}

func (h *Handler) end(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.End(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	var req puzzledto.MoveRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Move) == "" {
		status, derr := badRequest("move required")
		writeJSON(w, status, derr)
		return
	}
	up, err := h.svc.Submit(r.Context(), r.PathValue("id"), req.Move)
	if errors.Is(err, svcpuzzle.ErrIllegalMove) && up != nil {
		status, derr := toDomainError(err)
		for _, fb := range up.Feedback {
			if fb.Kind == string(corepuzzle.NoticeIllegalMove) && fb.Text != "" {
				derr.Message = fb.Text
			}
		}
		writeJSON(w, status, derr)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeUpdate(w, http.StatusOK, up)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	var op func(ctx context.Context, id string) (*svcpuzzle.Update, error)
	switch r.PathValue("action") {
	case "confirm":
		op = h.svc.Confirm
	case "cancel":
		op = h.svc.Cancel
	case "hint":
		op = h.svc.Hint
	case "next":
		op = h.svc.Next
	case "previous":
		op = h.svc.Previous
	case "reset":
		op = h.svc.Reset
	default:
		http.NotFound(w, r)
		return
	}
	up, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeUpdate(w, http.StatusOK, up)
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := svcpuzzle.BoardOptions{Orientation: strings.ToLower(q.Get("flip"))}
	switch opts.Orientation {
	case "", "auto", "white", "black":
	default:
		status, derr := badRequest("flip must be auto, white or black")
		writeJSON(w, status, derr)
		return
	}
	switch strings.ToLower(q.Get("hint")) {
	case "1", "true", "yes":
		opts.Hint = true
	}
	png, err := h.svc.BoardPNG(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (h *Handler) pgn(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.PGN(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-chess-pgn")
	_, _ = io.WriteString(w, text)
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svcpuzzle.CatalogView(h.svc.Lessons()))
}

// playerMeta takes the player from the "player" query and falls back to the
// X-Puzzle-Player header.
func (h *Handler) playerMeta(w http.ResponseWriter, r *http.Request) (svcpuzzle.SessionMeta, bool) {
	meta := h.meta(r)
	if p := strings.TrimSpace(r.URL.Query().Get("player")); p != "" {
		meta.Sender = p
	}
	if meta.Sender == "" {
		status, derr := badRequest("player query or " + PlayerHeader + " header required")
		writeJSON(w, status, derr)
		return meta, false
	}
	return meta, true
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.playerMeta(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Profile(r.Context(), meta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, puzzledto.DomainError{Code: puzzledto.CodeSessionNotFound, Message: "no profile yet"})
		return
	}
	writeJSON(w, http.StatusOK, svcpuzzle.ProfileView(p))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.playerMeta(w, r)
	if !ok {
		return
	}
	limit := 0 // service default
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			status, derr := badRequest("limit must be a positive integer")
			writeJSON(w, status, derr)
			return
		}
		limit = n
	}
	list, err := h.svc.History(r.Context(), meta, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svcpuzzle.AttemptViews(list))
}
