package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/park285/cheese-puzzle/internal/catalog"
	corepuzzle "github.com/park285/cheese-puzzle/internal/puzzle"
	svcpuzzle "github.com/park285/cheese-puzzle/internal/service/puzzle"
	"github.com/park285/cheese-puzzle/pkg/puzzledto"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// toDomainError maps service errors to a status and the wire error.
func toDomainError(err error) (int, puzzledto.DomainError) {
	switch {
	case errors.Is(err, corepuzzle.ErrEmptyInput), errors.Is(err, corepuzzle.ErrNoValidPositions):
		return http.StatusUnprocessableEntity, puzzledto.DomainError{Code: puzzledto.CodeNoValidPositions, Message: err.Error()}
	case errors.Is(err, svcpuzzle.ErrIllegalMove):
		return http.StatusUnprocessableEntity, puzzledto.DomainError{Code: puzzledto.CodeIllegalMove, Message: "Invalid move! Try again."}
	case errors.Is(err, svcpuzzle.ErrSessionNotFound):
		return http.StatusNotFound, puzzledto.DomainError{Code: puzzledto.CodeSessionNotFound, Message: "session not found"}
	case errors.Is(err, svcpuzzle.ErrSessionBusy):
		return http.StatusConflict, puzzledto.DomainError{Code: puzzledto.CodeSessionBusy, Message: "session is busy, retry", Retryable: true}
	case errors.Is(err, catalog.ErrLessonNotFound):
		return http.StatusNotFound, puzzledto.DomainError{Code: puzzledto.CodeLessonNotFound, Message: err.Error()}
	case errors.Is(err, catalog.ErrLessonUnavailable):
		return http.StatusUnprocessableEntity, puzzledto.DomainError{Code: puzzledto.CodeLessonUnavailable, Message: err.Error()}
	case errors.Is(err, catalog.ErrUnknownLevel):
		return http.StatusBadRequest, puzzledto.DomainError{Code: puzzledto.CodeBadRequest, Message: err.Error()}
	case errors.Is(err, svcpuzzle.ErrRoomNotAllowed):
		return http.StatusForbidden, puzzledto.DomainError{Code: puzzledto.CodeRoomNotAllowed, Message: "room not allowed"}
	case errors.Is(err, svcpuzzle.ErrServiceClosed):
		return http.StatusServiceUnavailable, puzzledto.DomainError{Code: puzzledto.CodeUnavailable, Message: "service is shutting down", Retryable: true}
	}
	return http.StatusInternalServerError, puzzledto.DomainError{Code: puzzledto.CodeInternal, Message: "internal error"}
}

func badRequest(msg string) (int, puzzledto.DomainError) {
	return http.StatusBadRequest, puzzledto.DomainError{Code: puzzledto.CodeBadRequest, Message: msg}
}
