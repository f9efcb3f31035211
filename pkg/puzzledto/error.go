package puzzledto

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "puzzle service error"
}

const (
	CodeBadRequest        = "bad_request"
	CodeNoValidPositions  = "no_valid_positions"
	CodeIllegalMove       = "illegal_move"
	CodeSessionNotFound   = "session_not_found"
	CodeSessionBusy       = "session_busy"
	CodeLessonNotFound    = "lesson_not_found"
	CodeLessonUnavailable = "lesson_unavailable"
	CodeRoomNotAllowed    = "room_not_allowed"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)
