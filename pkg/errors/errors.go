package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrBadRequest          = errors.New("bad request")
	ErrInternalServer      = errors.New("internal server error")
	ErrChatNotFound        = errors.New("chat not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrNotParticipant      = errors.New("not a participant of this chat")
	ErrAlreadyParticipant  = errors.New("user is already a participant")
	ErrDirectChatImmutable = errors.New("direct chats do not support membership changes")
	ErrNoToken             = errors.New("no token")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

// Коды закрытия WebSocket для ошибок аутентификации и доступа
const (
	CloseTokenExpired   = 4001
	CloseInvalidToken   = 4002
	CloseNoToken        = 4003
	CloseNotParticipant = 4403
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrChatNotFound),
		errors.Is(err, ErrParticipantNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoToken),
		errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrAlreadyParticipant),
		errors.Is(err, ErrDirectChatImmutable):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CloseCodeFor возвращает код закрытия WebSocket для ошибки рукопожатия.
// Ошибка пользователя, которого больше нет, считается невалидным токеном.
func CloseCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return CloseTokenExpired
	case errors.Is(err, ErrNoToken):
		return CloseNoToken
	case errors.Is(err, ErrNotParticipant):
		return CloseNotParticipant
	default:
		return CloseInvalidToken
	}
}
