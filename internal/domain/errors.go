package domain

// Error codes carried in the typed error envelope.
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeConnectionLimit   = "CONNECTION_LIMIT"
	ErrCodeStreamNotFound    = "STREAM_NOT_FOUND"
	ErrCodeRoomNotFound      = "ROOM_NOT_FOUND"
	ErrCodeRoomFull          = "ROOM_FULL"
	ErrCodeTransportNotFound = "TRANSPORT_NOT_FOUND"
	ErrCodeProducerNotFound  = "PRODUCER_NOT_FOUND"
	ErrCodeConsumerNotFound  = "CONSUMER_NOT_FOUND"
	ErrCodeCannotConsume     = "CANNOT_CONSUME"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// ErrorMessage is the uniform typed error envelope sent to clients.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage creates a new error envelope.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
