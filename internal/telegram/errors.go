package telegram

import (
	"errors"
	"fmt"
	"strings"
)

// Descriptions the relay matches to pick a fallback path.
const (
	DescThreadNotFound   = "message thread not found"
	DescTopicIDInvalid   = "TOPIC_ID_INVALID"
	DescReactionsTooMany = "REACTIONS_TOO_MANY"
	DescReactionInvalid  = "REACTION_INVALID"
	DescReplyNotFound    = "message to be replied not found"
)

// APIError is an ok=false response from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Contains reports whether the description contains substr.
func (e *APIError) Contains(substr string) bool {
	return strings.Contains(e.Description, substr)
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsDescription reports whether err is an API error whose description contains substr.
func IsDescription(err error, substr string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Contains(substr)
}

// TransportError is a request that never got a Bot API answer. Its text has
// the bot token replaced, since request URLs embed it.
type TransportError struct {
	Method string
	msg    string
	err    error
}

func (e *TransportError) Error() string { return "telegram " + e.Method + ": " + e.msg }
func (e *TransportError) Unwrap() error { return e.err }

func newTransportError(method, token string, err error) *TransportError {
	msg := err.Error()
	if token != "" {
		msg = strings.ReplaceAll(msg, token, "<token>")
	}
	return &TransportError{Method: method, msg: msg, err: err}
}
