package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

const fallbackMessage = "request failed"

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fallbackMessage
		if text := http.StatusText(e.StatusCode); text != "" {
			msg = fmt.Sprintf("%s: %s", fallbackMessage, lower(text))
		}
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}

	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets callers match any 401 with errors.Is(err, ErrUnauthorized).
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

func lower(s string) string {
	return strings.ToLower(s)
}

// newAPIError builds the error for a failed response. message is the
// backend's own text and may be empty.
func newAPIError(statusCode int, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
	}
}

// Message returns the text to show the user for err: the backend's message
// when there is one, fallback otherwise.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
