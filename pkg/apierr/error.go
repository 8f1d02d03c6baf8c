package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Error is the taxonomy error carried across component boundaries. Component
// packages translate their internal sentinels into one of the registered
// codes before anything reaches the HTTP adapter; no internal type leaks to
// the wire.
type Error struct {
	Code Code
	Text string
	// Cause is the wrapped internal error, never serialized.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Text, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Text)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error.
func New(code Code, text string) *Error {
	return &Error{Code: code, Text: text}
}

// Wrap builds a taxonomy error around an internal cause.
func Wrap(code Code, text string, cause error) *Error {
	return &Error{Code: code, Text: text, Cause: cause}
}

// CodeOf extracts the taxonomy code from err, defaulting to Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is lets errors.Is match on bare codes via AsCode sentinels.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// Message is one entry of the wire error body.
type Message struct {
	Code        string `json:"code"`
	MessageType string `json:"messageType"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp"`
}

// Body is the wire shape of every error response:
// {"messages":[{"code","messageType","text","timestamp"}]}.
type Body struct {
	Messages []Message `json:"messages"`
}

// BodyFor renders the wire body for err at the given instant.
func BodyFor(err error, now time.Time) Body {
	code := CodeOf(err)
	text := "internal error"
	var e *Error
	if errors.As(err, &e) {
		text = e.Text
	}
	return Body{Messages: []Message{{
		Code:        string(code),
		MessageType: "Error",
		Text:        text,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}}}
}
