package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies where an error originated.
type Kind string

const (
	KindValidation Kind = "validation"
	KindBackend    Kind = "backend"
	KindDecode     Kind = "decode"
)

var (
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrEmptyWorkbook    = errors.New("workbook has no sheets")
	ErrPreviewNotFound  = errors.New("preview not found or already closed")
	ErrNoReport         = errors.New("no report generated")
	ErrNotImplemented   = errors.New("not implemented")
	ErrUserNotFound     = errors.New("user not found")
)

// Generic messages shown when the backend gives nothing better.
const (
	GenericFailure = "Something went wrong"
	ReportFailure  = "Failed to generate report. Please try again."
	LoginFailure   = "Login failed. Please check your credentials."
)

type AppError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrMissingSelection is returned before any request when a report is asked for
// without both a report type and a device.
var ErrMissingSelection = Validation("MISSING_SELECTION", "Please select a report type and device.")

func New(kind Kind, code, message string, err error) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation reports a missing or malformed local input; no request was issued.
func Validation(code, message string) *AppError {
	return New(KindValidation, code, message, nil)
}

// Decode wraps a failure to interpret a backend payload.
func Decode(message string, err error) *AppError {
	return New(KindDecode, "DECODE_FAILED", message, err)
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) (Kind, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindValidation
}

// MessageCarrier is implemented by errors that hold a message meant for the user,
// such as a backend response body.
type MessageCarrier interface {
	UserMessage() string
}

// UserMessage picks the text to show for err: the backend-supplied message when one
// exists, the validation message for local failures, otherwise fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var carrier MessageCarrier
	if errors.As(err, &carrier) {
		if msg := carrier.UserMessage(); msg != "" {
			return msg
		}
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind == KindValidation {
		return appErr.Message
	}
	return fallback
}
