package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError is returned for any non-2xx backend response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// UserMessage is the backend's own explanation, if it sent one.
func (e *StatusError) UserMessage() string {
	return e.Message
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func newStatusError(method, path string, resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := strings.TrimSpace(string(raw))
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    messageFromBody(resp.Header.Get("Content-Type"), body),
		Body:       body,
	}
}

// messageFromBody takes "message" (or "error") from a JSON body, else the plain text.
func messageFromBody(contentType, body string) string {
	if body == "" {
		return ""
	}
	if strings.Contains(contentType, "json") || strings.HasPrefix(body, "{") {
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal([]byte(body), &payload); err == nil {
			if payload.Message != "" {
				return payload.Message
			}
			return payload.Error
		}
	}
	if strings.Contains(contentType, "html") {
		return ""
	}
	return body
}
