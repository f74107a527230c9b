// Package handler exposes the console views over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"openfms/console/internal/apiclient"
	"openfms/console/internal/apperr"
)

// errorStatus maps an error to the HTTP status the console answers with.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrSubmitInProgress):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, apperr.ErrPreviewNotFound), errors.Is(err, apperr.ErrNoReport),
		errors.Is(err, apperr.ErrUserNotFound):
		return http.StatusNotFound
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	}

	var se *apiclient.StatusError
	if errors.As(err, &se) {
		// 后端4xx原样透传，其余按网关错误处理
		if se.StatusCode >= 400 && se.StatusCode < 500 {
			return se.StatusCode
		}
		return http.StatusBadGateway
	}
	if kind, ok := apperr.KindOf(err); ok && kind == apperr.KindDecode {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

// respondError writes {"error": msg}. msg is the backend's message when it sent one, else fallback.
func respondError(c *gin.Context, err error, fallback string) {
	msg := apperr.UserMessage(err, fallback)
	switch {
	case errors.Is(err, apperr.ErrSubmitInProgress), errors.Is(err, apperr.ErrPreviewNotFound),
		errors.Is(err, apperr.ErrNoReport), errors.Is(err, apperr.ErrUserNotFound):
		msg = err.Error()
	case errors.Is(err, apperr.ErrNotImplemented):
		msg = "功能开发中"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(errorStatus(err), gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
