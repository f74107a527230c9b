package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openfms/console/internal/apperr"
	"openfms/console/internal/model"
	"openfms/console/internal/service"
)

// SessionHandler handles operator login and logout
type SessionHandler struct {
	sessions *service.SessionService
	logger   *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *service.SessionService, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, logger: logger}
}

// Login accepts form or JSON credentials. Any backend rejection is reported
// with the same message.
func (h *SessionHandler) Login(c *gin.Context) {
	var creds model.Credentials
	if err := c.ShouldBind(&creds); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if err := h.sessions.Login(c.Request.Context(), creds); err != nil {
		if apperr.IsValidation(err) {
			respondError(c, err, apperr.LoginFailure)
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.LoginFailure})
		return
	}

	c.JSON(http.StatusOK, gin.H{"email": creds.Email})
}

// Logout always succeeds locally, whatever the backend answers.
func (h *SessionHandler) Logout(c *gin.Context) {
	h.sessions.Logout(c.Request.Context())
	c.Status(http.StatusNoContent)
}
