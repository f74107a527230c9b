package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"openfms/console/internal/apperr"
	"openfms/console/internal/service"
)

// NotificationHandler handles the notification dropdown
type NotificationHandler struct {
	fetcher *service.Fetcher
}

func NewNotificationHandler(fetcher *service.Fetcher) *NotificationHandler {
	return &NotificationHandler{fetcher: fetcher}
}

// List returns notifications with the unread count
func (h *NotificationHandler) List(c *gin.Context) {
	items, err := h.fetcher.Notifications(c.Request.Context())
	if err != nil {
		respondError(c, err, apperr.GenericFailure)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   items,
		"unread": service.UnreadCount(items),
	})
}

// MarkAllRead TODO: needs a backend endpoint for bulk read state
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	respondError(c, apperr.ErrNotImplemented, "")
}

// Clear is not wired to the backend yet.
func (h *NotificationHandler) Clear(c *gin.Context) {
	respondError(c, apperr.ErrNotImplemented, "")
}
