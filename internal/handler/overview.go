package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"openfms/console/internal/apperr"
	"openfms/console/internal/service"
)

// OverviewHandler serves the header: collection counts, unread badge and the operator's initials.
type OverviewHandler struct {
	fetcher  *service.Fetcher
	sessions *service.SessionService
}

func NewOverviewHandler(fetcher *service.Fetcher, sessions *service.SessionService) *OverviewHandler {
	return &OverviewHandler{fetcher: fetcher, sessions: sessions}
}

func (h *OverviewHandler) Get(c *gin.Context) {
	ov, err := h.fetcher.Overview(c.Request.Context())
	if err != nil {
		respondError(c, err, apperr.GenericFailure)
		return
	}

	operator := h.sessions.Operator()
	name := ""
	for _, u := range ov.Users {
		if operator != "" && strings.EqualFold(u.Email, operator) {
			name = u.Name
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"devices":       service.CountDeviceStatuses(ov.Devices),
		"users":         len(ov.Users),
		"notifications": len(ov.Notifications),
		"unread":        service.UnreadCount(ov.Notifications),
		"operator":      operator,
		"initials":      service.Initials(name),
	})
}
