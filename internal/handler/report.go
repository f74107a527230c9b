package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"openfms/console/internal/apperr"
	"openfms/console/internal/report"
)

// ReportHandler handles report generation and the current report's outputs.
type ReportHandler struct {
	session *report.Session
}

func NewReportHandler(session *report.Session) *ReportHandler {
	return &ReportHandler{session: session}
}

// GenerateRequest 报表生成请求
type GenerateRequest struct {
	Type       string   `json:"type"`
	DeviceID   string   `json:"deviceId"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Strategies []string `json:"strategies"`
}

// Types lists the report menu
func (h *ReportHandler) Types(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": report.Catalog()})
}

// Generate runs the report pipeline and makes the result the current report.
func (h *ReportHandler) Generate(c *gin.Context) {
	var body GenerateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	typ := report.Type(body.Type)
	if t, ok := report.ParseType(body.Type); ok {
		typ = t
	}
	strategies := make([]report.Strategy, 0, len(body.Strategies))
	for _, s := range body.Strategies {
		strategy, ok := report.ParseStrategy(s)
		if !ok {
			badRequest(c, "unknown report output: "+s)
			return
		}
		strategies = append(strategies, strategy)
	}

	res, err := h.session.Generate(c.Request.Context(), report.Request{
		Type:     typ,
		DeviceID: body.DeviceID,
		From:     body.From,
		To:       body.To,
	}, strategies...)
	if err != nil {
		respondError(c, err, apperr.ReportFailure)
		return
	}

	resp := gin.H{"report": res}
	if res.Has(report.StrategyDecode) {
		view, err := h.session.Pipeline().View(res, 1)
		if err != nil {
			respondError(c, err, apperr.ReportFailure)
			return
		}
		resp["view"] = view
	}
	c.JSON(http.StatusCreated, resp)
}

// Current returns page ?page= of the current report as JSON.
func (h *ReportHandler) Current(c *gin.Context) {
	res, err := h.session.Current()
	if err != nil {
		respondError(c, err, apperr.ReportFailure)
		return
	}
	view, err := h.session.Pipeline().View(res, pageParam(c))
	if err != nil {
		respondError(c, err, apperr.ReportFailure)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": res, "view": view})
}

// CurrentView renders page ?page= of the current report as an HTML table.
// With no report it shows the empty message.
func (h *ReportHandler) CurrentView(c *gin.Context) {
	var view report.View
	res, err := h.session.Current()
	switch {
	case errors.Is(err, apperr.ErrNoReport):
		view = report.RenderView("", nil, 1, h.session.Pipeline().PageSize())
	case err != nil:
		respondError(c, err, apperr.ReportFailure)
		return
	default:
		view, err = h.session.Pipeline().View(res, pageParam(c))
		if err != nil {
			respondError(c, err, apperr.ReportFailure)
			return
		}
	}
	c.HTML(http.StatusOK, report.TemplateName, view)
}

// Download sends the current report's workbook as an attachment.
func (h *ReportHandler) Download(c *gin.Context) {
	res, err := h.session.Current()
	if err != nil {
		respondError(c, err, apperr.ReportFailure)
		return
	}
	d := res.Download()
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.FileName))
	c.Data(http.StatusOK, d.ContentType, d.Data)
}

// OpenPreview gives the current report a preview URL for an embedded frame.
func (h *ReportHandler) OpenPreview(c *gin.Context) {
	preview, err := h.session.Preview(c.Request.Context())
	if err != nil {
		respondError(c, err, apperr.ReportFailure)
		return
	}
	c.JSON(http.StatusCreated, preview)
}

// GetPreview serves an open preview inline.
func (h *ReportHandler) GetPreview(c *gin.Context) {
	store := h.session.Previews()
	if store == nil {
		respondError(c, apperr.ErrPreviewNotFound, "")
		return
	}
	preview, err := store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, apperr.ReportFailure)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", preview.FileName))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, preview.ContentType, preview.Data)
}

// ClosePreview revokes a preview; closing it twice is fine.
func (h *ReportHandler) ClosePreview(c *gin.Context) {
	if err := h.session.RevokePreview(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, apperr.GenericFailure)
		return
	}
	c.Status(http.StatusNoContent)
}

func pageParam(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
