package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"openfms/console/internal/apperr"
	"openfms/console/internal/model"
	"openfms/console/internal/service"
)

// DeviceHandler handles device-related requests
type DeviceHandler struct {
	fetcher *service.Fetcher
	create  *service.Form[model.DeviceInput]
	assign  *service.Form[model.Permission]
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(fetcher *service.Fetcher, deps service.FormDeps) *DeviceHandler {
	return &DeviceHandler{
		fetcher: fetcher,
		create:  service.NewDeviceForm(deps),
		assign:  service.NewAssignDeviceForm(deps),
	}
}

// List returns the devices matching ?search= and ?status=, with status counts over all devices.
func (h *DeviceHandler) List(c *gin.Context) {
	status, ok := model.ParseDeviceStatus(c.Query("status"))
	if !ok {
		badRequest(c, "invalid status")
		return
	}

	devices, err := h.fetcher.Devices(c.Request.Context())
	if err != nil {
		respondError(c, err, apperr.GenericFailure)
		return
	}

	filtered := service.FilterDevices(devices, c.Query("search"), status)
	c.JSON(http.StatusOK, gin.H{
		"data":   filtered,
		"total":  len(filtered),
		"counts": service.CountDeviceStatuses(devices),
	})
}

// Create submits the add-device form
func (h *DeviceHandler) Create(c *gin.Context) {
	input := model.DefaultDeviceInput()
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	submitForm(c, h.create, input, http.StatusCreated)
}

// Assign links a device to a user (POST /permissions).
func (h *DeviceHandler) Assign(c *gin.Context) {
	var input model.Permission
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	submitForm(c, h.assign, input, http.StatusCreated)
}

// FormStatus reports the state of the add-device and assign-device forms.
func (h *DeviceHandler) FormStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"device": h.create.Status(),
		"assign": h.assign.Status(),
	})
}

// submitForm runs one submission and answers with the form's notice text.
func submitForm[T any](c *gin.Context, form *service.Form[T], values T, status int) {
	if err := form.SubmitValues(c.Request.Context(), values); err != nil {
		respondError(c, err, apperr.GenericFailure)
		return
	}
	c.JSON(status, gin.H{"message": form.Status().Message})
}
