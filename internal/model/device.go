package model

import (
	"strings"
	"time"
)

// DeviceStatus 设备状态，由后端维护
type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceInactive    DeviceStatus = "inactive"
	DeviceError       DeviceStatus = "error"
)

// DeviceStatuses lists every status in display order.
var DeviceStatuses = []DeviceStatus{DeviceOnline, DeviceOffline, DeviceMaintenance, DeviceInactive, DeviceError}

// ParseDeviceStatus maps a filter value to a status. "" and "all" mean no filter.
func ParseDeviceStatus(s string) (DeviceStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "all" || s == "all status" {
		return "", true
	}
	for _, st := range DeviceStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Device GPS tracking device as returned by GET /devices
type Device struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	UniqueID       string         `json:"uniqueId"` // IMEI
	Status         DeviceStatus   `json:"status"`
	Disabled       bool           `json:"disabled"`
	LastUpdate     *time.Time     `json:"lastUpdate"`
	PositionID     int64          `json:"positionId"`
	GroupID        int64          `json:"groupId"`
	CalendarID     int64          `json:"calendarId,omitempty"`
	Phone          string         `json:"phone"`
	Model          string         `json:"model"`
	Contact        string         `json:"contact"`
	Category       string         `json:"category"`
	ExpirationTime *time.Time     `json:"expirationTime,omitempty"`
	Attributes     map[string]any `json:"attributes"`
}

// DeviceInput POST /devices 请求体
type DeviceInput struct {
	Name       string         `json:"name"`
	UniqueID   string         `json:"uniqueId"`
	Status     DeviceStatus   `json:"status"`
	Disabled   bool           `json:"disabled"`
	LastUpdate *time.Time     `json:"lastUpdate"`
	PositionID int64          `json:"positionId"`
	GroupID    *int64         `json:"groupId"` // null: no group
	Phone      string         `json:"phone"`
	Model      string         `json:"model"`
	Contact    string         `json:"contact"`
	Category   string         `json:"category" validate:"required"`
	Attributes map[string]any `json:"attributes"`
}

// DefaultDeviceInput is the empty device form. Only the category is required.
// LastUpdate stays nil here and is stamped when the form is submitted.
func DefaultDeviceInput() DeviceInput {
	return DeviceInput{Attributes: map[string]any{}}
}
