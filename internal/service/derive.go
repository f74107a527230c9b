package service

import (
	"strings"
	"unicode"

	"openfms/console/internal/model"
)

// FilterDevices applies the device list's search box and status filter.
// Name and model match case-insensitively, the unique id as typed.
func FilterDevices(devices []model.Device, search string, status model.DeviceStatus) []model.Device {
	needle := strings.ToLower(search)
	out := make([]model.Device, 0, len(devices))
	for _, d := range devices {
		if status != "" && d.Status != status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(d.Name), needle) &&
			!strings.Contains(d.UniqueID, search) &&
			!strings.Contains(strings.ToLower(d.Model), needle) {
			continue
		}
		out = append(out, d)
	}
	return out
}

type StatusCounts struct {
	Total       int `json:"total"`
	Online      int `json:"online"`
	Offline     int `json:"offline"`
	Maintenance int `json:"maintenance"`
	Inactive    int `json:"inactive"`
	Error       int `json:"error"`
}

func CountDeviceStatuses(devices []model.Device) StatusCounts {
	counts := StatusCounts{Total: len(devices)}
	for _, d := range devices {
		switch d.Status {
		case model.DeviceOnline:
			counts.Online++
		case model.DeviceOffline:
			counts.Offline++
		case model.DeviceMaintenance:
			counts.Maintenance++
		case model.DeviceInactive:
			counts.Inactive++
		case model.DeviceError:
			counts.Error++
		}
	}
	return counts
}

func UnreadCount(notifications []model.Notification) int {
	n := 0
	for _, item := range notifications {
		if item.Unread {
			n++
		}
	}
	return n
}

// Initials 头像缩写：多个单词取首尾单词首字母，单个单词取前两个字母
func Initials(name string) string {
	words := strings.Fields(name)
	switch len(words) {
	case 0:
		return "A"
	case 1:
		r := []rune(words[0])
		if len(r) > 2 {
			r = r[:2]
		}
		return strings.ToUpper(string(r))
	default:
		first := []rune(words[0])[0]
		last := []rune(words[len(words)-1])[0]
		return string([]rune{unicode.ToUpper(first), unicode.ToUpper(last)})
	}
}
