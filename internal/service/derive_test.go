package service

import (
	"testing"

	"openfms/console/internal/model"
)

var sampleDevices = []model.Device{
	{ID: 1, Name: "Delivery Truck 01", UniqueID: "862123", Model: "Teltonika FMB920", Status: model.DeviceOnline},
	{ID: 2, Name: "Van 02", UniqueID: "862456", Model: "Queclink GV300", Status: model.DeviceOffline},
	{ID: 3, Name: "Truck 03", UniqueID: "777001", Model: "Teltonika FMC130", Status: model.DeviceMaintenance},
	{ID: 4, Name: "Bus 04", UniqueID: "777002", Model: "Concox GT06", Status: model.DeviceOnline},
}

func TestFilterDevices(t *testing.T) {
	tests := []struct {
		name   string
		search string
		status model.DeviceStatus
		want   []int64
	}{
		{"all", "", "", []int64{1, 2, 3, 4}},
		{"name case-insensitive", "TRUCK", "", []int64{1, 3}},
		{"unique id substring", "777", "", []int64{3, 4}},
		{"model", "teltonika", "", []int64{1, 3}},
		{"status only", "", model.DeviceOnline, []int64{1, 4}},
		{"search and status", "truck", model.DeviceOnline, []int64{1}},
		{"no match", "tractor", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterDevices(sampleDevices, tt.search, tt.status)
			if len(got) != len(tt.want) {
				t.Fatalf("FilterDevices = %d devices, want %d", len(got), len(tt.want))
			}
			for i, d := range got {
				if d.ID != tt.want[i] {
					t.Fatalf("device %d = %d, want %d", i, d.ID, tt.want[i])
				}
			}
		})
	}
}

func TestCountDeviceStatuses(t *testing.T) {
	got := CountDeviceStatuses(sampleDevices)
	want := StatusCounts{Total: 4, Online: 2, Offline: 1, Maintenance: 1}
	if got != want {
		t.Fatalf("CountDeviceStatuses = %+v, want %+v", got, want)
	}
}

func TestInitials(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "A"},
		{"   ", "A"},
		{"admin", "AD"},
		{"Ana Maria Lopez", "AL"},
		{"élodie  durand", "ÉD"},
		{"x", "X"},
	}
	for _, tt := range tests {
		if got := Initials(tt.in); got != tt.want {
			t.Fatalf("Initials(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
