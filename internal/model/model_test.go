package model

import (
	"encoding/json"
	"strings"
	"testing"

	"openfms/console/internal/apperr"
)

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name string
		form any
		want string
	}{
		{"device without category", DefaultDeviceInput(), "Please select category"},
		{"user without name", DefaultUserInput(), "Name is required"},
		{"user without password", UserInput{User: User{Name: "a", Email: "b", Phone: "c"}}, "Password is required"},
		{"edit user without phone", User{Name: "a", Email: "b"}, "Phone is required"},
		{"permission without user", Permission{DeviceID: 3}, "Please select a user"},
		{"permission without device", Permission{UserID: 3}, "Please select a device"},
		{"credentials without password", Credentials{Email: "a@b.c"}, "Password is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.form)
			if !apperr.IsValidation(err) {
				t.Fatalf("Validate = %v, want validation error", err)
			}
			if got := apperr.UserMessage(err, ""); got != tt.want {
				t.Fatalf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateAcceptsCompleteForms(t *testing.T) {
	device := DefaultDeviceInput()
	device.Category = "truck"
	user := DefaultUserInput()
	user.Name, user.Email, user.Phone, user.Password = "Ana", "ana@fleet.io", "+15550100", "secret"

	for _, form := range []any{device, user, Permission{UserID: 1, DeviceID: 2}} {
		if err := Validate(form); err != nil {
			t.Fatalf("Validate(%T) = %v", form, err)
		}
	}
}

func TestUserInputJSONFlattensUser(t *testing.T) {
	in := DefaultUserInput()
	in.Name, in.Password = "Ana", "secret"
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(raw)
	for _, want := range []string{`"name":"Ana"`, `"password":"secret"`, `"role":"COMPANY_USER"`, `"readonly":true`, `"map":null`, `"deviceLimit":0`} {
		if !strings.Contains(s, want) {
			t.Fatalf("payload %s missing %s", s, want)
		}
	}
	if strings.Contains(s, `"User"`) {
		t.Fatalf("payload %s nests the embedded user", s)
	}
}

func TestParseDeviceStatus(t *testing.T) {
	tests := []struct {
		in   string
		want DeviceStatus
		ok   bool
	}{
		{"", "", true},
		{"All Status", "", true},
		{"Online", DeviceOnline, true},
		{"maintenance", DeviceMaintenance, true},
		{"parked", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseDeviceStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseDeviceStatus(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestUserRoundTripKeepsUnknownFields(t *testing.T) {
	in := `{"id":4,"name":"Ana","email":"a@b.c","phone":"1","role":"COMPANY_USER",
		"coordinateFormat":"dms","twelveHourFormat":true,"attributes":{"speedUnit":"kmh"}}`
	var u User
	if err := json.Unmarshal([]byte(in), &u); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if u.CoordinateFormat == nil || *u.CoordinateFormat != "dms" {
		t.Fatalf("CoordinateFormat = %v", u.CoordinateFormat)
	}
	if len(u.Extra) != 1 || string(u.Extra["twelveHourFormat"]) != "true" {
		t.Fatalf("Extra = %v", u.Extra)
	}

	u.Phone = "2"
	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["twelveHourFormat"] != true || out["coordinateFormat"] != "dms" || out["phone"] != "2" {
		t.Fatalf("payload = %s", raw)
	}
	if _, ok := out["Extra"]; ok {
		t.Fatalf("payload %s exposes Extra", raw)
	}
}

func TestUserInputDecodeKeepsDefaults(t *testing.T) {
	in := DefaultUserInput()
	if err := json.Unmarshal([]byte(`{"name":"Ana","password":"secret","twelveHourFormat":false}`), &in); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if in.Name != "Ana" || in.Password != "secret" {
		t.Fatalf("input = %+v", in)
	}
	if !in.Administrator || !in.Readonly || in.Role != RoleCompanyUser {
		t.Fatalf("defaults lost: %+v", in.User)
	}
	if _, ok := in.Extra["password"]; ok {
		t.Fatal("password kept in Extra")
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"password":"secret"`, `"twelveHourFormat":false`, `"coordinateFormat":null`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("payload %s missing %s", raw, want)
		}
	}
}

func TestUserEditApply(t *testing.T) {
	limit := User{ID: 1, Name: "Jane", Email: "j@f.io", Phone: "1", DeviceLimit: 25, Role: RoleCompanyUser}
	name := "Janet"
	got := UserEdit{Name: &name}.Apply(limit)
	if got.Name != "Janet" || got.Email != "j@f.io" || got.DeviceLimit != 25 || got.Role != RoleCompanyUser {
		t.Fatalf("Apply = %+v", got)
	}
	if limit.Name != "Jane" {
		t.Fatal("Apply changed the loaded record")
	}
}
