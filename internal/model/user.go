package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Role 用户角色
type Role string

const RoleCompanyUser Role = "COMPANY_USER"

// User mirrors the backend user schema. The password is write-only and lives on UserInput.
// Attributes the struct does not name are kept in Extra so a record read from
// GET /users goes back to PUT /users/{id} unchanged.
type User struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name" validate:"required"`
	Email          string         `json:"email" validate:"required"`
	Phone          string         `json:"phone" validate:"required"`
	Readonly       bool           `json:"readonly"`
	Administrator  bool           `json:"administrator"`
	Map            *string        `json:"map"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Zoom           int            `json:"zoom"`
	Disabled       bool           `json:"disabled"`
	ExpirationTime *time.Time     `json:"expirationTime"`
	DeviceLimit    int            `json:"deviceLimit"`
	UserLimit      int            `json:"userLimit"`
	DeviceReadonly bool           `json:"deviceReadonly"`
	LimitCommands  bool           `json:"limitCommands"`
	DisableReports bool           `json:"disableReports"`
	FixedEmail     bool           `json:"fixedEmail"`
	PoiLayer       *string        `json:"poiLayer"`
	Role           Role           `json:"role"`
	CompanyID      *int64         `json:"companyId"`
	TotpKey        *string        `json:"totpKey"`
	Temporary      bool           `json:"temporary"`
	Attributes     map[string]any `json:"attributes,omitempty"`

	// 坐标显示格式，null表示使用服务器默认值
	CoordinateFormat *string `json:"coordinateFormat"`

	Extra map[string]json.RawMessage `json:"-"`
}

// userFields has User's fields without its JSON methods.
type userFields User

// userKeys are the JSON names User decodes itself.
var userKeys = jsonKeys(reflect.TypeOf(userFields{}))

func jsonKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}

// UnmarshalJSON decodes onto the current values, so keys missing from data
// keep what u already held.
func (u *User) UnmarshalJSON(data []byte) error {
	fields := userFields(*u)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	var extra map[string]json.RawMessage
	for k, v := range all {
		if userKeys[k] {
			continue
		}
		if extra == nil {
			// copy so a User sharing the old map is not changed
			extra = make(map[string]json.RawMessage, len(u.Extra)+len(all))
			for ek, ev := range u.Extra {
				extra[ek] = ev
			}
		}
		extra[k] = v
	}
	if extra == nil {
		extra = u.Extra
	}
	*u = User(fields)
	u.Extra = extra
	return nil
}

func (u User) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(userFields(u))
	if err != nil || len(u.Extra) == 0 {
		return raw, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(raw, &known); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(known)+len(u.Extra))
	for k, v := range u.Extra {
		merged[k] = v
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UserEdit carries the fields the edit-user form changes. Nil fields keep the stored value.
type UserEdit struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

// Apply overlays the edited fields on a copy of u.
func (e UserEdit) Apply(u User) User {
	if e.Name != nil {
		u.Name = *e.Name
	}
	if e.Email != nil {
		u.Email = *e.Email
	}
	if e.Phone != nil {
		u.Phone = *e.Phone
	}
	return u
}

// UserInput POST /users 请求体
type UserInput struct {
	User
	Password string `json:"password" validate:"required"`
}

// UserInput needs its own JSON methods: the ones promoted from User would drop the password.

func (in *UserInput) UnmarshalJSON(data []byte) error {
	if err := in.User.UnmarshalJSON(data); err != nil {
		return err
	}
	if raw, ok := in.Extra["password"]; ok {
		delete(in.Extra, "password")
		if len(in.Extra) == 0 {
			in.Extra = nil
		}
		var password *string
		if err := json.Unmarshal(raw, &password); err != nil {
			return err
		}
		if password != nil {
			in.Password = *password
		}
	}
	return nil
}

func (in UserInput) MarshalJSON() ([]byte, error) {
	password, err := json.Marshal(in.Password)
	if err != nil {
		return nil, err
	}
	u := in.User
	u.Extra = make(map[string]json.RawMessage, len(in.Extra)+1)
	for k, v := range in.Extra {
		u.Extra[k] = v
	}
	u.Extra["password"] = password
	return u.MarshalJSON()
}

// DefaultUserInput returns a company user form with the backend's expected defaults:
// read-only administrator flag set, no limits, no expiry.
func DefaultUserInput() UserInput {
	return UserInput{
		User: User{
			Readonly:      true,
			Administrator: true,
			Role:          RoleCompanyUser,
		},
	}
}
