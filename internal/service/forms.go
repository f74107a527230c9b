package service

import (
	"context"
	"fmt"
	"time"

	"openfms/console/internal/apperr"
	"openfms/console/internal/model"
	"openfms/console/internal/querycache"
)

// NewDeviceForm POST /devices
func NewDeviceForm(deps FormDeps) *Form[model.DeviceInput] {
	return NewForm(FormConfig[model.DeviceInput]{
		Name:    "device",
		Initial: model.DefaultDeviceInput,
		Mutate: func(ctx context.Context, v model.DeviceInput) error {
			if v.LastUpdate == nil {
				now := time.Now().UTC()
				v.LastUpdate = &now
			}
			return deps.Backend.PostJSON(ctx, "/devices", v, nil)
		},
		Invalidates:    []querycache.Key{KeyDevices, KeyOverview},
		SuccessMessage: "Device Successfully Added",
	}, deps)
}

// NewUserForm POST /users，创建公司用户
func NewUserForm(deps FormDeps) *Form[model.UserInput] {
	return NewForm(FormConfig[model.UserInput]{
		Name:    "user",
		Initial: model.DefaultUserInput,
		Mutate: func(ctx context.Context, v model.UserInput) error {
			return deps.Backend.PostJSON(ctx, "/users", v, nil)
		},
		Invalidates:    []querycache.Key{KeyUsers, KeyOverview},
		SuccessMessage: "Company User Successfully Added",
	}, deps)
}

// NewAssignDeviceForm POST /permissions
func NewAssignDeviceForm(deps FormDeps) *Form[model.Permission] {
	return NewForm(FormConfig[model.Permission]{
		Name: "assign-device",
		Mutate: func(ctx context.Context, v model.Permission) error {
			return deps.Backend.PostJSON(ctx, "/permissions", v, nil)
		},
		Invalidates:    []querycache.Key{KeyDevices},
		SuccessMessage: "Device Successfully Assigned",
	}, deps)
}

// NewEditUserForm edits user and sends the full record to PUT /users/{id}.
func NewEditUserForm(deps FormDeps, user model.User) *Form[model.User] {
	return NewForm(FormConfig[model.User]{
		Name:    fmt.Sprintf("edit-user-%d", user.ID),
		Initial: func() model.User { return user },
		Validate: func(v model.User) error {
			if v.ID <= 0 {
				return apperr.Validation("INVALID_ID", "Invalid user id")
			}
			return model.Validate(v)
		},
		Mutate: func(ctx context.Context, v model.User) error {
			return deps.Backend.PutJSON(ctx, fmt.Sprintf("/users/%d", v.ID), v, nil)
		},
		Invalidates:    []querycache.Key{KeyUsers, KeyOverview},
		SuccessMessage: "Updated Successfully",
	}, deps)
}
