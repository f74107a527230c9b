package model

// Permission links a device to a user (POST /permissions).
type Permission struct {
	UserID   int64 `json:"userId" validate:"gt=0"`
	DeviceID int64 `json:"deviceId" validate:"gt=0"`
}

// Credentials 登录表单，以 x-www-form-urlencoded 提交
type Credentials struct {
	Email    string `json:"email" form:"email" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}
