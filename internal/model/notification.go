package model

import "time"

type NotificationType string

const (
	NotificationAlert   NotificationType = "alert"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationInfo    NotificationType = "info"
)

// Notification is read-only on the console side.
type Notification struct {
	ID      int64            `json:"id"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Time    time.Time        `json:"time"`
	Unread  bool             `json:"unread"`
}
