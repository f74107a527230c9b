package service

import "context"

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient message shown to the operator after an action.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Form    string      `json:"form,omitempty"`
	Message string      `json:"message"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notice) {}

// Notifiers fans a notice out to every notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, n Notice) {
	for _, notifier := range ns {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}
