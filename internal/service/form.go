package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"openfms/console/internal/apperr"
	"openfms/console/internal/model"
	"openfms/console/internal/querycache"
)

type FormState string

const (
	FormIdle       FormState = "idle"
	FormSubmitting FormState = "submitting"
	FormSuccess    FormState = "success"
	FormError      FormState = "error"
)

// FormConfig describes one mutation form.
type FormConfig[T any] struct {
	Name           string
	Initial        func() T
	Validate       func(T) error // defaults to model.Validate
	Mutate         func(ctx context.Context, values T) error
	Invalidates    []querycache.Key
	SuccessMessage string
}

// FormDeps are shared by every form.
type FormDeps struct {
	Backend  Backend
	Cache    *querycache.Cache
	Notifier Notifier
	Logger   *zap.Logger
}

// FormStatus is what a submit control renders: disabled with a progress label while
// submitting, and the outcome of the last attempt.
type FormStatus struct {
	State       FormState `json:"state"`
	LastOutcome FormState `json:"lastOutcome,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Form holds local form state and drives idle → submitting → success|error → idle.
// Only one submission runs at a time.
type Form[T any] struct {
	cfg      FormConfig[T]
	cache    *querycache.Cache
	notifier Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	values  T
	state   FormState
	outcome FormState
	message string
}

func NewForm[T any](cfg FormConfig[T], deps FormDeps) *Form[T] {
	if cfg.Initial == nil {
		cfg.Initial = func() T {
			var zero T
			return zero
		}
	}
	if cfg.Validate == nil {
		cfg.Validate = func(v T) error { return model.Validate(v) }
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Form[T]{
		cfg:      cfg,
		cache:    deps.Cache,
		notifier: notifier,
		logger:   logger.With(zap.String("form", cfg.Name)),
		values:   cfg.Initial(),
		state:    FormIdle,
	}
}

func (f *Form[T]) Name() string { return f.cfg.Name }

func (f *Form[T]) Values() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values
}

// Set replaces the form values. It is refused while a submission is in flight.
func (f *Form[T]) Set(values T) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FormSubmitting {
		return apperr.ErrSubmitInProgress
	}
	f.values = values
	return nil
}

func (f *Form[T]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FormSubmitting {
		f.values = f.cfg.Initial()
	}
}

func (f *Form[T]) Status() FormStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FormStatus{State: f.state, LastOutcome: f.outcome, Message: f.message}
}

// Submit submits the current values.
func (f *Form[T]) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.state == FormSubmitting {
		f.mu.Unlock()
		return apperr.ErrSubmitInProgress
	}
	f.state = FormSubmitting
	values := f.values
	f.mu.Unlock()
	return f.run(ctx, values)
}

// SubmitValues sets values and submits them in one step.
func (f *Form[T]) SubmitValues(ctx context.Context, values T) error {
	f.mu.Lock()
	if f.state == FormSubmitting {
		f.mu.Unlock()
		return apperr.ErrSubmitInProgress
	}
	f.state = FormSubmitting
	f.values = values
	f.mu.Unlock()
	return f.run(ctx, values)
}

func (f *Form[T]) run(ctx context.Context, values T) error {
	if err := f.cfg.Validate(values); err != nil {
		f.finish(ctx, FormError, apperr.UserMessage(err, apperr.GenericFailure), false)
		return err
	}

	if err := f.cfg.Mutate(ctx, values); err != nil {
		f.logger.Warn("submit failed", zap.Error(err))
		f.finish(ctx, FormError, apperr.UserMessage(err, apperr.GenericFailure), false)
		return err
	}

	for _, key := range f.cfg.Invalidates {
		if f.cache != nil {
			f.cache.Invalidate(key)
		}
	}
	f.finish(ctx, FormSuccess, f.cfg.SuccessMessage, true)
	return nil
}

// finish records the outcome, emits the notice and returns the form to idle.
func (f *Form[T]) finish(ctx context.Context, outcome FormState, message string, reset bool) {
	f.mu.Lock()
	f.state = outcome
	f.outcome = outcome
	f.message = message
	if reset {
		f.values = f.cfg.Initial()
	}
	f.mu.Unlock()

	level := NoticeSuccess
	if outcome == FormError {
		level = NoticeError
	}
	if message != "" {
		f.notifier.Notify(ctx, Notice{Level: level, Form: f.cfg.Name, Message: message})
	}

	f.mu.Lock()
	f.state = FormIdle
	f.mu.Unlock()
}
