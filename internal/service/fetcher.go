package service

import (
	"context"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"openfms/console/internal/model"
	"openfms/console/internal/querycache"
)

// Query keys shared by every view reading the same collection.
var (
	KeyDevices       = querycache.Key{"devices"}
	KeyUsers         = querycache.Key{"users"}
	KeyNotifications = querycache.Key{"notifications"}
	KeyOverview      = querycache.Key{"all-data"}
)

// Backend is the subset of the API client the services use.
type Backend interface {
	GetJSON(ctx context.Context, path string, out any) error
	PostJSON(ctx context.Context, path string, body, out any) error
	PutJSON(ctx context.Context, path string, body, out any) error
	PostForm(ctx context.Context, path string, form url.Values) error
	Delete(ctx context.Context, path string) error
	ResetSession()
}

// Fetcher reads backend collections through the query cache.
type Fetcher struct {
	backend Backend
	cache   *querycache.Cache
	logger  *zap.Logger
}

func NewFetcher(backend Backend, cache *querycache.Cache, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{backend: backend, cache: cache, logger: logger}
}

func (f *Fetcher) Devices(ctx context.Context) ([]model.Device, error) {
	return querycache.Get(ctx, f.cache, KeyDevices, func(ctx context.Context) ([]model.Device, error) {
		return fetchList[model.Device](ctx, f.backend, "/devices")
	})
}

func (f *Fetcher) Users(ctx context.Context) ([]model.User, error) {
	return querycache.Get(ctx, f.cache, KeyUsers, func(ctx context.Context) ([]model.User, error) {
		return fetchList[model.User](ctx, f.backend, "/users")
	})
}

func (f *Fetcher) Notifications(ctx context.Context) ([]model.Notification, error) {
	return querycache.Get(ctx, f.cache, KeyNotifications, func(ctx context.Context) ([]model.Notification, error) {
		return fetchList[model.Notification](ctx, f.backend, "/notifications")
	})
}

// Overview is the header's combined view of all three collections.
type Overview struct {
	Devices       []model.Device       `json:"devices"`
	Users         []model.User         `json:"users"`
	Notifications []model.Notification `json:"notifications"`
}

// Overview fetches the three collections in parallel under a single key.
func (f *Fetcher) Overview(ctx context.Context) (*Overview, error) {
	return querycache.Get(ctx, f.cache, KeyOverview, func(ctx context.Context) (*Overview, error) {
		var out Overview
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			out.Devices, err = fetchList[model.Device](gctx, f.backend, "/devices")
			return err
		})
		g.Go(func() (err error) {
			out.Users, err = fetchList[model.User](gctx, f.backend, "/users")
			return err
		})
		g.Go(func() (err error) {
			out.Notifications, err = fetchList[model.Notification](gctx, f.backend, "/notifications")
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// fetchList returns the backend array unmodified; null or absent becomes an empty slice.
func fetchList[T any](ctx context.Context, backend Backend, path string) ([]T, error) {
	var out []T
	if err := backend.GetJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
