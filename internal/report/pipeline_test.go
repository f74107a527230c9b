package report

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"openfms/console/internal/apiclient"
	"openfms/console/internal/apperr"
)

func TestGenerateEndToEnd(t *testing.T) {
	workbook := buildWorkbook(t, 7, []string{"date", "speed"}, speedRows(23))

	var (
		mu       sync.Mutex
		gotPath  string
		gotQuery string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		mu.Unlock()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(workbook)
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL + "/api")
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	p := NewPipeline(client, nil, Options{HeaderRows: 7, PageSize: 10}, nil)

	res, err := p.Generate(context.Background(), Request{
		Type:     TypeTrip,
		DeviceID: "42",
		From:     "2025-06-01",
		To:       "2025-06-07",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/api/reports/trips" {
		t.Fatalf("path = %q", gotPath)
	}
	if want := "deviceId=42&from=2025-06-01T00:00:00.000Z&to=2025-06-07T00:00:00.000Z"; gotQuery != want {
		t.Fatalf("query = %q, want %q", gotQuery, want)
	}
	if res.ContentType != ContentTypeXLSX || res.FileName != "route-history-42.xlsx" {
		t.Fatalf("result = %+v", res)
	}
	if res.Table.Len() != 23 {
		t.Fatalf("rows = %d, want 23", res.Table.Len())
	}

	v, err := p.View(res, 3)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.Title != "Trips Report" || v.Records != 23 || v.TotalPages != 3 || len(v.Rows) != 3 {
		t.Fatalf("view = %+v", v)
	}
	if v.Rows[0][0] != "2025-06-21" {
		t.Fatalf("page 3 first row = %v", v.Rows[0])
	}

	var buf bytes.Buffer
	if err := RenderHTML(&buf, v); err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	html := buf.String()
	if n := strings.Count(html, "<table"); n != 1 {
		t.Fatalf("tables = %d, want 1", n)
	}
	if n := strings.Count(html, "<nav"); n != 1 {
		t.Fatalf("pagers = %d, want 1", n)
	}
	for _, want := range []string{"23 records", "Page 3 of 3", "Prev", "Next"} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q", want)
		}
	}
}

func TestGenerateBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL)
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	p := NewPipeline(client, nil, Options{HeaderRows: 7}, nil)
	_, err = p.Generate(context.Background(), Request{Type: TypeStop, DeviceID: "9"})
	if !apiclient.IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("err = %v, want wrapped 500", err)
	}
	if got := apperr.UserMessage(err, apperr.ReportFailure); got != apperr.ReportFailure {
		t.Fatalf("message = %q", got)
	}
}

func TestGenerateDecodeFailure(t *testing.T) {
	fetcher := &fakeFetcher{bin: &apiclient.Binary{Data: []byte("not a workbook")}}
	p := NewPipeline(fetcher, nil, Options{HeaderRows: 7}, nil)

	_, err := p.Generate(context.Background(), Request{Type: TypeTrip, DeviceID: "1"})
	if kind, _ := apperr.KindOf(err); kind != apperr.KindDecode {
		t.Fatalf("err = %v, want decode error", err)
	}

	// download alone does not parse the body
	res, err := p.Generate(context.Background(), Request{Type: TypeTrip, DeviceID: "1"}, StrategyDownload)
	if err != nil {
		t.Fatalf("Generate download: %v", err)
	}
	if d := res.Download(); string(d.Data) != "not a workbook" || d.FileName != "route-history-1.xlsx" {
		t.Fatalf("download = %+v", d)
	}
	if _, err := p.View(res, 1); err == nil {
		t.Fatal("View of an unreadable workbook should fail")
	}
}

func TestGeneratePreviewRequiresStore(t *testing.T) {
	fetcher := &fakeFetcher{bin: &apiclient.Binary{Data: []byte("x")}}
	p := NewPipeline(fetcher, nil, Options{}, nil)
	_, err := p.Generate(context.Background(), Request{Type: TypeTrip, DeviceID: "1"}, StrategyPreview)
	if !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if len(fetcher.calls) != 0 {
		t.Fatalf("requests = %v, want none", fetcher.calls)
	}
}

func TestMemoryPreviewStore(t *testing.T) {
	store := NewMemoryPreviewStore(time.Minute, nil)
	defer store.Close()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.mu.Lock()
	store.now = func() time.Time { return now }
	store.mu.Unlock()
	ctx := context.Background()

	p, err := store.Open(ctx, Blob{FileName: "route-history-42.xlsx", Data: []byte("xlsx")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if p.URL != PreviewPathPrefix+p.ID || p.ContentType != ContentTypeXLSX || p.Size != 4 {
		t.Fatalf("preview = %+v", p)
	}
	got, err := store.Get(ctx, p.ID)
	if err != nil || string(got.Data) != "xlsx" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	for i := 0; i < 2; i++ {
		if err := store.Revoke(ctx, p.ID); err != nil {
			t.Fatalf("Revoke #%d: %v", i+1, err)
		}
	}
	if _, err := store.Get(ctx, p.ID); !errors.Is(err, apperr.ErrPreviewNotFound) {
		t.Fatalf("Get after revoke err = %v", err)
	}

	expiring, _ := store.Open(ctx, Blob{Data: []byte("a")})
	store.mu.Lock()
	now = now.Add(2 * time.Minute)
	store.mu.Unlock()
	if _, err := store.Get(ctx, expiring.ID); !errors.Is(err, apperr.ErrPreviewNotFound) {
		t.Fatalf("Get expired err = %v", err)
	}
	if n := store.sweep(); n != 1 || store.Len() != 0 {
		t.Fatalf("sweep = %d, len = %d", n, store.Len())
	}
}

func TestMemoryPreviewStoreCloseRevokesAll(t *testing.T) {
	store := NewMemoryPreviewStore(time.Minute, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Open(ctx, Blob{Data: []byte{byte(i)}}); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("Len after Close = %d", store.Len())
	}
	if _, err := store.Open(ctx, Blob{}); err == nil {
		t.Fatal("Open after Close should fail")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSessionReplacesAndReleasesPreview(t *testing.T) {
	store := NewMemoryPreviewStore(time.Minute, nil)
	defer store.Close()
	fetcher := &fakeFetcher{bin: &apiclient.Binary{Data: []byte("xlsx")}}
	s := NewSession(NewPipeline(fetcher, store, Options{}, nil))
	ctx := context.Background()

	if _, err := s.Current(); !errors.Is(err, apperr.ErrNoReport) {
		t.Fatalf("Current err = %v, want ErrNoReport", err)
	}

	first, err := s.Generate(ctx, Request{Type: TypeTrip, DeviceID: "1"}, StrategyPreview)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := s.Generate(ctx, Request{Type: TypeStop, DeviceID: "1"}, StrategyPreview)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := store.Get(ctx, first.Preview.ID); !errors.Is(err, apperr.ErrPreviewNotFound) {
		t.Fatalf("first preview still open: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("open previews = %d, want 1", store.Len())
	}

	// a failed run keeps the current report
	if _, err := s.Generate(ctx, Request{Type: TypeStop}); err == nil {
		t.Fatal("expected validation error")
	}
	if cur, _ := s.Current(); cur != second {
		t.Fatal("current report replaced by a failed run")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("open previews after Clear = %d", store.Len())
	}
}

func TestRedisPreviewStore(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	defer client.Close()
	ctx := context.Background()

	store := NewRedisPreviewStore(client, time.Minute, nil)
	p, err := store.Open(ctx, Blob{FileName: "route-history-7.xlsx", Data: []byte("xlsx")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := store.Get(ctx, p.ID)
	if err != nil || string(got.Data) != "xlsx" || got.FileName != "route-history-7.xlsx" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if err := store.Revoke(ctx, p.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Get(ctx, p.ID); !errors.Is(err, apperr.ErrPreviewNotFound) {
		t.Fatalf("Get after revoke err = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSessionPreviewOpensOnceAndRevokes(t *testing.T) {
	store := NewMemoryPreviewStore(time.Minute, nil)
	defer store.Close()
	fetcher := &fakeFetcher{bin: &apiclient.Binary{Data: []byte("xlsx")}}
	s := NewSession(NewPipeline(fetcher, store, Options{}, nil))
	ctx := context.Background()

	if _, err := s.Preview(ctx); !errors.Is(err, apperr.ErrNoReport) {
		t.Fatalf("Preview err = %v, want ErrNoReport", err)
	}
	if _, err := s.Generate(ctx, Request{Type: TypeTrip, DeviceID: "3"}, StrategyDownload); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	first, err := s.Preview(ctx)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	again, _ := s.Preview(ctx)
	if again.ID != first.ID || store.Len() != 1 {
		t.Fatalf("second Preview opened a new one (%s vs %s, %d open)", again.ID, first.ID, store.Len())
	}

	if err := s.RevokePreview(ctx, first.ID); err != nil {
		t.Fatalf("RevokePreview: %v", err)
	}
	if err := s.RevokePreview(ctx, first.ID); err != nil {
		t.Fatalf("second RevokePreview: %v", err)
	}
	if cur, _ := s.Current(); cur.Preview != nil || store.Len() != 0 {
		t.Fatalf("preview still attached: %+v, %d open", cur.Preview, store.Len())
	}
}
