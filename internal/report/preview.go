package report

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"openfms/console/internal/apperr"
)

// DefaultPreviewTTL bounds how long an unclosed preview stays reachable.
const DefaultPreviewTTL = 10 * time.Minute

// PreviewPathPrefix is where the console serves previews, followed by the id.
const PreviewPathPrefix = "/api/reports/previews/"

// Blob is a binary report body with its type.
type Blob struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Preview is an opened blob reachable by URL until revoked or expired.
type Preview struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Data        []byte    `json:"-"`
}

// PreviewStore gives a blob a URL for an embedded frame. Every Open must be
// paired with a Revoke; Close revokes whatever is left.
type PreviewStore interface {
	Open(ctx context.Context, blob Blob) (*Preview, error)
	Get(ctx context.Context, id string) (*Preview, error)
	Revoke(ctx context.Context, id string) error
	Close() error
}

func newPreview(blob Blob, now time.Time, ttl time.Duration) *Preview {
	id := uuid.NewString()
	return &Preview{
		ID:          id,
		URL:         PreviewPathPrefix + id,
		FileName:    blob.FileName,
		ContentType: ContentType(blob.ContentType),
		Size:        len(blob.Data),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Data:        blob.Data,
	}
}

// MemoryPreviewStore keeps previews in process memory. A sweeper drops
// previews past their TTL.
type MemoryPreviewStore struct {
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	previews map[string]*Preview
	closed   bool

	stop chan struct{}
	done chan struct{}
}

func NewMemoryPreviewStore(ttl time.Duration, logger *zap.Logger) *MemoryPreviewStore {
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryPreviewStore{
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		previews: make(map[string]*Preview),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval(ttl))
	return s
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	return interval
}

func (s *MemoryPreviewStore) Open(_ context.Context, blob Blob) (*Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, apperr.ErrPreviewNotFound
	}
	p := newPreview(blob, s.now(), s.ttl)
	s.previews[p.ID] = p
	return p, nil
}

func (s *MemoryPreviewStore) Get(_ context.Context, id string) (*Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.previews[id]
	if !ok || !s.now().Before(p.ExpiresAt) {
		return nil, apperr.ErrPreviewNotFound
	}
	return p, nil
}

// Revoke is idempotent.
func (s *MemoryPreviewStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.previews, id)
	s.mu.Unlock()
	return nil
}

// Len reports how many previews are open.
func (s *MemoryPreviewStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.previews)
}

func (s *MemoryPreviewStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	n := len(s.previews)
	s.previews = make(map[string]*Preview)
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	if n > 0 {
		s.logger.Info("revoked open previews on close", zap.Int("count", n))
	}
	return nil
}

func (s *MemoryPreviewStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryPreviewStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, p := range s.previews {
		if !now.Before(p.ExpiresAt) {
			delete(s.previews, id)
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("expired previews swept", zap.Int("count", n))
	}
	return n
}
