package report

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"openfms/console/internal/apperr"
)

// RedisPreviewStore shares previews between console instances behind one
// load balancer. Redis expiry is the TTL backstop.
type RedisPreviewStore struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
	logger *zap.Logger

	mu   sync.Mutex
	open map[string]struct{}
}

func NewRedisPreviewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisPreviewStore {
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPreviewStore{
		redis:  client,
		ttl:    ttl,
		prefix: "console:preview:",
		now:    time.Now,
		logger: logger,
		open:   make(map[string]struct{}),
	}
}

func (s *RedisPreviewStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisPreviewStore) Open(ctx context.Context, blob Blob) (*Preview, error) {
	p := newPreview(blob, s.now(), s.ttl)
	key := s.key(p.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"data", p.Data,
			"content_type", p.ContentType,
			"file_name", p.FileName,
			"created_at", p.CreatedAt.UnixMilli(),
			"expires_at", p.ExpiresAt.UnixMilli(),
		)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store preview: %w", err)
	}

	s.mu.Lock()
	s.open[p.ID] = struct{}{}
	s.mu.Unlock()
	return p, nil
}

func (s *RedisPreviewStore) Get(ctx context.Context, id string) (*Preview, error) {
	data, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load preview: %w", err)
	}
	if len(data) == 0 {
		return nil, apperr.ErrPreviewNotFound
	}
	created, _ := strconv.ParseInt(data["created_at"], 10, 64)
	expires, _ := strconv.ParseInt(data["expires_at"], 10, 64)
	body := []byte(data["data"])
	return &Preview{
		ID:          id,
		URL:         PreviewPathPrefix + id,
		FileName:    data["file_name"],
		ContentType: data["content_type"],
		Size:        len(body),
		CreatedAt:   time.UnixMilli(created).UTC(),
		ExpiresAt:   time.UnixMilli(expires).UTC(),
		Data:        body,
	}, nil
}

// Revoke is idempotent.
func (s *RedisPreviewStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.open, id)
	s.mu.Unlock()
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("revoke preview: %w", err)
	}
	return nil
}

// Close revokes the previews this instance opened.
func (s *RedisPreviewStore) Close() error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.open))
	for id := range s.open {
		keys = append(keys, s.key(id))
	}
	s.open = make(map[string]struct{})
	s.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("revoke previews on close failed", zap.Int("count", len(keys)), zap.Error(err))
		return err
	}
	return nil
}
