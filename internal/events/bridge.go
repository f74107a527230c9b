// Package events connects console instances over NATS so that a mutation made
// through one instance invalidates the cached collections of all of them, and
// operator notices reach every connected browser.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"openfms/console/internal/querycache"
	"openfms/console/internal/service"
)

// NATS 主题
const (
	SubjectInvalidate = "console.cache.invalidate"
	SubjectNotice     = "console.notice"
)

// Message is the payload on both subjects. Origin is the publishing instance.
type Message struct {
	Origin string          `json:"origin"`
	Key    querycache.Key  `json:"key,omitempty"`
	Notice *service.Notice `json:"notice,omitempty"`
	At     int64           `json:"at"`
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode event: %w", err)
	}
	if m.Origin == "" {
		return Message{}, errors.New("decode event: missing origin")
	}
	return m, nil
}

// Bridge publishes local cache invalidations and notices and applies those of
// other instances. It implements service.Notifier.
type Bridge struct {
	nc       *nats.Conn
	cache    *querycache.Cache
	instance string
	logger   *zap.Logger

	mu      sync.Mutex
	sink    service.Notifier
	subs    []*nats.Subscription
	started bool
	stopped bool
}

// NewBridge 创建NATS桥接
func NewBridge(nc *nats.Conn, cache *querycache.Cache, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		nc:       nc,
		cache:    cache,
		instance: uuid.NewString(),
		logger:   logger.Named("events"),
		sink:     service.NopNotifier{},
	}
}

func (b *Bridge) InstanceID() string { return b.instance }

// SetNoticeSink sets where notices from other instances are delivered, normally the websocket hub.
func (b *Bridge) SetNoticeSink(n service.Notifier) {
	if n == nil {
		n = service.NopNotifier{}
	}
	b.mu.Lock()
	b.sink = n
	b.mu.Unlock()
}

// Start subscribes to both subjects and hooks local invalidations.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	invSub, err := b.nc.Subscribe(SubjectInvalidate, b.handleInvalidate)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectInvalidate, err)
	}
	noticeSub, err := b.nc.Subscribe(SubjectNotice, b.handleNotice)
	if err != nil {
		_ = invSub.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", SubjectNotice, err)
	}
	b.subs = []*nats.Subscription{invSub, noticeSub}
	b.started = true

	b.cache.OnInvalidate(b.publishInvalidate)
	b.logger.Info("bridge started", zap.String("instance", b.instance))
	return nil
}

// Stop unsubscribes. Invalidations after Stop are no longer published.
func (b *Bridge) Stop() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.stopped = true
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn("unsubscribe failed", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
}

// Notify publishes n for the other instances.
func (b *Bridge) Notify(_ context.Context, n service.Notice) {
	b.publish(SubjectNotice, Message{Origin: b.instance, Notice: &n, At: time.Now().UnixMilli()})
}

func (b *Bridge) publishInvalidate(key querycache.Key) {
	b.publish(SubjectInvalidate, Message{Origin: b.instance, Key: key, At: time.Now().UnixMilli()})
}

func (b *Bridge) publish(subject string, m Message) {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return
	}

	data, err := Encode(m)
	if err != nil {
		b.logger.Error("encode event failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Warn("publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (b *Bridge) handleInvalidate(msg *nats.Msg) {
	m, ok := b.decode(msg)
	if !ok {
		return
	}
	n := b.cache.InvalidateRemote(m.Key)
	b.logger.Debug("remote invalidation",
		zap.String("origin", m.Origin),
		zap.Strings("key", m.Key),
		zap.Int("entries", n),
	)
}

func (b *Bridge) handleNotice(msg *nats.Msg) {
	m, ok := b.decode(msg)
	if !ok || m.Notice == nil {
		return
	}
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	sink.Notify(context.Background(), *m.Notice)
}

// decode drops malformed messages and this instance's own.
func (b *Bridge) decode(msg *nats.Msg) (Message, bool) {
	m, err := Decode(msg.Data)
	if err != nil {
		b.logger.Warn("malformed event", zap.String("subject", msg.Subject), zap.Error(err))
		return Message{}, false
	}
	if m.Origin == b.instance {
		return Message{}, false
	}
	return m, true
}
