package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitAlgorithm 限流算法类型
type RateLimitAlgorithm string

const (
	// TokenBucket 令牌桶算法
	TokenBucket RateLimitAlgorithm = "token_bucket"
	// LeakyBucket 漏桶算法
	LeakyBucket RateLimitAlgorithm = "leaky_bucket"
	// FixedWindow 固定窗口算法
	FixedWindow RateLimitAlgorithm = "fixed_window"
)

// RateLimitType 限流类型
type RateLimitType string

const (
	// RateLimitByIP 基于IP限流
	RateLimitByIP RateLimitType = "ip"
	// RateLimitByEndpoint 基于接口限流
	RateLimitByEndpoint RateLimitType = "endpoint"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 请求限制数
	Limit int
	// 窗口大小（秒）
	Window int
	// 限流算法
	Algorithm RateLimitAlgorithm
	// 限流类型
	Type RateLimitType
	// 自定义Key生成函数（可选）
	KeyFunc func(*gin.Context) string
}

func (c *RateLimitConfig) window() time.Duration {
	if c.Window <= 0 {
		return time.Second
	}
	return time.Duration(c.Window) * time.Second
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error)
}

// RateLimitResult 限流结果
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// 重置时间（Unix时间戳）
	ResetAt int64
	Limit   int
}

var tokenBucketScript = redis.NewScript(`
local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_update')
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(bucket[1]) or capacity
local last_update = tonumber(bucket[2]) or now
tokens = math.min(capacity, tokens + (now - last_update) * rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_update', now)
redis.call('EXPIRE', KEYS[1], math.ceil(capacity / rate) + 1)
return {allowed, math.floor(tokens), capacity}
`)

var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
end
local limit = tonumber(ARGV[1])
if current > limit then
	return {0, 0, limit}
end
return {1, limit - current, limit}
`)

// RedisRateLimiter 基于Redis的限流器，多个控制台实例共享计数
type RedisRateLimiter struct {
	redis  *redis.Client
	prefix string
}

// NewRedisRateLimiter 创建Redis限流器
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{redis: client, prefix: "console:ratelimit"}
}

// Allow 检查是否允许请求通过。漏桶在这里按令牌桶处理
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	switch config.Algorithm {
	case FixedWindow:
		return r.fixedWindow(ctx, key, config)
	default:
		return r.tokenBucket(ctx, key, config)
	}
}

func (r *RedisRateLimiter) tokenBucket(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	now := time.Now()
	ratePerSecond := float64(config.Limit) / config.window().Seconds()

	raw, err := tokenBucketScript.Run(ctx, r.redis,
		[]string{fmt.Sprintf("%s:token:%s", r.prefix, key)},
		config.Limit, ratePerSecond, now.Unix(),
	).Result()
	if err != nil {
		return nil, err
	}
	result, err := parseScriptResult(raw)
	if err != nil {
		return nil, err
	}
	result.ResetAt = now.Add(config.window()).Unix()
	return result, nil
}

func (r *RedisRateLimiter) fixedWindow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	windowSec := int64(config.window().Seconds())
	window := time.Now().Unix() / windowSec

	raw, err := fixedWindowScript.Run(ctx, r.redis,
		[]string{fmt.Sprintf("%s:fixed:%s:%d", r.prefix, key, window)},
		config.Limit, windowSec+1,
	).Result()
	if err != nil {
		return nil, err
	}
	result, err := parseScriptResult(raw)
	if err != nil {
		return nil, err
	}
	// 下一个窗口开始
	result.ResetAt = (window + 1) * windowSec
	return result, nil
}

func parseScriptResult(raw interface{}) (*RateLimitResult, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected rate limit script reply %T", raw)
	}
	nums := make([]int64, 3)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected rate limit reply element %T", v)
		}
		nums[i] = n
	}
	return &RateLimitResult{
		Allowed:   nums[0] == 1,
		Remaining: int(nums[1]),
		Limit:     int(nums[2]),
	}, nil
}

// RateLimitGroup 按路径前缀匹配不同的限流配置；没有匹配的路径不限流
type RateLimitGroup struct {
	limiter RateLimiter
	rules   []pathRule
	logger  *zap.Logger
}

type pathRule struct {
	prefix string
	config *RateLimitConfig
}

// NewRateLimitGroup 创建限流组
func NewRateLimitGroup(limiter RateLimiter, logger *zap.Logger) *RateLimitGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitGroup{limiter: limiter, logger: logger}
}

// AddPathConfig 添加路径前缀配置，先添加的优先
func (g *RateLimitGroup) AddPathConfig(prefix string, config *RateLimitConfig) {
	g.rules = append(g.rules, pathRule{prefix: prefix, config: config})
}

func (g *RateLimitGroup) match(path string) (string, *RateLimitConfig) {
	for _, rule := range g.rules {
		if strings.HasPrefix(path, rule.prefix) {
			return rule.prefix, rule.config
		}
	}
	return "", nil
}

// Middleware 返回Gin中间件函数
func (g *RateLimitGroup) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		prefix, config := g.match(c.Request.URL.Path)
		if config == nil || config.Limit <= 0 {
			c.Next()
			return
		}

		key := prefix + ":" + generateKey(c, config)
		result, err := g.limiter.Allow(c.Request.Context(), key, config)
		if err != nil {
			// 限流器故障时放行（降级策略）
			g.logger.Warn("rate limiter unavailable", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// generateKey 生成限流Key
func generateKey(c *gin.Context, config *RateLimitConfig) string {
	if config.KeyFunc != nil {
		return config.KeyFunc(c)
	}
	switch config.Type {
	case RateLimitByEndpoint:
		return fmt.Sprintf("endpoint:%s:%s", c.Request.Method, c.Request.URL.Path)
	default:
		return "ip:" + clientIP(c)
	}
}

// clientIP 获取客户端IP
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if xri := c.GetHeader("X-Real-Ip"); xri != "" {
		return xri
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}
