package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"openfms/console/internal/middleware"
)

// RateLimitRule 限流规则配置
type RateLimitRule struct {
	// 路径匹配（前缀匹配）
	Path string
	// 请求限制数
	Limit int
	// 窗口大小
	Window time.Duration
	// 限流算法
	Algorithm middleware.RateLimitAlgorithm
	// 限流类型
	Type middleware.RateLimitType
}

// RateLimitConfig 限流总配置
type RateLimitConfig struct {
	Enabled       bool
	SpecificRules []RateLimitRule
}

// ReportConfig holds the report pipeline tunables
type ReportConfig struct {
	PageSize   int
	HeaderRows int
	PreviewTTL time.Duration
}

// Config holds all configuration for the console server
type Config struct {
	ConsolePort    int
	Environment    string
	BackendURL     string
	BackendTimeout time.Duration
	StaleTime      time.Duration
	RedisURL       string
	NATSURL        string
	AllowedOrigins []string
	Report         ReportConfig
	RateLimit      RateLimitConfig
}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		ConsolePort:    v.GetInt("CONSOLE_PORT"),
		Environment:    v.GetString("ENVIRONMENT"),
		BackendURL:     strings.TrimSuffix(strings.TrimSpace(v.GetString("FMS_BACKEND_URL")), "/"),
		BackendTimeout: time.Duration(v.GetInt("BACKEND_TIMEOUT_SEC")) * time.Second,
		StaleTime:      time.Duration(v.GetInt64("QUERY_STALE_TIME_MS")) * time.Millisecond,
		RedisURL:       v.GetString("REDIS_URL"),
		NATSURL:        v.GetString("NATS_URL"),
		AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		Report: ReportConfig{
			PageSize:   v.GetInt("REPORT_PAGE_SIZE"),
			HeaderRows: v.GetInt("REPORT_HEADER_ROWS"),
			PreviewTTL: time.Duration(v.GetInt("REPORT_PREVIEW_TTL_SEC")) * time.Second,
		},
		RateLimit: loadRateLimitConfig(v),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CONSOLE_PORT", 3001)
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("FMS_BACKEND_URL", "http://localhost:8082/api")
	v.SetDefault("BACKEND_TIMEOUT_SEC", 30)
	v.SetDefault("QUERY_STALE_TIME_MS", 5*60*1000)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("REPORT_PAGE_SIZE", 10)
	v.SetDefault("REPORT_HEADER_ROWS", 7)
	v.SetDefault("REPORT_PREVIEW_TTL_SEC", 600)

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_LOGIN_LIMIT", 5)
	v.SetDefault("RATE_LIMIT_LOGIN_WINDOW", 60)
	v.SetDefault("RATE_LIMIT_LOGIN_ALGORITHM", string(middleware.FixedWindow))
	v.SetDefault("RATE_LIMIT_REPORT_LIMIT", 20)
	v.SetDefault("RATE_LIMIT_REPORT_WINDOW", 60)
	v.SetDefault("RATE_LIMIT_REPORT_ALGORITHM", string(middleware.TokenBucket))
}

// loadRateLimitConfig 加载限流配置
func loadRateLimitConfig(v *viper.Viper) RateLimitConfig {
	return RateLimitConfig{
		Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
		SpecificRules: []RateLimitRule{
			// 登录接口限流：5次/分钟，基于IP
			{
				Path:      "/api/session",
				Limit:     v.GetInt("RATE_LIMIT_LOGIN_LIMIT"),
				Window:    time.Duration(v.GetInt("RATE_LIMIT_LOGIN_WINDOW")) * time.Second,
				Algorithm: middleware.RateLimitAlgorithm(v.GetString("RATE_LIMIT_LOGIN_ALGORITHM")),
				Type:      middleware.RateLimitByIP,
			},
			// 报表生成限流：20次/分钟，基于IP
			{
				Path:      "/api/reports",
				Limit:     v.GetInt("RATE_LIMIT_REPORT_LIMIT"),
				Window:    time.Duration(v.GetInt("RATE_LIMIT_REPORT_WINDOW")) * time.Second,
				Algorithm: middleware.RateLimitAlgorithm(v.GetString("RATE_LIMIT_REPORT_ALGORITHM")),
				Type:      middleware.RateLimitByIP,
			},
		},
	}
}

// Validate checks the values the console cannot run without
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("FMS_BACKEND_URL is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("FMS_BACKEND_URL must be an absolute URL, got %q", c.BackendURL)
	}
	if c.StaleTime <= 0 {
		return errors.New("QUERY_STALE_TIME_MS must be positive")
	}
	if c.Report.PageSize <= 0 {
		return errors.New("REPORT_PAGE_SIZE must be positive")
	}
	if c.Report.HeaderRows < 0 {
		return errors.New("REPORT_HEADER_ROWS must not be negative")
	}
	return nil
}

// Addr returns the listen address of the console server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.ConsolePort)
}

// GetRateLimitRuleForPath returns the rule whose path prefixes the given path
func (c *Config) GetRateLimitRuleForPath(path string) (RateLimitRule, bool) {
	for _, rule := range c.RateLimit.SpecificRules {
		if rule.Path != "" && strings.HasPrefix(path, rule.Path) {
			return rule, true
		}
	}
	return RateLimitRule{}, false
}

// ToMiddlewareConfig 转换为中间件配置
func (r *RateLimitRule) ToMiddlewareConfig() *middleware.RateLimitConfig {
	return &middleware.RateLimitConfig{
		Limit:     r.Limit,
		Window:    int(r.Window.Seconds()),
		Algorithm: r.Algorithm,
		Type:      r.Type,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
