// Package config 加载客户端配置。
//
// 优先级由低到高：内置默认值、YAML 文件、PINGSPOT_ 环境变量、命令行覆盖。
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	coreerrors "github.com/dnslin/pingspot-client/core/errors"
)

// DefaultEnvPrefix 环境变量前缀，例如 PINGSPOT_API_BASE_URL。
const DefaultEnvPrefix = "PINGSPOT_"

// Config 为客户端的完整配置。
type Config struct {
	API       APISection       `koanf:"api"`
	Refresh   RefreshSection   `koanf:"refresh"`
	Retry     RetrySection     `koanf:"retry"`
	RateLimit RateLimitSection `koanf:"rate_limit"`
	Log       LogSection       `koanf:"log"`
}

// APISection 服务端地址与请求公共参数。
type APISection struct {
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
	UserAgent string        `koanf:"user_agent"`
}

// RefreshSection 续期协调器参数。Timeout 为 0 表示续期调用不设超时。
type RefreshSection struct {
	Path      string        `koanf:"path"`
	Timeout   time.Duration `koanf:"timeout"`
	AuthPaths []string      `koanf:"auth_paths"`
}

// RetrySection 指数退避重试参数。
type RetrySection struct {
	MaxRetries int           `koanf:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay"`
	MaxDelay   time.Duration `koanf:"max_delay"`
}

// RateLimitSection 按 host 限流，QPS 为 0 表示不限流。
type RateLimitSection struct {
	QPS   float64 `koanf:"qps"`
	Burst int     `koanf:"burst"`
}

// LogSection 日志参数。
type LogSection struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

var sections = []string{"api", "refresh", "retry", "rate_limit", "log"}

// Defaults 返回内置默认配置。
func Defaults() map[string]any {
	return map[string]any{
		"api": map[string]any{
			"base_url":   "http://localhost:4000/pingspot/api",
			"timeout":    "30s",
			"user_agent": "pingspot-cli",
		},
		"refresh": map[string]any{
			"path":       "/auth/refresh-token",
			"timeout":    "8s",
			"auth_paths": []string{"/auth/login", "/auth/register", "/auth/refresh-token"},
		},
		"retry": map[string]any{
			"max_retries": 3,
			"base_delay":  "200ms",
			"max_delay":   "2s",
		},
		"rate_limit": map[string]any{
			"qps":   0,
			"burst": 1,
		},
		"log": map[string]any{
			"level": "info",
			"json":  false,
		},
	}
}

// Loader 从多个来源合并配置。
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any
}

// Option 配置 Loader。
type Option func(*Loader)

// WithEnvPrefix 替换环境变量前缀。
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile 指定 YAML 配置文件。
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverrides 以 "section.key" 形式的扁平 map 覆盖配置，通常来自命令行参数。
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		if l.overrides == nil {
			l.overrides = map[string]any{}
		}
		for k, v := range values {
			l.overrides[k] = v
		}
	}
}

// NewLoader 创建配置加载器。
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load 依次合并默认值、文件、环境变量与覆盖项，并校验结果。
func (l *Loader) Load() (*Config, error) {
	if err := l.k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: 加载默认值失败: %w", err)
	}
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, coreerrors.Wrap(coreerrors.ErrCodeInvalidConfig, fmt.Sprintf("config: 读取配置文件 %s 失败", l.filePath), err)
		}
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return nil, fmt.Errorf("config: 加载环境变量失败: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := l.k.Load(confmap.Provider(l.overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("config: 加载覆盖项失败: %w", err)
		}
	}
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrCodeInvalidConfig, "config: 解析配置失败", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Keys 返回已加载的全部配置键。
func (l *Loader) Keys() []string {
	return l.k.Keys()
}

// envKey 把 PINGSPOT_RATE_LIMIT_QPS 转为 rate_limit.qps，键名内部的下划线保留。
func (l *Loader) envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(s, sec+"_") {
			return sec + "." + strings.TrimPrefix(s, sec+"_")
		}
	}
	return strings.Replace(s, "_", ".", 1)
}

// Load 是 NewLoader(opts...).Load() 的简写。
func Load(opts ...Option) (*Config, error) {
	return NewLoader(opts...).Load()
}

// Validate 检查配置是否可用。
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, "config: api.base_url 不能为空")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return coreerrors.Wrap(coreerrors.ErrCodeInvalidConfig, "config: api.base_url 不是合法的绝对地址", err)
	}
	switch {
	case c.API.Timeout < 0:
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, "config: api.timeout 不能为负")
	case c.Refresh.Timeout < 0:
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, "config: refresh.timeout 不能为负")
	case c.Retry.MaxRetries < 0:
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, "config: retry.max_retries 不能为负")
	case c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0:
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, "config: retry 延迟不能为负")
	case c.RateLimit.QPS < 0:
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, "config: rate_limit.qps 不能为负")
	}
	if c.Refresh.Path == "" || !strings.HasPrefix(c.Refresh.Path, "/") {
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, "config: refresh.path 必须以 / 开头")
	}
	return nil
}

// RefreshURL 返回续期接口的完整地址。
func (c *Config) RefreshURL() string {
	return strings.TrimRight(c.API.BaseURL, "/") + c.Refresh.Path
}
