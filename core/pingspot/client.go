package pingspot

import (
	"errors"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/dnslin/pingspot-client/core/auth"
	"github.com/dnslin/pingspot-client/core/httpclient"
	"github.com/dnslin/pingspot-client/core/refresh"
)

// Client 组装 CookieJar、续期协调器与 httpclient，对外提供 PingSpot API。
type Client struct {
	http      *httpclient.Client
	login     *auth.LoginClient
	refresher *auth.TokenRefresher
	store     auth.SessionStore
	logger    httpclient.Logger
	baseURL   string

	// 以下字段只在构造期使用。
	transport    http.RoundTripper
	timeout      time.Duration
	userAgent    string
	refreshPath  string
	renewTimeout time.Duration
	authPaths    []string
	observer     refresh.Observer
	limiter      httpclient.RateLimiter
	retry        httpclient.RetryPolicy
	onReauth     func()
	accessTTL    time.Duration
}

// Option 自定义客户端配置。
type Option func(*Client)

// WithBaseURL 替换 API 根路径，例如 https://host/pingspot/api。
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithLogger 注入日志接口。
func WithLogger(logger httpclient.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransport 替换底层 Transport，续期协调器包装在它外层。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithTimeout 设置单次调用的整体超时，包含等待续期与重放的时间。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent 替换 UA。
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithSessionStore 替换会话存储，默认使用内存存储。
func WithSessionStore(s auth.SessionStore) Option {
	return func(c *Client) {
		if s != nil {
			c.store = s
		}
	}
}

// WithRefreshPath 替换续期接口路径。
func WithRefreshPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.refreshPath = p
		}
	}
}

// WithRenewTimeout 设置续期调用超时，0 表示不设超时。
func WithRenewTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.renewTimeout = d
	}
}

// WithAuthPaths 替换不参与续期流程的认证接口路径。
func WithAuthPaths(paths ...string) Option {
	return func(c *Client) {
		if len(paths) > 0 {
			c.authPaths = append([]string(nil), paths...)
		}
	}
}

// WithObserver 注入续期事件观察者，例如 metrics.RefreshMetrics。
func WithObserver(o refresh.Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithRateLimiter 设置限流。
func WithRateLimiter(l httpclient.RateLimiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithRetryPolicy 设置重试策略。
func WithRetryPolicy(p httpclient.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithReauthHandler 设置续期失败、会话清理后的回调，通常用于提示重新登录。
func WithReauthHandler(fn func()) Option {
	return func(c *Client) {
		c.onReauth = fn
	}
}

// WithAccessTTL 设置 access token 的预期有效期，用于填充 Session.ExpiresAt。
func WithAccessTTL(d time.Duration) Option {
	return func(c *Client) {
		c.accessTTL = d
	}
}

// NewClient 创建客户端。
func NewClient(opts ...Option) *Client {
	c := &Client{
		logger:       httpclient.NopLogger{},
		baseURL:      DefaultBaseURL,
		userAgent:    UserAgent,
		refreshPath:  DefaultRefreshPath,
		renewTimeout: refresh.DefaultRenewTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.store == nil {
		c.store = auth.NewMemoryStore()
	}
	if c.transport == nil {
		c.transport = http.DefaultTransport
	}
	// cookiejar.New(nil) 不会返回错误
	jar, _ := cookiejar.New(nil)

	endpoints := auth.DefaultEndpoints(c.baseURL)
	endpoints.RefreshURL = c.baseURL + c.refreshPath

	c.refresher = auth.NewTokenRefresher(
		&http.Client{Jar: jar, Transport: c.transport, Timeout: c.timeout},
		endpoints.RefreshURL,
		c.store,
		auth.WithRefresherLogger(c.logger),
		auth.WithRefreshedTTL(c.accessTTL),
	)
	teardown := auth.NewTeardown(auth.TeardownConfig{
		Store:    c.store,
		Jar:      jar,
		BaseURL:  c.baseURL,
		OnReauth: c.onReauth,
		Logger:   c.logger,
	})
	provider := auth.StoreProvider(c.store)

	hopts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Jar: jar, Transport: c.transport, Timeout: c.timeout}),
		httpclient.WithCookieJar(jar),
		httpclient.WithLogger(c.logger),
		httpclient.WithMiddlewares(
			httpclient.WithUserAgent(c.userAgent),
			httpclient.WithAccept("application/json"),
			httpclient.WithRequestID(),
			auth.BearerMiddleware(provider),
		),
		httpclient.WithRefresh(refresh.Options{
			Config: refresh.Config{
				Renewer:      c.refresher,
				Teardown:     teardown,
				RenewTimeout: c.renewTimeout,
				Logger:       c.logger,
				Observer:     c.observer,
			},
			AuthPaths: c.authPaths,
			Reattach:  auth.BearerReattacher(provider),
		}),
	}
	if c.retry != nil {
		hopts = append(hopts, httpclient.WithRetryPolicy(c.retry))
	}
	if c.limiter != nil {
		hopts = append(hopts, httpclient.WithRateLimiter(c.limiter))
	}
	c.http = httpclient.NewClient(hopts...)
	c.login = auth.NewLoginClient(c.http, c.store,
		auth.WithLoginLogger(c.logger),
		auth.WithLoginEndpoints(endpoints),
		auth.WithAccessTTL(c.accessTTL),
	)
	return c
}

// HTTP 返回底层 httpclient。
func (c *Client) HTTP() *httpclient.Client {
	return c.http
}

// Coordinator 返回续期协调器。
func (c *Client) Coordinator() *refresh.Coordinator {
	return c.http.Coordinator()
}

// BaseURL 返回 API 根路径。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session 返回当前会话副本，未登录时返回 auth.ErrSessionNotFound。
func (c *Client) Session() (*auth.Session, error) {
	s, err := c.store.LoadSession()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, auth.ErrSessionNotFound
	}
	return s, nil
}

func (c *Client) ready() error {
	if c == nil || c.http == nil {
		return WrapAPIError(ErrCodeInvalidRequest, "客户端未初始化", errors.New("pingspot: Client 未初始化"))
	}
	return nil
}
