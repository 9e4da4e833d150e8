package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	coreerrors "github.com/dnslin/pingspot-client/core/errors"
	"github.com/dnslin/pingspot-client/core/httpclient"
)

// DefaultBaseURL 为本地开发环境的 API 根路径。
const DefaultBaseURL = "http://localhost:4000/pingspot/api"

var (
	// ErrMissingCredentials 标记缺少邮箱或密码。
	ErrMissingCredentials = coreerrors.New(coreerrors.ErrCodeInvalidArgument, "auth: 缺少登录凭证")
	// ErrTokenMissing 服务端返回成功但没有下发 access token。
	ErrTokenMissing = coreerrors.New(coreerrors.ErrCodeInvalidState, "auth: 响应中缺少 access token")
)

// Credentials 表示邮箱密码组合。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest 注册参数。
type RegisterRequest struct {
	Username   string  `json:"username"`
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	FullName   string  `json:"fullName"`
	Phone      string  `json:"phone,omitempty"`
	Provider   string  `json:"provider"`
	ProviderID *string `json:"providerId,omitempty"`
}

// Endpoints 允许替换认证相关接口地址，便于测试或自定义环境。
type Endpoints struct {
	LoginURL    string
	RegisterURL string
	LogoutURL   string
	RefreshURL  string
}

// DefaultEndpoints 以 baseURL 为根拼出认证接口地址。
func DefaultEndpoints(baseURL string) Endpoints {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return Endpoints{
		LoginURL:    base + "/auth/login",
		RegisterURL: base + "/auth/register",
		LogoutURL:   base + "/auth/logout",
		RefreshURL:  base + "/auth/refresh-token",
	}
}

// envelope 对应服务端 {success, message, data} 响应体。
type envelope[T any] struct {
	Success bool   `json:"success"`
	Msg     string `json:"message"`
	Data    T      `json:"data"`
}

func (e *envelope[T]) IsSuccess() bool { return e.Success }
func (e *envelope[T]) Error() string   { return e.Msg }
func (e *envelope[T]) Message() string { return e.Msg }

// tokenData 兼容 {token} 与 {accessToken, refreshToken} 两种下发格式。
type tokenData struct {
	Token        string `json:"token"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (d *tokenData) accessToken() string {
	if d == nil {
		return ""
	}
	if d.AccessToken != "" {
		return d.AccessToken
	}
	return d.Token
}

func (d *tokenData) refreshToken() string {
	if d == nil {
		return ""
	}
	return d.RefreshToken
}

// LoginClient 负责登录、注册与登出。
type LoginClient struct {
	client    *httpclient.Client
	store     SessionStore
	logger    httpclient.Logger
	endpoints Endpoints
	now       func() time.Time
	ttl       time.Duration
}

// LoginOption 自定义登录客户端。
type LoginOption func(*LoginClient)

// WithLoginLogger 注入日志。
func WithLoginLogger(logger httpclient.Logger) LoginOption {
	return func(l *LoginClient) {
		l.logger = logger
	}
}

// WithLoginEndpoints 替换默认接口地址。
func WithLoginEndpoints(ep Endpoints) LoginOption {
	return func(l *LoginClient) {
		l.endpoints = ep
	}
}

// WithLoginNow 替换时间来源，便于测试。
func WithLoginNow(now func() time.Time) LoginOption {
	return func(l *LoginClient) {
		l.now = now
	}
}

// WithAccessTTL 设置 access token 的预期有效期，用于填充 Session.ExpiresAt。
func WithAccessTTL(ttl time.Duration) LoginOption {
	return func(l *LoginClient) {
		l.ttl = ttl
	}
}

// NewLoginClient 创建登录客户端。
func NewLoginClient(client *httpclient.Client, store SessionStore, opts ...LoginOption) *LoginClient {
	if client == nil {
		client = httpclient.NewClient()
	}
	l := &LoginClient{
		client:    client,
		store:     store,
		logger:    httpclient.NopLogger{},
		endpoints: DefaultEndpoints(DefaultBaseURL),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.logger == nil {
		l.logger = httpclient.NopLogger{}
	}
	return l
}

// Endpoints 返回当前使用的接口地址。
func (l *LoginClient) Endpoints() Endpoints {
	return l.endpoints
}

// Login 使用邮箱密码登录并把凭证写入存储。
func (l *LoginClient) Login(ctx context.Context, cred Credentials) (*Session, error) {
	if cred.Email == "" || cred.Password == "" {
		return nil, ErrMissingCredentials
	}
	if l.store == nil {
		return nil, ErrSessionStoreNil
	}
	var rsp envelope[*tokenData]
	if err := l.postJSON(ctx, l.endpoints.LoginURL, cred, &rsp, nil); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrCodeUnauthenticated, "auth: 登录失败", err)
	}
	session := &Session{
		AccessToken:  rsp.Data.accessToken(),
		RefreshToken: rsp.Data.refreshToken(),
	}
	jar := l.client.Jar
	if v := cookieValue(jar, l.endpoints.LoginURL, AccessTokenCookie); v != "" {
		session.AccessToken = v
	}
	if v := cookieValue(jar, l.endpoints.LoginURL, RefreshTokenCookie); v != "" {
		session.RefreshToken = v
	}
	if session.AccessToken == "" {
		return nil, ErrTokenMissing
	}
	if l.ttl > 0 {
		session.ExpiresAt = l.now().Add(l.ttl)
	}
	if err := l.store.SaveSession(session); err != nil {
		return nil, err
	}
	l.logger.Debugf("auth: 登录成功 %s", cred.Email)
	return session.Clone(), nil
}

// Register 提交注册信息，返回服务端提示语（通常要求去邮箱完成验证）。
func (l *LoginClient) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if req.Email == "" || req.Password == "" || req.Username == "" {
		return "", ErrMissingCredentials
	}
	if req.Provider == "" {
		req.Provider = "EMAIL"
	}
	var rsp envelope[json.RawMessage]
	if err := l.postJSON(ctx, l.endpoints.RegisterURL, req, &rsp, nil); err != nil {
		return "", err
	}
	return rsp.Msg, nil
}

// Logout 通知服务端注销当前 access token，无论结果如何都会清理本地会话。
func (l *LoginClient) Logout(ctx context.Context) error {
	var token string
	if l.store != nil {
		session, err := loadSession(l.store)
		if err != nil {
			return err
		}
		token = session.GetAccessToken()
	}
	var rsp envelope[json.RawMessage]
	err := l.postJSON(ctx, l.endpoints.LogoutURL, struct{}{}, &rsp, httpclient.WithBearer(func() string { return token }))
	if l.store != nil {
		if clearErr := l.store.ClearSession(); clearErr != nil && err == nil {
			err = clearErr
		}
	}
	expireCookies(l.client.Jar, l.endpoints.LogoutURL)
	return err
}

func (l *LoginClient) postJSON(ctx context.Context, rawURL string, body any, out any, mw httpclient.Middleware) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if mw == nil {
		return l.client.Do(req, out)
	}
	return l.client.DoWith(req, out, mw)
}

func cookieValue(jar http.CookieJar, rawURL, name string) string {
	if jar == nil {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// expireCookies 从 jar 中删除凭证 Cookie，覆盖根路径与接口所在路径。
func expireCookies(jar http.CookieJar, rawURL string) {
	if jar == nil {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	paths := []string{"/"}
	if dir := u.Path; dir != "" && dir != "/" {
		for dir != "" && dir != "/" {
			paths = append(paths, dir)
			idx := strings.LastIndex(dir, "/")
			if idx <= 0 {
				break
			}
			dir = dir[:idx]
		}
	}
	var expired []*http.Cookie
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		for _, p := range paths {
			expired = append(expired, &http.Cookie{Name: name, Path: p, MaxAge: -1})
		}
	}
	jar.SetCookies(u, expired)
}
