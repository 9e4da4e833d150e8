package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	coreerrors "github.com/dnslin/pingspot-client/core/errors"
	"github.com/dnslin/pingspot-client/core/httpclient"
	"github.com/dnslin/pingspot-client/core/refresh"
)

// ErrRefreshRejected 续期接口拒绝了 refresh token。
var ErrRefreshRejected = coreerrors.New(coreerrors.ErrCodeUnauthenticated, "auth: refresh token 已失效")

// TokenRefresher 调用 /auth/refresh-token 续期 access token。
// 它必须使用未经续期协调包装的 Transport，且与业务请求共享同一个 CookieJar。
type TokenRefresher struct {
	http   *http.Client
	url    string
	store  SessionStore
	logger httpclient.Logger
	now    func() time.Time
	ttl    time.Duration
}

// RefresherOption 自定义 TokenRefresher。
type RefresherOption func(*TokenRefresher)

// WithRefresherLogger 注入日志。
func WithRefresherLogger(logger httpclient.Logger) RefresherOption {
	return func(r *TokenRefresher) {
		r.logger = logger
	}
}

// WithRefresherNow 替换时间来源。
func WithRefresherNow(now func() time.Time) RefresherOption {
	return func(r *TokenRefresher) {
		r.now = now
	}
}

// WithRefreshedTTL 设置续期后 access token 的预期有效期。
func WithRefreshedTTL(ttl time.Duration) RefresherOption {
	return func(r *TokenRefresher) {
		r.ttl = ttl
	}
}

// NewTokenRefresher 创建续期器。store 可为 nil，此时只依赖 CookieJar。
func NewTokenRefresher(hc *http.Client, refreshURL string, store SessionStore, opts ...RefresherOption) *TokenRefresher {
	r := &TokenRefresher{
		http:   hc,
		url:    refreshURL,
		store:  store,
		logger: httpclient.NopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = httpclient.NopLogger{}
	}
	return r
}

// Refresh 主动续期，等价于 Renew。
func (r *TokenRefresher) Refresh(ctx context.Context) error {
	return r.Renew(ctx)
}

// Renew 实现 refresh.Renewer。
func (r *TokenRefresher) Renew(ctx context.Context) error {
	if r == nil || r.http == nil {
		return coreerrors.New(coreerrors.ErrCodeInvalidConfig, "auth: 续期器未配置 http.Client")
	}
	var session *Session
	if r.store != nil {
		s, err := loadSession(r.store)
		if err != nil {
			return err
		}
		session = s
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cookieValue(r.http.Jar, r.url, RefreshTokenCookie) == "" && session.GetRefreshToken() != "" {
		req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: session.GetRefreshToken()})
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth: 续期请求失败: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("auth: 读取续期响应失败: %w", err)
	}

	var rsp envelope[*tokenData]
	decodeErr := json.Unmarshal(body, &rsp)
	if len(bytes.TrimSpace(body)) == 0 {
		decodeErr = nil
		rsp.Success = true
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ec := &httpclient.ErrCode{Status: resp.StatusCode, Message: rsp.Msg}
		if ec.Message == "" {
			ec.Message = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return coreerrors.Wrap(ErrRefreshRejected.Code, ErrRefreshRejected.Message, ec)
		}
		return ec
	}
	if decodeErr != nil {
		return &httpclient.DecodeError{Status: resp.StatusCode, Err: decodeErr}
	}
	if !rsp.Success {
		return coreerrors.Wrap(ErrRefreshRejected.Code, ErrRefreshRejected.Message, &httpclient.ErrCode{Status: resp.StatusCode, Message: rsp.Msg})
	}

	next := session.Clone()
	if next == nil {
		next = &Session{}
	}
	next.AccessToken = firstNonEmpty(cookieValue(r.http.Jar, r.url, AccessTokenCookie), rsp.Data.accessToken())
	if v := firstNonEmpty(cookieValue(r.http.Jar, r.url, RefreshTokenCookie), rsp.Data.refreshToken()); v != "" {
		next.RefreshToken = v
	}
	if next.AccessToken == "" {
		return ErrTokenMissing
	}
	next.ExpiresAt = time.Time{}
	if r.ttl > 0 {
		next.ExpiresAt = r.now().Add(r.ttl)
	}
	if r.store != nil {
		if err := r.store.SaveSession(next); err != nil {
			return err
		}
	}
	r.logger.Debugf("auth: access token 已续期")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ refresh.Renewer = (*TokenRefresher)(nil)
