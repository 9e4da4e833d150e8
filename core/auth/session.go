package auth

import "time"

// Cookie 名称与服务端约定一致。
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// SessionProvider 提供请求鉴权所需的会话字段。
type SessionProvider interface {
	GetAccessToken() string
	GetRefreshToken() string
}

// Session 记录当前的会话凭证。
type Session struct {
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// GetAccessToken 实现 SessionProvider。
func (s *Session) GetAccessToken() string {
	if s == nil {
		return ""
	}
	return s.AccessToken
}

// GetRefreshToken 实现 SessionProvider。
func (s *Session) GetRefreshToken() string {
	if s == nil {
		return ""
	}
	return s.RefreshToken
}

// Expired 判断会话是否过期，ExpiresAt 为零值时视为未知，不判定过期。
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone 返回会话的浅拷贝，避免直接暴露内部指针。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
