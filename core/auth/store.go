package auth

import (
	"errors"

	coreerrors "github.com/dnslin/pingspot-client/core/errors"
	"github.com/dnslin/pingspot-client/core/store"
)

var (
	// ErrSessionNotFound 用于标记存储中不存在会话。
	ErrSessionNotFound = coreerrors.New(coreerrors.ErrCodeNotFound, "auth: 未找到会话")
	// ErrSessionStoreNil 在未注入存储时返回。
	ErrSessionStoreNil = coreerrors.New(coreerrors.ErrCodeInvalidConfig, "auth: SessionStore 未设置")
)

// SessionStore 是 auth 使用的会话存储。
type SessionStore = store.SessionStore[*Session]

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore() *store.MemoryStore[*Session] {
	return store.NewMemoryStore[*Session]()
}

// storeProvider 每次读取都从存储取最新会话，续期写回后立即可见。
type storeProvider struct {
	store SessionStore
}

// StoreProvider 返回基于存储的 SessionProvider。
func StoreProvider(s SessionStore) SessionProvider {
	return &storeProvider{store: s}
}

func (p *storeProvider) session() *Session {
	if p == nil || p.store == nil {
		return nil
	}
	s, err := p.store.LoadSession()
	if err != nil {
		return nil
	}
	return s
}

func (p *storeProvider) GetAccessToken() string {
	return p.session().GetAccessToken()
}

func (p *storeProvider) GetRefreshToken() string {
	return p.session().GetRefreshToken()
}

// loadSession 读取会话，不存在时返回 nil 而不是错误。
func loadSession(s SessionStore) (*Session, error) {
	session, err := s.LoadSession()
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}
