package auth

import (
	"net/http"

	"github.com/dnslin/pingspot-client/core/httpclient"
	"github.com/dnslin/pingspot-client/core/refresh"
)

// TeardownConfig 描述续期失败后需要清理的本地状态。
type TeardownConfig struct {
	Store    SessionStore
	Jar      http.CookieJar
	BaseURL  string
	OnReauth func()
	Logger   httpclient.Logger
}

// NewTeardown 构造续期失败时的会话清理钩子：清空存储、删除凭证 Cookie，最后通知重新登录。
func NewTeardown(cfg TeardownConfig) refresh.TeardownHook {
	logger := cfg.Logger
	if logger == nil {
		logger = httpclient.NopLogger{}
	}
	return func() {
		if cfg.Store != nil {
			if err := cfg.Store.ClearSession(); err != nil {
				logger.Errorf("auth: 清理会话失败: %v", err)
			}
		}
		expireCookies(cfg.Jar, cfg.BaseURL)
		logger.Debugf("auth: 会话已清理，需要重新登录")
		if cfg.OnReauth != nil {
			cfg.OnReauth()
		}
	}
}
