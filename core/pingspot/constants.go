package pingspot

import "github.com/dnslin/pingspot-client/core/auth"

const (
	// DefaultBaseURL 本地开发环境的 API 根路径。
	DefaultBaseURL = auth.DefaultBaseURL
	// UserAgent 默认 UA。
	UserAgent = "pingspot-cli/1.0"
	// DefaultRefreshPath 续期接口相对 API 根路径的位置。
	DefaultRefreshPath = "/auth/refresh-token"
)

const (
	pathProfileMe   = "/user/profile/me"
	pathSaveProfile = "/user/profile"
)
