package refresh

import (
	"errors"

	coreerrors "github.com/dnslin/pingspot-client/core/errors"
)

var (
	// ErrRenewalFailed 表示本轮续期失败，所有等待者都会收到包装了该错误码的错误。
	ErrRenewalFailed = coreerrors.New(coreerrors.ErrCodeRenewalFailed, "refresh: 凭证续期失败")
	// ErrRenewerNil 未配置续期器时返回。
	ErrRenewerNil = coreerrors.New(coreerrors.ErrCodeInvalidConfig, "refresh: 未配置续期器")
)

// IsRenewalFailed 判断错误是否来自续期失败。
func IsRenewalFailed(err error) bool {
	return errors.Is(err, ErrRenewalFailed)
}

func renewalFailed(raw error) error {
	return coreerrors.Wrap(coreerrors.ErrCodeRenewalFailed, "refresh: 凭证续期失败", raw)
}
