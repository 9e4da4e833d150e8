package pingspot

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dnslin/pingspot-client/core/httpclient"
	"github.com/dnslin/pingspot-client/core/refresh"
)

const (
	ErrCodeUnknown = iota
	ErrCodeInvalidRequest
	ErrCodeUnauthorized
	ErrCodeSessionExpired
	ErrCodeForbidden
	ErrCodeNotFound
	ErrCodeRateLimited
	ErrCodeServer
)

// APIError 表示统一的业务错误。
type APIError struct {
	Code       int
	Message    string
	HTTPStatus int
	Raw        error
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Code != 0 && e.Message != "":
		return fmt.Sprintf("pingspot: [%d] %s", e.Code, e.Message)
	case e.Message != "":
		return e.Message
	case e.Code != 0:
		return fmt.Sprintf("pingspot: 错误码=%d", e.Code)
	case e.Raw != nil:
		return e.Raw.Error()
	default:
		return "pingspot: 未知错误"
	}
}

// Unwrap 允许 errors.Is/As 解构底层错误。
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Raw
}

// NeedsLogin 报告该错误是否要求用户重新登录。
func (e *APIError) NeedsLogin() bool {
	return e != nil && (e.Code == ErrCodeSessionExpired || e.Code == ErrCodeUnauthorized)
}

// WrapAPIError 在保留底层错误的同时生成 APIError。
func WrapAPIError(code int, message string, raw error) *APIError {
	if message == "" && raw != nil {
		message = raw.Error()
	}
	return &APIError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatusFromErr(raw),
		Raw:        raw,
	}
}

func httpStatusFromErr(err error) int {
	var ec *httpclient.ErrCode
	if errors.As(err, &ec) && ec.Status > 0 {
		return ec.Status
	}
	return 0
}

func mapStatus(status int) int {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return ErrCodeInvalidRequest
	case http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	}
	if status >= http.StatusInternalServerError && status < 600 {
		return ErrCodeServer
	}
	return ErrCodeUnknown
}

// toAPIError 将续期失败与 httpclient.ErrCode 转换为 APIError，未命中时返回原始错误。
func toAPIError(err error) error {
	if err == nil {
		return nil
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae
	}
	if refresh.IsRenewalFailed(err) {
		return WrapAPIError(ErrCodeSessionExpired, "pingspot: 会话已失效，请重新登录", err)
	}
	var ec *httpclient.ErrCode
	if errors.As(err, &ec) {
		msg := ec.Message
		if msg == "" && ec.Status > 0 {
			msg = http.StatusText(ec.Status)
		}
		if detail := ec.DetailText(); detail != "" && detail != msg {
			msg = fmt.Sprintf("%s: %s", msg, detail)
		}
		return WrapAPIError(mapStatus(ec.Status), msg, err)
	}
	return err
}
