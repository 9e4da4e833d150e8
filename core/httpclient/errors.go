package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrCode 表示接口返回的错误，兼容 {success, message, error} 响应体。
type ErrCode struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Detail  json.RawMessage `json:"error,omitempty"`
	Status  int             `json:"-"`
}

func (e *ErrCode) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Code != "":
		return e.Code
	case e.Message != "":
		if detail := e.DetailText(); detail != "" && detail != e.Message {
			return fmt.Sprintf("%s (%s)", e.Message, detail)
		}
		return e.Message
	default:
		return fmt.Sprintf("http 状态码: %d", e.Status)
	}
}

// DetailText 返回 error 字段的文本形式，字符串会去掉引号。
func (e *ErrCode) DetailText() string {
	if e == nil || len(e.Detail) == 0 || string(e.Detail) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(e.Detail))
}

// NetworkError 包装底层网络错误，便于区分可重试场景。
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("网络错误: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DecodeError 表示响应解码失败。
type DecodeError struct {
	Status int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("解码失败(status=%d): %v", e.Status, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// OkRsp 用于判断业务层是否成功。
type OkRsp interface {
	error
	IsSuccess() bool
}

// IsExpired 判断错误是否为凭证过期（401）。
// 经过续期协调器的请求只有在重放后仍被拒绝时才会得到该错误。
func IsExpired(err error) bool {
	var ec *ErrCode
	return errors.As(err, &ec) && ec.Status == http.StatusUnauthorized
}

type coder interface {
	Code() string
}

type messager interface {
	Message() string
}

func toErrCode(err error, status int) *ErrCode {
	if err == nil {
		return nil
	}
	if ec, ok := err.(*ErrCode); ok {
		if ec.Status == 0 {
			ec.Status = status
		}
		return ec
	}
	code := ""
	msg := err.Error()
	if c, ok := err.(coder); ok {
		code = c.Code()
	}
	if m, ok := err.(messager); ok {
		msg = m.Message()
	}
	return &ErrCode{Code: code, Message: msg, Status: status}
}

func statusToErr(status int) *ErrCode {
	return &ErrCode{
		Status:  status,
		Code:    fmt.Sprintf("HTTP_%d", status),
		Message: http.StatusText(status),
	}
}
