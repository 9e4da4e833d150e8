package pingspot

import (
	"encoding/json"
	"fmt"
)

// Envelope 对应服务端统一响应 {success, message, data|error}。
type Envelope[T any] struct {
	Success bool            `json:"success"`
	Msg     string          `json:"message"`
	Data    T               `json:"data"`
	Detail  json.RawMessage `json:"error,omitempty"`
}

// IsSuccess 实现 httpclient.OkRsp。
func (e *Envelope[T]) IsSuccess() bool {
	return e == nil || e.Success
}

func (e *Envelope[T]) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Detail) > 0 && string(e.Detail) != "null" {
		return fmt.Sprintf("%s (%s)", e.Msg, e.Detail)
	}
	return e.Msg
}

// Message 返回服务端提示语。
func (e *Envelope[T]) Message() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

// Profile 用户资料。
type Profile struct {
	UserID         uint    `json:"userID"`
	Username       string  `json:"username"`
	FullName       string  `json:"fullName"`
	Email          string  `json:"email,omitempty"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profilePicture"`
	Gender         *string `json:"gender"`
	Birthday       *string `json:"birthday"`
}

// SaveProfileRequest 更新资料的参数，指针字段为 nil 时不修改。
type SaveProfileRequest struct {
	FullName       string  `json:"fullName"`
	Bio            *string `json:"bio,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
	Gender         *string `json:"gender,omitempty"`
	Birthday       *string `json:"birthday,omitempty"`
}
