package pingspot

import (
	"context"

	"github.com/dnslin/pingspot-client/core/auth"
)

// Login 登录并保存会话。
func (c *Client) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	s, err := c.login.Login(ctx, auth.Credentials{Email: email, Password: password})
	if err != nil {
		return nil, toAPIError(err)
	}
	return s, nil
}

// Register 注册新账号，返回服务端提示语。
func (c *Client) Register(ctx context.Context, req auth.RegisterRequest) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	msg, err := c.login.Register(ctx, req)
	return msg, toAPIError(err)
}

// Logout 注销并清理本地会话。
func (c *Client) Logout(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return toAPIError(c.login.Logout(ctx))
}

// Refresh 主动续期。若已有续期在进行，与其共享结果，不会重复调用续期接口。
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return toAPIError(c.Coordinator().Refresh(ctx))
}
