package pingspot

import (
	"context"
)

// Profile 获取当前用户资料。
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var rsp Envelope[*Profile]
	if err := c.Get(ctx, pathProfileMe, &rsp); err != nil {
		return nil, err
	}
	if rsp.Data == nil {
		return &Profile{}, nil
	}
	return rsp.Data, nil
}

// SaveProfile 更新当前用户资料，返回服务端保存后的结果。
func (c *Client) SaveProfile(ctx context.Context, req SaveProfileRequest) (*Profile, error) {
	if req.FullName == "" {
		return nil, WrapAPIError(ErrCodeInvalidRequest, "pingspot: fullName 不能为空", nil)
	}
	var rsp Envelope[*Profile]
	if err := c.PostJSON(ctx, pathSaveProfile, req, &rsp); err != nil {
		return nil, err
	}
	if rsp.Data == nil {
		return &Profile{}, nil
	}
	return rsp.Data, nil
}
