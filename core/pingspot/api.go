package pingspot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

// Get 以 GET 调用 API 并把 data 字段解码到 out。
func (c *Client) Get(ctx context.Context, path string, out any) error {
	if err := c.ready(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	return toAPIError(c.http.Do(req, out))
}

// PostJSON 以 JSON 请求体调用 API。
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	if err := c.ready(); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return toAPIError(c.http.Do(req, out))
}
