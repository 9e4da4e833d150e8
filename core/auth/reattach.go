package auth

import (
	"github.com/dnslin/pingspot-client/core/httpclient"
	"github.com/dnslin/pingspot-client/core/refresh"
)

// BearerReattacher 重放前用 provider 中最新的 access token 重写 Authorization。
func BearerReattacher(p SessionProvider) refresh.Reattacher {
	if p == nil {
		return nil
	}
	return refresh.BearerReattacher(p.GetAccessToken)
}

// BearerMiddleware 为每个请求附加 provider 中的 access token。
func BearerMiddleware(p SessionProvider) httpclient.Middleware {
	if p == nil {
		return nil
	}
	return httpclient.WithBearer(p.GetAccessToken)
}
