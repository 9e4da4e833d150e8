package refresh

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dnslin/pingspot-client/core/logging"
)

// DefaultAuthPaths 是签发凭证的端点，这些端点返回 401 时直接透传，避免续期死循环。
var DefaultAuthPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh-token",
}

// Classifier 判断响应是否表示凭证过期。
type Classifier func(resp *http.Response) bool

// StatusUnauthorized 以 401 作为凭证过期的判断依据。
func StatusUnauthorized(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusUnauthorized
}

// Reattacher 在重放前为请求附加续期后的最新凭证。
type Reattacher func(req *http.Request) error

// JarReattacher 用 CookieJar 中的最新 Cookie 替换快照里的 Cookie 头。
func JarReattacher(jar http.CookieJar) Reattacher {
	return func(req *http.Request) error {
		if jar == nil {
			return nil
		}
		req.Header.Del("Cookie")
		for _, c := range jar.Cookies(req.URL) {
			req.AddCookie(c)
		}
		return nil
	}
}

// BearerReattacher 用 token 函数返回的值重写 Authorization 头，空值时保持原样。
func BearerReattacher(token func() string) Reattacher {
	return func(req *http.Request) error {
		if token == nil {
			return nil
		}
		if t := token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
		return nil
	}
}

// ChainReattachers 依次执行多个 Reattacher。
func ChainReattachers(rs ...Reattacher) Reattacher {
	return func(req *http.Request) error {
		for _, r := range rs {
			if r == nil {
				continue
			}
			if err := r(req); err != nil {
				return err
			}
		}
		return nil
	}
}

// Options 配置带续期协调的 Transport。
type Options struct {
	Config
	AuthPaths  []string
	Classifier Classifier
	Reattach   Reattacher
}

// Transport 是拦截每个响应的 http.RoundTripper，调用方无感知续期与重放。
type Transport struct {
	base       http.RoundTripper
	coord      *Coordinator
	authPaths  []string
	classifier Classifier
	reattach   Reattacher
	observer   Observer
	logger     logging.Logger
}

// NewTransport 包装 base，base 为 nil 时使用 http.DefaultTransport。
func NewTransport(base http.RoundTripper, opts Options) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:       base,
		coord:      NewCoordinator(opts.Config),
		authPaths:  opts.AuthPaths,
		classifier: opts.Classifier,
		reattach:   opts.Reattach,
		observer:   opts.Observer,
		logger:     logging.OrNop(opts.Logger),
	}
	if t.authPaths == nil {
		t.authPaths = DefaultAuthPaths
	}
	if t.classifier == nil {
		t.classifier = StatusUnauthorized
	}
	if t.observer == nil {
		t.observer = NopObserver{}
	}
	return t
}

// Coordinator 返回 Transport 持有的协调器。
func (t *Transport) Coordinator() *Coordinator {
	return t.coord
}

// Base 返回底层 RoundTripper，续期请求应直接走它。
func (t *Transport) Base() http.RoundTripper {
	return t.base
}

// RoundTrip 实现 http.RoundTripper。
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if IsRetried(ctx) || t.isAuthEndpoint(req.URL) {
		return t.base.RoundTrip(req)
	}
	desc, err := Snapshot(req)
	if err != nil {
		return nil, err
	}
	first, err := desc.first(req)
	if err != nil {
		return nil, err
	}

	epoch := t.coord.Epoch()
	resp, err := t.base.RoundTrip(first)
	if err != nil || !t.classifier(resp) {
		return resp, err
	}
	discard(resp)
	t.logger.Debugf("refresh: %s %s 凭证过期，等待续期", desc.Method, redact(desc.URL))

	if err := t.coord.Await(ctx, epoch); err != nil {
		return nil, err
	}
	return t.replay(desc.MarkRetried(), req)
}

// replay 原样重放一次，结果直接返回给调用方，不再进入续期流程。
func (t *Transport) replay(desc *Descriptor, orig *http.Request) (*http.Response, error) {
	markReplayed(orig.Context())
	req, err := desc.Request(orig.Context())
	if err != nil {
		return nil, err
	}
	if t.reattach != nil {
		if err := t.reattach(req); err != nil {
			if req.Body != nil {
				req.Body.Close()
			}
			return nil, err
		}
	}
	resp, err := t.base.RoundTrip(req)
	t.observer.Replayed(resp, err)
	if err == nil && t.classifier(resp) {
		t.logger.Debugf("refresh: %s %s 重放后仍为凭证过期，直接返回", desc.Method, redact(desc.URL))
	}
	return resp, err
}

func (t *Transport) isAuthEndpoint(u *url.URL) bool {
	if u == nil {
		return false
	}
	for _, p := range t.authPaths {
		if p != "" && strings.Contains(u.Path, p) {
			return true
		}
	}
	return false
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	cp := *u
	cp.RawQuery = ""
	cp.User = nil
	return cp.String()
}

var _ http.RoundTripper = (*Transport)(nil)
