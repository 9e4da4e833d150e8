// Package refresh 实现凭证过期后的续期协调：同一时刻只发起一次续期，
// 续期期间到达的过期请求排队等待，续期结束后按 FIFO 顺序放行并各自重放一次。
package refresh

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
)

type (
	retriedKey struct{}
	replayKey  struct{}
)

// replayMark 在一次逻辑调用的所有尝试之间共享。
type replayMark struct {
	done atomic.Bool
}

// WithRetried 标记上下文中的请求已经重放过，拦截器不会再次处理。
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// WithReplayTracking 为一次逻辑调用挂载重放标记，上层重试应沿用返回的上下文。
// 某次尝试被重放过后，同一调用的后续尝试都直接透传，不再触发续期。
func WithReplayTracking(ctx context.Context) context.Context {
	if _, ok := ctx.Value(replayKey{}).(*replayMark); ok {
		return ctx
	}
	return context.WithValue(ctx, replayKey{}, &replayMark{})
}

func markReplayed(ctx context.Context) {
	if m, ok := ctx.Value(replayKey{}).(*replayMark); ok {
		m.done.Store(true)
	}
}

// IsRetried 判断请求或其所属的逻辑调用是否已经重放过。
func IsRetried(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	if v, _ := ctx.Value(retriedKey{}).(bool); v {
		return true
	}
	m, ok := ctx.Value(replayKey{}).(*replayMark)
	return ok && m.done.Load()
}

// Descriptor 是原始请求的不可变快照，用于续期成功后原样重放。
type Descriptor struct {
	Method        string
	URL           *url.URL
	Host          string
	Header        http.Header
	ContentLength int64
	Retried       bool

	getBody  func() (io.ReadCloser, error)
	buffered bool
}

// Snapshot 记录请求的方法、地址、头与请求体。
// 请求体没有 GetBody 时会一次性读入内存，原始 Body 随即关闭。
func Snapshot(req *http.Request) (*Descriptor, error) {
	d := &Descriptor{
		Method:        req.Method,
		URL:           cloneURL(req.URL),
		Host:          req.Host,
		Header:        req.Header.Clone(),
		ContentLength: req.ContentLength,
		Retried:       IsRetried(req.Context()),
	}
	if d.Header == nil {
		d.Header = make(http.Header)
	}
	if req.Body == nil || req.Body == http.NoBody {
		return d, nil
	}
	if req.GetBody != nil {
		d.getBody = req.GetBody
		return d, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	d.getBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	d.ContentLength = int64(len(data))
	d.buffered = true
	return d, nil
}

// MarkRetried 返回 Retried=true 的副本。
func (d *Descriptor) MarkRetried() *Descriptor {
	cp := *d
	cp.Retried = true
	return &cp
}

// Request 按快照重建请求；Retried 为 true 时上下文携带重放标记。
func (d *Descriptor) Request(ctx context.Context) (*http.Request, error) {
	if d.Retried {
		ctx = WithRetried(ctx)
	}
	req := &http.Request{
		Method:        d.Method,
		URL:           cloneURL(d.URL),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        d.Header.Clone(),
		Host:          d.Host,
		ContentLength: d.ContentLength,
		GetBody:       d.getBody,
	}
	if d.getBody != nil {
		body, err := d.getBody()
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return req.WithContext(ctx), nil
}

// first 返回首次发送使用的请求：请求体被缓冲时替换为内存副本，否则原样使用。
func (d *Descriptor) first(req *http.Request) (*http.Request, error) {
	if !d.buffered {
		return req, nil
	}
	body, err := d.getBody()
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Body = body
	out.GetBody = d.getBody
	out.ContentLength = d.ContentLength
	return out, nil
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	cp := *u
	if u.User != nil {
		user := *u.User
		cp.User = &user
	}
	return &cp
}
