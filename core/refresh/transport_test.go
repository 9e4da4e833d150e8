package refresh

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer 只接受携带当前有效 token 的请求，其余返回 401。
type fakeServer struct {
	mu     sync.Mutex
	token  string
	hits   map[string]int
	bodies map[string][]string
	fail   error
}

func newFakeServer(token string) *fakeServer {
	return &fakeServer{
		token:  token,
		hits:   make(map[string]int),
		bodies: make(map[string][]string),
	}
}

func (s *fakeServer) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		req.Body.Close()
		body = string(data)
	}
	s.mu.Lock()
	s.hits[req.URL.Path]++
	s.bodies[req.URL.Path] = append(s.bodies[req.URL.Path], body)
	accepted := s.token
	fail := s.fail
	s.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	if strings.HasSuffix(req.URL.Path, "/boom") {
		return newResponse(req, http.StatusInternalServerError, "boom"), nil
	}
	if req.Header.Get("Authorization") != "Bearer "+accepted {
		return newResponse(req, http.StatusUnauthorized, `{"success":false,"message":"token expired"}`), nil
	}
	return newResponse(req, http.StatusOK, "ok:"+req.URL.Path), nil
}

func (s *fakeServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *fakeServer) bodiesOf(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies[path]...)
}

type tokenBox struct {
	mu    sync.Mutex
	value string
}

func (b *tokenBox) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *tokenBox) set(v string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = v
}

type fakeRenewer struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
	next  string
	box   *tokenBox
}

func (r *fakeRenewer) Renew(ctx context.Context) error {
	r.calls.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.err != nil {
		return r.err
	}
	if r.box != nil {
		r.box.set(r.next)
	}
	return nil
}

type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	released []uint64
	results  []error
	replays  int
}

func (o *recordingObserver) WaiterReleased(seq uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = append(o.released, seq)
	o.results = append(o.results, err)
}

func (o *recordingObserver) Replayed(*http.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replays++
}

func (o *recordingObserver) snapshot() ([]uint64, []error, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]uint64(nil), o.released...), append([]error(nil), o.results...), o.replays
}

type harness struct {
	server    *fakeServer
	box       *tokenBox
	renewer   *fakeRenewer
	observer  *recordingObserver
	teardowns atomic.Int32
	transport *Transport
	client    *http.Client
}

func newHarness(t *testing.T, renewer *fakeRenewer) *harness {
	t.Helper()
	h := &harness{
		server:   newFakeServer("v2"),
		box:      &tokenBox{value: "v1"},
		renewer:  renewer,
		observer: &recordingObserver{},
	}
	if renewer.box == nil {
		renewer.box = h.box
	}
	if renewer.next == "" {
		renewer.next = "v2"
	}
	h.transport = NewTransport(h.server, Options{
		Config: Config{
			Renewer:      renewer,
			Teardown:     func() { h.teardowns.Add(1) },
			RenewTimeout: time.Second,
			Observer:     h.observer,
		},
		Reattach: BearerReattacher(h.box.get),
	})
	h.client = &http.Client{Transport: h.transport}
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, string, error) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, "http://pingspot.test/pingspot/api"+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.box.get())
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data), nil
}

func TestTransport_ConcurrentExpiryRenewsOnce(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &fakeRenewer{gate: gate})

	paths := []string{"/report/a", "/report/b", "/report/c"}
	type result struct {
		status int
		body   string
		err    error
	}
	results := make([]result, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			resp, body, err := h.do(t, http.MethodGet, p, "")
			if err != nil {
				results[i] = result{err: err}
				return
			}
			results[i] = result{status: resp.StatusCode, body: body}
		}(i, p)
	}

	require.Eventually(t, func() bool {
		return h.transport.Coordinator().Pending() == len(paths)
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), h.renewer.calls.Load(), "只应发起一次续期")
	assert.Equal(t, int32(0), h.teardowns.Load(), "续期成功不应清理会话")
	for i, p := range paths {
		require.NoError(t, results[i].err)
		assert.Equal(t, http.StatusOK, results[i].status)
		assert.Equal(t, "ok:/pingspot/api"+p, results[i].body)
		assert.Equal(t, 2, h.server.hitCount("/pingspot/api"+p), "每个请求应只重放一次")
	}
	assert.False(t, h.transport.Coordinator().Refreshing())
	assert.Zero(t, h.transport.Coordinator().Pending())
}

func TestTransport_SingleRequestRenewalFails(t *testing.T) {
	renewErr := errors.New("refresh token revoked")
	h := newHarness(t, &fakeRenewer{err: renewErr})

	resp, _, err := h.do(t, http.MethodGet, "/report/d", "")
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, IsRenewalFailed(err), "调用方应收到续期失败而非原始 401")
	assert.ErrorIs(t, err, renewErr)

	assert.Equal(t, int32(1), h.renewer.calls.Load())
	assert.Equal(t, int32(1), h.teardowns.Load(), "续期失败应清理会话一次")
	assert.Equal(t, 1, h.server.hitCount("/pingspot/api/report/d"), "续期失败不应重放")
	_, _, replays := h.observer.snapshot()
	assert.Zero(t, replays)
}

func TestTransport_AuthEndpointPassthrough(t *testing.T) {
	h := newHarness(t, &fakeRenewer{})

	for _, p := range []string{"/auth/refresh-token", "/auth/login", "/user/auth/register"} {
		resp, _, err := h.do(t, http.MethodPost, p, "{}")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, p)
		assert.Equal(t, 1, h.server.hitCount("/pingspot/api"+p), p)
	}
	assert.Zero(t, h.renewer.calls.Load(), "认证端点的 401 不应触发续期")
	assert.Zero(t, h.teardowns.Load())
}

func TestTransport_ReplayExpiredIsFinal(t *testing.T) {
	// 续期"成功"但新 token 仍不被接受，重放的 401 应直接返回。
	renewer := &fakeRenewer{next: "v3"}
	h := newHarness(t, renewer)

	resp, _, err := h.do(t, http.MethodGet, "/user/profile/me", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), renewer.calls.Load(), "重放后的 401 不应再次续期")
	assert.Equal(t, 2, h.server.hitCount("/pingspot/api/user/profile/me"))
	assert.Zero(t, h.teardowns.Load())
}

func TestTransport_FailureFanOut(t *testing.T) {
	gate := make(chan struct{})
	renewErr := errors.New("refresh endpoint 401")
	h := newHarness(t, &fakeRenewer{gate: gate, err: renewErr})

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = h.do(t, http.MethodGet, "/report/"+string(rune('a'+i)), "")
		}(i)
	}
	require.Eventually(t, func() bool {
		return h.transport.Coordinator().Pending() == n
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		require.Error(t, err, "请求 %d", i)
		assert.True(t, IsRenewalFailed(err))
		assert.Equal(t, 1, h.server.hitCount("/pingspot/api/report/"+string(rune('a'+i))))
	}
	assert.Equal(t, int32(1), h.renewer.calls.Load())
	assert.Equal(t, int32(1), h.teardowns.Load(), "同一轮失败只清理一次会话")

	released, results, _ := h.observer.snapshot()
	assert.Len(t, released, n)
	for _, r := range results {
		assert.True(t, IsRenewalFailed(r))
	}
}

func TestTransport_ReplaysBodyWithoutGetBody(t *testing.T) {
	h := newHarness(t, &fakeRenewer{})

	req, err := http.NewRequest(http.MethodPost, "http://pingspot.test/pingspot/api/report/1/vote",
		io.NopCloser(strings.NewReader(`{"voteType":"UPVOTE"}`)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)
	req.Header.Set("Authorization", "Bearer v1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"voteType":"UPVOTE"}`, `{"voteType":"UPVOTE"}`},
		h.server.bodiesOf("/pingspot/api/report/1/vote"))
}

func TestTransport_RetriedContextPassthrough(t *testing.T) {
	h := newHarness(t, &fakeRenewer{})

	req, err := http.NewRequestWithContext(WithRetried(context.Background()), http.MethodGet,
		"http://pingspot.test/pingspot/api/report", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer v1")

	resp, err := h.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.renewer.calls.Load())
}

func TestTransport_OtherFailuresPassThrough(t *testing.T) {
	h := newHarness(t, &fakeRenewer{})
	h.box.set("v2")

	resp, body, err := h.do(t, http.MethodGet, "/boom", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", body)

	netErr := errors.New("connection reset")
	h.server.mu.Lock()
	h.server.fail = netErr
	h.server.mu.Unlock()
	_, _, err = h.do(t, http.MethodGet, "/report", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, netErr)
	assert.False(t, IsRenewalFailed(err))
	assert.Zero(t, h.renewer.calls.Load())
}

func TestJarReattacher(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, _ := url.Parse("http://pingspot.test/pingspot/api/report")
	jar.SetCookies(u, []*http.Cookie{{Name: "access_token", Value: "fresh"}})

	req, _ := http.NewRequest(http.MethodGet, u.String(), nil)
	req.Header.Set("Cookie", "access_token=stale")
	require.NoError(t, ChainReattachers(nil, JarReattacher(jar))(req))

	c, err := req.Cookie("access_token")
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.Value)
	assert.Len(t, req.Cookies(), 1)
}

func TestBearerReattacherKeepsHeaderWhenEmpty(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://pingspot.test/", nil)
	req.Header.Set("Authorization", "Bearer old")
	require.NoError(t, BearerReattacher(func() string { return "" })(req))
	assert.Equal(t, "Bearer old", req.Header.Get("Authorization"))
}
