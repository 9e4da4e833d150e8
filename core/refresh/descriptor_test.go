package refresh

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRebuildsIdenticalRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "http://pingspot.test/pingspot/api/report/7?draft=1",
		bytes.NewReader([]byte(`{"title":"jalan rusak"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "abc")

	d, err := Snapshot(req)
	require.NoError(t, err)
	assert.False(t, d.Retried)

	// 修改原请求不影响快照。
	req.Header.Set("X-Request-ID", "changed")
	req.URL.Path = "/other"

	retried := d.MarkRetried()
	assert.False(t, d.Retried, "MarkRetried 不应修改原快照")

	out, err := retried.Request(context.Background())
	require.NoError(t, err)
	assert.True(t, IsRetried(out.Context()))
	assert.Equal(t, http.MethodPut, out.Method)
	assert.Equal(t, "/pingspot/api/report/7", out.URL.Path)
	assert.Equal(t, "draft=1", out.URL.RawQuery)
	assert.Equal(t, "abc", out.Header.Get("X-Request-ID"))
	assert.Equal(t, "application/json", out.Header.Get("Content-Type"))

	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"jalan rusak"}`, string(body))

	// 可多次重建。
	again, err := retried.Request(context.Background())
	require.NoError(t, err)
	body, _ = io.ReadAll(again.Body)
	assert.Equal(t, `{"title":"jalan rusak"}`, string(body))
}

func TestSnapshotBuffersBodyWithoutGetBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://pingspot.test/x", io.NopCloser(bytes.NewBufferString("payload")))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	d, err := Snapshot(req)
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), d.ContentLength)

	first, err := d.first(req)
	require.NoError(t, err)
	assert.NotSame(t, req, first)
	b, _ := io.ReadAll(first.Body)
	assert.Equal(t, "payload", string(b))

	replay, err := d.MarkRetried().Request(context.Background())
	require.NoError(t, err)
	b, _ = io.ReadAll(replay.Body)
	assert.Equal(t, "payload", string(b))
}

func TestSnapshotWithoutBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://pingspot.test/x", nil)
	require.NoError(t, err)

	d, err := Snapshot(req)
	require.NoError(t, err)
	first, err := d.first(req)
	require.NoError(t, err)
	assert.Same(t, req, first)

	out, err := d.Request(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out.Body)
	assert.False(t, IsRetried(out.Context()))
}

func TestIsRetried(t *testing.T) {
	assert.False(t, IsRetried(context.Background()))
	assert.True(t, IsRetried(WithRetried(context.Background())))
}

func TestReplayTrackingSharedAcrossAttempts(t *testing.T) {
	ctx := WithReplayTracking(context.Background())
	assert.False(t, IsRetried(ctx))
	assert.True(t, ctx == WithReplayTracking(ctx))

	markReplayed(ctx)
	assert.True(t, IsRetried(ctx))
	assert.False(t, IsRetried(WithReplayTracking(context.Background())))
}
