package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnslin/pingspot-client/core/metrics"
)

// mockServer 登录签发的 access token 立即过期，只有续期后的 token 可用。
type mockServer struct {
	renewals atomic.Int32
	profiles atomic.Int32
}

func newMockServer(t *testing.T) (*mockServer, *httptest.Server) {
	m := &mockServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/pingspot/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "rahasia" {
			reply(w, http.StatusUnauthorized, `{"success":false,"message":"Login gagal","error":"password salah"}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "stale-token", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r1", Path: "/"})
		reply(w, http.StatusOK, `{"success":true,"message":"Login berhasil","data":{"token":"stale-token"}}`)
	})
	mux.HandleFunc("/pingspot/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusCreated, `{"success":true,"message":"Registrasi berhasil"}`)
	})
	mux.HandleFunc("/pingspot/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, `{"success":true,"message":"Logout berhasil"}`)
	})
	mux.HandleFunc("/pingspot/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		m.renewals.Add(1)
		if c, err := r.Cookie("refresh_token"); err != nil || c.Value != "r1" {
			reply(w, http.StatusUnauthorized, `{"success":false,"message":"Refresh token tidak valid"}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "fresh-token-0001", Path: "/"})
		reply(w, http.StatusOK, `{"success":true,"message":"Token diperbarui"}`)
	})
	mux.HandleFunc("/pingspot/api/user/profile/me", func(w http.ResponseWriter, r *http.Request) {
		m.profiles.Add(1)
		if c, err := r.Cookie("access_token"); err != nil || c.Value != "fresh-token-0001" {
			reply(w, http.StatusUnauthorized, `{"success":false,"message":"Token kadaluarsa"}`)
			return
		}
		reply(w, http.StatusOK, `{"success":true,"message":"ok","data":{"userID":7,"username":"budi","fullName":"Budi Santoso","email":"budi@example.com"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return m, srv
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// run 执行 CLI，返回标准输出与标准错误。
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"pingspot"}, args...))
	return out.String(), errOut.String(), err
}

func TestLoginCommand(t *testing.T) {
	_, srv := newMockServer(t)
	out, _, err := run(t, "", "--base-url", srv.URL+"/pingspot/api",
		"--email", "budi@example.com", "--password", "rahasia", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "登录成功")
	assert.Contains(t, out, "stal...oken")
}

func TestLoginCommandPromptsForCredentials(t *testing.T) {
	_, srv := newMockServer(t)
	out, _, err := run(t, "budi@example.com\nrahasia\n", "--base-url", srv.URL+"/pingspot/api", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Email: ")
	assert.Contains(t, out, "Password: ")
	assert.Contains(t, out, "登录成功")
}

func TestLoginCommandWrongPassword(t *testing.T) {
	m, srv := newMockServer(t)
	_, _, err := run(t, "", "--base-url", srv.URL+"/pingspot/api",
		"--email", "budi@example.com", "--password", "salah", "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Login gagal")
	assert.Zero(t, m.renewals.Load())
}

func TestProfileCommandRenewsOnceForConcurrentRequests(t *testing.T) {
	m, srv := newMockServer(t)
	out, errOut, err := run(t, "", "--base-url", srv.URL+"/pingspot/api", "--verbose",
		"--email", "budi@example.com", "--password", "rahasia",
		"profile", "--concurrency", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Budi Santoso (budi) <budi@example.com>")
	assert.Contains(t, out, "4 个并发请求全部成功")
	assert.Equal(t, int32(1), m.renewals.Load())
	assert.Contains(t, errOut, "--- refresh metrics ---")
	assert.Contains(t, errOut, `pingspot_refresh_renewals_total{result="success"} 1`)
}

func TestRefreshCommand(t *testing.T) {
	m, srv := newMockServer(t)
	out, _, err := run(t, "", "--base-url", srv.URL+"/pingspot/api",
		"--email", "budi@example.com", "--password", "rahasia", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "续期成功，access token: fres...0001")
	assert.Equal(t, int32(1), m.renewals.Load())
	assert.Zero(t, m.profiles.Load())
}

func TestRegisterCommand(t *testing.T) {
	_, srv := newMockServer(t)
	out, _, err := run(t, "", "--base-url", srv.URL+"/pingspot/api",
		"--email", "siti@example.com", "--password", "rahasia",
		"register", "--username", "siti", "--full-name", "Siti Aminah")
	require.NoError(t, err)
	assert.Contains(t, out, "Registrasi berhasil")
}

func TestLogoutCommand(t *testing.T) {
	_, srv := newMockServer(t)
	out, _, err := run(t, "", "--base-url", srv.URL+"/pingspot/api",
		"--email", "budi@example.com", "--password", "rahasia", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "已注销")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "*****", mask("short"))
	assert.Equal(t, "abcd...wxyz", mask("abcdefghijklmnopqrstuvwxyz"))
}

func TestMetricsServerExposesRefreshMetrics(t *testing.T) {
	m := metrics.MustNew(nil)
	srv, err := startMetricsServer("127.0.0.1:0", m)
	require.NoError(t, err)
	defer srv.Close()

	m.RenewalStarted()
	resp, err := http.Get(srv.URL())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pingspot_refresh_in_progress 1")
	assert.Contains(t, string(body), "go_goroutines")

	require.NoError(t, srv.Close())
	_, err = http.Get(srv.URL())
	assert.Error(t, err)
}

func TestMetricsAddrFlag(t *testing.T) {
	_, srv := newMockServer(t)
	out, errOut, err := run(t, "", "--base-url", srv.URL+"/pingspot/api", "--metrics-addr", "127.0.0.1:0",
		"--email", "budi@example.com", "--password", "rahasia", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "续期成功")
	assert.Contains(t, errOut, "metrics: http://127.0.0.1:")
}
