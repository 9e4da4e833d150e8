package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"github.com/dnslin/pingspot-client/core/auth"
	"github.com/dnslin/pingspot-client/core/config"
	"github.com/dnslin/pingspot-client/core/httpclient"
	"github.com/dnslin/pingspot-client/core/logging"
	"github.com/dnslin/pingspot-client/core/metrics"
	"github.com/dnslin/pingspot-client/core/pingspot"
)

// Version 通过 ldflags 注入。
var Version = "dev"

const stateKey = "state"

// appState 保存一次命令执行期间共享的客户端与指标。
type appState struct {
	client  *pingspot.Client
	metrics *metrics.RefreshMetrics
	server  *metricsServer
	verbose bool
}

// App 创建 CLI 应用。
func App() *cli.App {
	return &cli.App{
		Name:     "pingspot",
		Usage:    "PingSpot API 命令行客户端",
		Version:  Version,
		Flags:    globalFlags(),
		Metadata: map[string]any{},
		Before:   setup,
		After:    teardown,
		Commands: []*cli.Command{
			loginCommand(),
			registerCommand(),
			profileCommand(),
			refreshCommand(),
			logoutCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML 配置文件路径",
			EnvVars: []string{"PINGSPOT_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "base-url",
			Usage: "API 根路径，例如 https://host/pingspot/api",
		},
		&cli.StringFlag{
			Name:    "email",
			Aliases: []string{"e"},
			Usage:   "登录邮箱",
			EnvVars: []string{"PINGSPOT_EMAIL"},
		},
		&cli.StringFlag{
			Name:    "password",
			Aliases: []string{"p"},
			Usage:   "登录密码，未提供时从标准输入读取",
			EnvVars: []string{"PINGSPOT_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "命令执行期间在该地址提供 /metrics，例如 127.0.0.1:9464",
			EnvVars: []string{"PINGSPOT_METRICS_ADDR"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "输出调试日志，并在退出时打印续期指标",
		},
	}
}

func setup(c *cli.Context) error {
	overrides := map[string]any{}
	if v := c.String("base-url"); v != "" {
		overrides["api.base_url"] = v
	}
	if c.Bool("verbose") {
		overrides["log.level"] = "debug"
	}
	cfg, err := config.Load(config.WithConfigFile(c.String("config")), config.WithOverrides(overrides))
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{
		Name:   "pingspot",
		Level:  cfg.Log.Level,
		JSON:   cfg.Log.JSON,
		Output: c.App.ErrWriter,
	})
	m := metrics.MustNew(nil)
	state := &appState{
		client:  newClient(cfg, logger, m, c.App.ErrWriter),
		metrics: m,
		verbose: c.Bool("verbose"),
	}
	if addr := c.String("metrics-addr"); addr != "" {
		srv, err := startMetricsServer(addr, m)
		if err != nil {
			return fmt.Errorf("pingspot: 启动指标服务失败: %w", err)
		}
		state.server = srv
		fmt.Fprintf(c.App.ErrWriter, "metrics: %s\n", srv.URL())
	}
	c.App.Metadata[stateKey] = state
	return nil
}

func newClient(cfg *config.Config, logger hclog.Logger, m *metrics.RefreshMetrics, errOut io.Writer) *pingspot.Client {
	log := logging.NewHCLogger(logger)
	opts := []pingspot.Option{
		pingspot.WithBaseURL(cfg.API.BaseURL),
		pingspot.WithLogger(log),
		pingspot.WithTimeout(cfg.API.Timeout),
		pingspot.WithUserAgent(cfg.API.UserAgent),
		pingspot.WithRefreshPath(cfg.Refresh.Path),
		pingspot.WithRenewTimeout(cfg.Refresh.Timeout),
		pingspot.WithAuthPaths(cfg.Refresh.AuthPaths...),
		pingspot.WithObserver(m),
		pingspot.WithRetryPolicy(httpclient.NewExponentialBackoffRetry(httpclient.RetryConfig{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
			Logger:     log.Named("retry"),
		})),
		pingspot.WithReauthHandler(func() {
			fmt.Fprintln(errOut, "会话已失效，请重新执行 pingspot login")
		}),
	}
	if cfg.RateLimit.QPS > 0 {
		opts = append(opts, pingspot.WithRateLimiter(httpclient.NewTokenBucketLimiter(cfg.RateLimit.QPS, cfg.RateLimit.Burst, nil)))
	}
	if logger.IsDebug() {
		opts = append(opts, pingspot.WithTransport(&debugTransport{base: http.DefaultTransport, logger: logger.Named("http")}))
	}
	return pingspot.NewClient(opts...)
}

func teardown(c *cli.Context) error {
	rt := getState(c)
	if rt == nil {
		return nil
	}
	if rt.server != nil {
		if err := rt.server.Close(); err != nil {
			return err
		}
	}
	if !rt.verbose {
		return nil
	}
	fmt.Fprintln(c.App.ErrWriter, "--- refresh metrics ---")
	return rt.metrics.WriteSummary(c.App.ErrWriter)
}

func getState(c *cli.Context) *appState {
	if rt, ok := c.App.Metadata[stateKey].(*appState); ok {
		return rt
	}
	return nil
}

// debugTransport 打印请求与响应状态，不输出 Cookie 与请求体。
type debugTransport struct {
	base   http.RoundTripper
	logger hclog.Logger
}

func (t *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return nil, err
	}
	t.logger.Debug("request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode,
		"request_id", req.Header.Get(httpclient.RequestIDHeader))
	return resp, nil
}

// credentials 从参数读取邮箱密码，缺失时从标准输入提示输入。
func credentials(c *cli.Context) (string, string, error) {
	email := strings.TrimSpace(c.String("email"))
	password := c.String("password")
	reader := bufio.NewReader(c.App.Reader)
	if email == "" {
		fmt.Fprint(c.App.Writer, "Email: ")
		email = readLine(reader)
	}
	if password == "" {
		fmt.Fprint(c.App.Writer, "Password: ")
		password = readLine(reader)
	}
	if email == "" || password == "" {
		return "", "", auth.ErrMissingCredentials
	}
	return email, password, nil
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

// loggedIn 登录后返回客户端，供需要会话的命令使用。
func loggedIn(c *cli.Context) (*appState, error) {
	rt := getState(c)
	if rt == nil {
		return nil, errors.New("pingspot: 运行环境未初始化")
	}
	email, password, err := credentials(c)
	if err != nil {
		return nil, err
	}
	if _, err := rt.client.Login(c.Context, email, password); err != nil {
		return nil, err
	}
	return rt, nil
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "登录并显示会话信息",
		Action: func(c *cli.Context) error {
			rt, err := loggedIn(c)
			if err != nil {
				return err
			}
			session, err := rt.client.Session()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "登录成功，access token: %s\n", mask(session.AccessToken))
			return nil
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "注册新账号",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Required: true, Usage: "用户名"},
			&cli.StringFlag{Name: "full-name", Required: true, Usage: "姓名"},
			&cli.StringFlag{Name: "phone", Usage: "手机号"},
		},
		Action: func(c *cli.Context) error {
			rt := getState(c)
			email, password, err := credentials(c)
			if err != nil {
				return err
			}
			msg, err := rt.client.Register(c.Context, auth.RegisterRequest{
				Username: c.String("username"),
				Email:    email,
				Password: password,
				FullName: c.String("full-name"),
				Phone:    c.String("phone"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, msg)
			return nil
		},
	}
}

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "登录后获取个人资料",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "concurrency", Value: 1, Usage: "并发请求数"},
		},
		Action: func(c *cli.Context) error {
			rt, err := loggedIn(c)
			if err != nil {
				return err
			}
			n := c.Int("concurrency")
			if n < 1 {
				n = 1
			}
			profiles, err := fetchProfiles(c.Context, rt.client, n)
			if err != nil {
				return err
			}
			p := profiles[0]
			fmt.Fprintf(c.App.Writer, "%s (%s) <%s>\n", p.FullName, p.Username, p.Email)
			if n > 1 {
				fmt.Fprintf(c.App.Writer, "%d 个并发请求全部成功\n", n)
			}
			return nil
		},
	}
}

func fetchProfiles(ctx context.Context, client *pingspot.Client, n int) ([]*pingspot.Profile, error) {
	profiles := make([]*pingspot.Profile, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], errs[i] = client.Profile(ctx)
		}(i)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return profiles, nil
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "登录后主动续期 access token",
		Action: func(c *cli.Context) error {
			rt, err := loggedIn(c)
			if err != nil {
				return err
			}
			if err := rt.client.Refresh(c.Context); err != nil {
				return err
			}
			session, err := rt.client.Session()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "续期成功，access token: %s\n", mask(session.AccessToken))
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "登录后立即注销",
		Action: func(c *cli.Context) error {
			rt, err := loggedIn(c)
			if err != nil {
				return err
			}
			if err := rt.client.Logout(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "已注销")
			return nil
		},
	}
}

// mask 只保留 token 首尾各 4 个字符。
func mask(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}
