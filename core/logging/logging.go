// Package logging 提供 core 层共享的日志接口与 hclog 适配。
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Logger 由外部注入，满足 core 层无输出原则。
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger 默认空日志实现。
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Errorf(string, ...any) {}

// OrNop 在 logger 为 nil 时返回 NopLogger。
func OrNop(logger Logger) Logger {
	if logger == nil {
		return NopLogger{}
	}
	return logger
}

// Options 描述 CLI 使用的 hclog 配置。
type Options struct {
	Name   string
	Level  string
	JSON   bool
	Output io.Writer
}

// New 按配置创建 hclog.Logger。
func New(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(strings.TrimSpace(opts.Level))
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		Output:     out,
		JSONFormat: opts.JSON,
	})
}

// HCLogger 将 hclog.Logger 适配为 Logger。
type HCLogger struct {
	l hclog.Logger
}

// NewHCLogger 包装 hclog.Logger，nil 时使用 hclog.NewNullLogger。
func NewHCLogger(l hclog.Logger) *HCLogger {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	return &HCLogger{l: l}
}

func (h *HCLogger) Debugf(format string, args ...any) {
	if !h.l.IsDebug() {
		return
	}
	h.l.Debug(fmt.Sprintf(format, args...))
}

func (h *HCLogger) Errorf(format string, args ...any) {
	h.l.Error(fmt.Sprintf(format, args...))
}

// Named 返回带子模块名的 Logger。
func (h *HCLogger) Named(name string) *HCLogger {
	return &HCLogger{l: h.l.Named(name)}
}
