package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCoreErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(ErrCodeRenewalFailed, "refresh: 凭证续期失败")
	wrapped := Wrap(ErrCodeRenewalFailed, "refresh: 凭证续期失败", errors.New("status 401"))

	if !errors.Is(wrapped, sentinel) {
		t.Fatal("相同错误码应匹配 sentinel")
	}
	if errors.Is(wrapped, New(ErrCodeNotFound, "x")) {
		t.Fatal("不同错误码不应匹配")
	}
}

func TestCoreErrorUnwrap(t *testing.T) {
	raw := errors.New("dial tcp: refused")
	err := fmt.Errorf("外层: %w", Wrap(ErrCodeUnauthenticated, "", raw))
	if !errors.Is(err, raw) {
		t.Fatal("应可通过 errors.Is 找到底层错误")
	}
	if got := CodeOf(err); got != ErrCodeUnauthenticated {
		t.Fatalf("CodeOf 结果不正确，得到 %s", got)
	}
	if got := CodeOf(raw); got != ErrCodeUnknown {
		t.Fatalf("非 CoreError 应返回 UNKNOWN，得到 %s", got)
	}
}

func TestCoreErrorMessage(t *testing.T) {
	err := Wrap(ErrCodeRenewalFailed, "续期失败", errors.New("boom"))
	if got := err.Error(); got != "core: [RENEWAL_FAILED] 续期失败: boom" {
		t.Fatalf("错误信息不符合预期: %s", got)
	}
	var nilErr *CoreError
	if nilErr.Error() != "" {
		t.Fatal("nil CoreError 应返回空字符串")
	}
}
