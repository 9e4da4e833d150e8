package refresh

import (
	"net/http"
	"time"
)

// Observer 接收协调器的状态事件，供指标与测试使用。回调在协调器 goroutine 上同步执行。
type Observer interface {
	RenewalStarted()
	RenewalFinished(elapsed time.Duration, err error, waiters int)
	// WaiterReleased 按放行顺序调用，seq 为等待者登记序号。
	WaiterReleased(seq uint64, err error)
	Replayed(resp *http.Response, err error)
}

// NopObserver 空实现。
type NopObserver struct{}

func (NopObserver) RenewalStarted() {}
func (NopObserver) RenewalFinished(time.Duration, error, int) {}
func (NopObserver) WaiterReleased(uint64, error) {}
func (NopObserver) Replayed(*http.Response, error) {}

var _ Observer = NopObserver{}
