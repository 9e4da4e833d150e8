package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dnslin/pingspot-client/core/logging"
)

// DefaultRenewTimeout 与服务端 refresh-token 路由的超时预算一致。
const DefaultRenewTimeout = 8 * time.Second

// Renewer 调用认证端点续期凭证，新凭证由传输层（CookieJar/会话存储）负责保存。
type Renewer interface {
	Renew(ctx context.Context) error
}

// RenewerFunc 将函数适配为 Renewer。
type RenewerFunc func(ctx context.Context) error

func (f RenewerFunc) Renew(ctx context.Context) error {
	return f(ctx)
}

// TeardownHook 在续期失败后调用，通知系统凭证已永久失效。
type TeardownHook func()

// Config 配置协调器。RenewTimeout 为 0 时续期不设超时。
type Config struct {
	Renewer      Renewer
	Teardown     TeardownHook
	RenewTimeout time.Duration
	Logger       logging.Logger
	Observer     Observer
}

// DefaultConfig 返回带默认续期超时的配置。
func DefaultConfig() Config {
	return Config{RenewTimeout: DefaultRenewTimeout}
}

type waiter struct {
	seq  uint64
	done chan error
}

// Coordinator 保证同一时刻最多一次续期调用，其余过期请求登记为等待者共享结果。
// 每个传输实例持有一个协调器。
type Coordinator struct {
	renewer  Renewer
	teardown TeardownHook
	timeout  time.Duration
	logger   logging.Logger
	observer Observer

	mu         sync.Mutex
	refreshing bool
	waiters    []*waiter
	seq        uint64
	// epoch 在每轮续期结束时递增，lastErr 为最近一轮的结果。
	epoch   uint64
	lastErr error
}

// NewCoordinator 创建协调器。
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		renewer:  cfg.Renewer,
		teardown: cfg.Teardown,
		timeout:  cfg.RenewTimeout,
		logger:   logging.OrNop(cfg.Logger),
		observer: cfg.Observer,
	}
	if c.observer == nil {
		c.observer = NopObserver{}
	}
	return c
}

// Epoch 返回已结束的续期轮次数。请求发送前记录该值，收到过期响应后传给 Await。
func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Refreshing 报告是否有续期正在进行。
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Pending 返回当前排队的等待者数量。
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Await 等待凭证续期结果，返回 nil 表示可以重放请求。
//
// epoch 是请求发送前的轮次：若此后已有一轮续期结束，直接沿用该轮结果，不再发起新的续期。
// 否则登记为等待者；若当前空闲，由本次调用触发续期，ctx 已取消时不触发。
// ctx 取消时提前返回 ctx.Err()，已登记的位置仍会在本轮结束时被释放。
func (c *Coordinator) Await(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	if epoch < c.epoch {
		err := c.lastErr
		c.mu.Unlock()
		c.logger.Debugf("refresh: 请求发出后续期已结束(epoch=%d)，沿用结果: %v", epoch, err)
		return err
	}
	if err := ctx.Err(); err != nil && !c.refreshing {
		c.mu.Unlock()
		return err
	}
	c.seq++
	w := &waiter{seq: c.seq, done: make(chan error, 1)}
	c.waiters = append(c.waiters, w)
	if !c.refreshing {
		c.refreshing = true
		go c.renew(context.WithoutCancel(ctx))
	} else {
		c.logger.Debugf("refresh: 续期进行中，登记等待者 #%d", w.seq)
	}
	c.mu.Unlock()

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh 主动续期，与正在进行的续期共享同一结果。
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.Await(ctx, c.Epoch())
}

func (c *Coordinator) renew(ctx context.Context) {
	start := time.Now()
	c.observer.RenewalStarted()
	c.logger.Debugf("refresh: 开始续期")

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var result error
	if err := c.callRenewer(ctx); err != nil {
		result = renewalFailed(err)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.epoch++
	c.lastErr = result
	c.mu.Unlock()

	c.observer.RenewalFinished(time.Since(start), result, len(waiters))
	if result != nil {
		c.logger.Errorf("refresh: 续期失败，%d 个请求将收到失败: %v", len(waiters), result)
		c.callTeardown()
	} else {
		c.logger.Debugf("refresh: 续期成功，放行 %d 个请求", len(waiters))
	}
	for _, w := range waiters {
		c.observer.WaiterReleased(w.seq, result)
		w.done <- result
	}
}

func (c *Coordinator) callRenewer(ctx context.Context) (err error) {
	if c.renewer == nil {
		return ErrRenewerNil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh: 续期器 panic: %v", r)
		}
	}()
	return c.renewer.Renew(ctx)
}

func (c *Coordinator) callTeardown() {
	if c.teardown == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("refresh: 会话清理 panic: %v", r)
		}
	}()
	c.teardown()
}
