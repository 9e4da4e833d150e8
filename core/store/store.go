package store

import (
	"reflect"
	"sync"

	coreerrors "github.com/dnslin/pingspot-client/core/errors"
)

// ErrNotFound 表示存储中尚无会话。
var ErrNotFound = coreerrors.New(coreerrors.ErrCodeNotFound, "store: 未找到会话")

// SessionStore 抽象会话存储，由业务方约定具体 Session 结构体。
type SessionStore[T any] interface {
	SaveSession(session T) error
	LoadSession() (T, error)
	ClearSession() error
}

// Cloner 由会话类型实现，MemoryStore 读写时会返回副本。
type Cloner[T any] interface {
	Clone() T
}

// MemoryStore 内存会话存储，进程退出即丢失。
type MemoryStore[T any] struct {
	mu         sync.RWMutex
	session    T
	hasSession bool
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{}
}

func (m *MemoryStore[T]) SaveSession(session T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isNil(session) {
		m.reset()
		return nil
	}
	m.session = clone(session)
	m.hasSession = true
	return nil
}

func (m *MemoryStore[T]) LoadSession() (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasSession {
		var zero T
		return zero, ErrNotFound
	}
	return clone(m.session), nil
}

func (m *MemoryStore[T]) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

func (m *MemoryStore[T]) reset() {
	var zero T
	m.session = zero
	m.hasSession = false
}

func clone[T any](session T) T {
	if c, ok := any(session).(Cloner[T]); ok {
		return c.Clone()
	}
	return session
}

// isNil 识别 nil 指针，SaveSession(nil) 等价于清空。
func isNil[T any](session T) bool {
	v := reflect.ValueOf(any(session))
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

var _ SessionStore[struct{}] = (*MemoryStore[struct{}])(nil)
