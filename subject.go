// Subject implementations for rxcore
// 实现Subject系统，包括PublishSubject、AsyncSubject以及共享的观察者表
package rxcore

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ============================================================================
// subjectCore - 共享的观察者表与终止状态
// ============================================================================

type terminalState int

const (
	stateLive terminalState = iota
	stateCompleted
	stateErrored
)

// subjectCore 所有Subject共享的状态，字段均由mu保护
type subjectCore[T any] struct {
	name      string
	mu        sync.Mutex
	observers *orderedmap.OrderedMap[uint64, Observer[T]]
	nextID    uint64
	state     terminalState
	err       error
	disposed  bool
}

func (c *subjectCore[T]) init(name string) {
	c.name = name
	c.observers = orderedmap.New[uint64, Observer[T]]()
}

// acceptingLocked 是否仍接受通知
func (c *subjectCore[T]) acceptingLocked() bool {
	return !c.disposed && c.state == stateLive
}

// snapshotLocked 复制当前观察者，按注册顺序
func (c *subjectCore[T]) snapshotLocked() []Observer[T] {
	if c.observers.Len() == 0 {
		return nil
	}
	observers := make([]Observer[T], 0, c.observers.Len())
	for pair := c.observers.Oldest(); pair != nil; pair = pair.Next() {
		observers = append(observers, pair.Value)
	}
	return observers
}

// terminateLocked 设置终止状态，返回并清空观察者
func (c *subjectCore[T]) terminateLocked(state terminalState, err error) []Observer[T] {
	c.state = state
	c.err = err
	observers := c.snapshotLocked()
	c.observers = orderedmap.New[uint64, Observer[T]]()
	return observers
}

// addLocked 注册观察者，返回只移除这一次注册的Disposable
func (c *subjectCore[T]) addLocked(observer Observer[T], onRemove func()) Disposable {
	c.nextID++
	id := c.nextID
	c.observers.Set(id, observer)

	return NewDisposable(func() {
		c.mu.Lock()
		c.observers.Delete(id)
		c.mu.Unlock()
		if onRemove != nil {
			onRemove()
		}
	})
}

// terminalLocked 对已终止的Subject，返回需要同步投递给新观察者的通知
func (c *subjectCore[T]) terminalLocked() (notification[T], bool) {
	switch c.state {
	case stateErrored:
		return notification[T]{kind: kindError, err: c.err}, true
	case stateCompleted:
		return notification[T]{kind: kindCompleted}, true
	default:
		return notification[T]{}, false
	}
}

// HasObservers 检查是否有观察者
func (c *subjectCore[T]) HasObservers() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observers.Len() > 0
}

// ObserverCount 获取观察者数量
func (c *subjectCore[T]) ObserverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observers.Len()
}

// IsDisposed 检查是否已释放
func (c *subjectCore[T]) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// disposeLocked 释放Subject：清空观察者，之后的通知全部忽略
func (c *subjectCore[T]) disposeLocked() bool {
	if c.disposed {
		return false
	}
	c.disposed = true
	c.observers = orderedmap.New[uint64, Observer[T]]()
	return true
}

// ============================================================================
// PublishSubject - 发布主题
// ============================================================================

// PublishSubject 发布主题，只向当前订阅者发送新的值
type PublishSubject[T any] struct {
	subjectCore[T]
}

var _ Subject[int] = (*PublishSubject[int])(nil)

// NewPublishSubject 创建新的发布主题
func NewPublishSubject[T any]() *PublishSubject[T] {
	s := &PublishSubject[T]{}
	s.init("PublishSubject")
	return s
}

// Subscribe 订阅观察者；已终止时同步投递终止通知并返回惰性Disposable
func (s *PublishSubject[T]) Subscribe(observer Observer[T]) Disposable {
	mustObserver(observer)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return Disposed()
	}
	if n, terminated := s.terminalLocked(); terminated {
		s.mu.Unlock()
		deliver(s.name+".Subscribe", observer, n)
		return Disposed()
	}
	token := s.addLocked(observer, nil)
	s.mu.Unlock()

	return token
}

// OnNext 发送下一个值
func (s *PublishSubject[T]) OnNext(value T) {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.snapshotLocked()
	s.mu.Unlock()

	broadcast(s.name+".OnNext", observers, notification[T]{kind: kindNext, value: value})
}

// OnError 发送错误，只有第一次终止生效
func (s *PublishSubject[T]) OnError(err error) {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.terminateLocked(stateErrored, err)
	s.mu.Unlock()

	broadcast(s.name+".OnError", observers, notification[T]{kind: kindError, err: err})
}

// OnCompleted 发送完成信号，只有第一次终止生效
func (s *PublishSubject[T]) OnCompleted() {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.terminateLocked(stateCompleted, nil)
	s.mu.Unlock()

	broadcast(s.name+".OnCompleted", observers, notification[T]{kind: kindCompleted})
}

// Dispose 释放资源
func (s *PublishSubject[T]) Dispose() {
	s.mu.Lock()
	s.disposeLocked()
	s.mu.Unlock()
}

// ============================================================================
// AsyncSubject - 异步主题
// ============================================================================

// AsyncSubject 异步主题，只在完成时发送最后一个值
type AsyncSubject[T any] struct {
	subjectCore[T]
	lastValue T
	hasValue  bool
}

var _ Subject[int] = (*AsyncSubject[int])(nil)

// NewAsyncSubject 创建新的异步主题
func NewAsyncSubject[T any]() *AsyncSubject[T] {
	s := &AsyncSubject[T]{}
	s.init("AsyncSubject")
	return s
}

// Subscribe 订阅观察者；已完成时同步投递最后一个值和完成信号
func (s *AsyncSubject[T]) Subscribe(observer Observer[T]) Disposable {
	mustObserver(observer)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return Disposed()
	}
	if n, terminated := s.terminalLocked(); terminated {
		last, has := s.lastValue, s.hasValue && s.state == stateCompleted
		s.mu.Unlock()
		if has {
			deliver(s.name+".Subscribe", observer, notification[T]{kind: kindNext, value: last})
		}
		deliver(s.name+".Subscribe", observer, n)
		return Disposed()
	}
	token := s.addLocked(observer, nil)
	s.mu.Unlock()

	return token
}

// OnNext 记录最后一个值但不立即发送
func (s *AsyncSubject[T]) OnNext(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acceptingLocked() {
		return
	}
	s.lastValue = value
	s.hasValue = true
}

// OnError 发送错误
func (s *AsyncSubject[T]) OnError(err error) {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.terminateLocked(stateErrored, err)
	s.mu.Unlock()

	broadcast(s.name+".OnError", observers, notification[T]{kind: kindError, err: err})
}

// OnCompleted 发送最后一个值然后完成
func (s *AsyncSubject[T]) OnCompleted() {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.terminateLocked(stateCompleted, nil)
	last, has := s.lastValue, s.hasValue
	s.mu.Unlock()

	for _, observer := range observers {
		if has {
			deliver(s.name+".OnCompleted", observer, notification[T]{kind: kindNext, value: last})
		}
		deliver(s.name+".OnCompleted", observer, notification[T]{kind: kindCompleted})
	}
}

// Dispose 释放资源
func (s *AsyncSubject[T]) Dispose() {
	s.mu.Lock()
	if s.disposeLocked() {
		var zero T
		s.lastValue = zero
		s.hasValue = false
	}
	s.mu.Unlock()
}
