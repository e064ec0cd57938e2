// ConnectableObservable implementation for rxcore
// 实现ConnectableObservable：通过一个Subject多播上游的单一订阅
package rxcore

import (
	"context"
	"sync"

	"github.com/fogfish/opts"
	"github.com/juju/errors"
)

// ============================================================================
// ConnectableObservable 实现
// ============================================================================

// ConnectableObservable 可连接的Observable，Connect之前订阅者收不到任何通知
type ConnectableObservable[T any] struct {
	source     Observable[T]
	factory    func() Subject[T]
	mu         sync.Mutex
	subject    Subject[T]
	connection *connection[T]
	disposed   bool
}

// Multicast 使用Subject工厂创建ConnectableObservable，Subject在首次需要时创建
func Multicast[T any](source Observable[T], factory func() Subject[T]) *ConnectableObservable[T] {
	if source == nil {
		panic(errors.NotValidf("nil source"))
	}
	if factory == nil {
		panic(errors.NotValidf("nil subject factory"))
	}
	return &ConnectableObservable[T]{source: source, factory: factory}
}

// Publish 通过PublishSubject多播
func Publish[T any](source Observable[T]) *ConnectableObservable[T] {
	return Multicast(source, func() Subject[T] { return NewPublishSubject[T]() })
}

// PublishBehavior 通过BehaviorSubject多播，订阅者先收到当前值
func PublishBehavior[T any](source Observable[T], initialValue T) *ConnectableObservable[T] {
	return Multicast(source, func() Subject[T] { return NewBehaviorSubject(initialValue) })
}

// PublishReplay 通过ReplaySubject多播，配置错误在这里返回
func PublishReplay[T any](source Observable[T], options ...opts.Option[replayConfig]) (*ConnectableObservable[T], error) {
	subject, err := NewReplaySubject[T](options...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Multicast(source, func() Subject[T] { return subject }), nil
}

// subjectLocked 惰性创建Subject
func (co *ConnectableObservable[T]) subjectLocked() Subject[T] {
	if co.subject == nil {
		co.subject = co.factory()
	}
	return co.subject
}

// Subscribe 订阅内部Subject
func (co *ConnectableObservable[T]) Subscribe(observer Observer[T]) Disposable {
	mustObserver(observer)

	co.mu.Lock()
	if co.disposed {
		co.mu.Unlock()
		return Disposed()
	}
	subject := co.subjectLocked()
	co.mu.Unlock()

	return subject.Subscribe(observer)
}

// Connect 让Subject订阅上游；已连接时返回同一个连接
func (co *ConnectableObservable[T]) Connect() Disposable {
	co.mu.Lock()
	if co.disposed {
		co.mu.Unlock()
		return Disposed()
	}
	if co.connection != nil {
		conn := co.connection
		co.mu.Unlock()
		return conn
	}
	subject := co.subjectLocked()
	conn := &connection[T]{parent: co, upstream: NewSerialDisposable()}
	co.connection = conn
	co.mu.Unlock()

	conn.upstream.Set(co.source.Subscribe(subject))
	return conn
}

// ConnectContext 连接，ctx结束时自动断开；ctx已结束时不连接
func (co *ConnectableObservable[T]) ConnectContext(ctx context.Context) Disposable {
	if ctx.Err() != nil {
		return Disposed()
	}
	conn := co.Connect()
	if conn.IsDisposed() {
		return conn
	}
	stop := context.AfterFunc(ctx, conn.Dispose)
	return &contextConnection{conn: conn, stop: stop}
}

// contextConnection 手动断开时同时注销对ctx的监听
type contextConnection struct {
	conn Disposable
	stop func() bool
}

func (c *contextConnection) Dispose() {
	c.stop()
	c.conn.Dispose()
}

func (c *contextConnection) IsDisposed() bool {
	return c.conn.IsDisposed()
}

// IsConnected 检查是否已连接
func (co *ConnectableObservable[T]) IsConnected() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.connection != nil
}

// IsDisposed 检查是否已释放
func (co *ConnectableObservable[T]) IsDisposed() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.disposed
}

// Dispose 断开连接并释放Subject；过程中的panic只上报不传播
func (co *ConnectableObservable[T]) Dispose() {
	co.mu.Lock()
	if co.disposed {
		co.mu.Unlock()
		return
	}
	co.disposed = true
	conn, subject := co.connection, co.subject
	co.connection = nil
	co.mu.Unlock()

	if conn != nil {
		guard(TeardownFault, "ConnectableObservable.Dispose", conn.Dispose)
	}
	if subject != nil {
		guard(TeardownFault, "ConnectableObservable.Dispose", subject.Dispose)
	}
}

// ============================================================================
// connection 连接句柄
// ============================================================================

// connection 上游订阅；释放后ConnectableObservable可以重新连接
type connection[T any] struct {
	parent   *ConnectableObservable[T]
	upstream *SerialDisposable
}

func (c *connection[T]) Dispose() {
	c.parent.mu.Lock()
	if c.parent.connection == c {
		c.parent.connection = nil
	}
	c.parent.mu.Unlock()

	guard(TeardownFault, "ConnectableObservable.connection", c.upstream.Dispose)
}

func (c *connection[T]) IsDisposed() bool {
	return c.upstream.IsDisposed()
}

// ============================================================================
// RefCount / AutoConnect
// ============================================================================

// refCountObservable 第一个订阅者到来时连接，最后一个离开时断开
type refCountObservable[T any] struct {
	parent *ConnectableObservable[T]
	mu     sync.Mutex
	count  int
	conn   Disposable
}

// RefCount 返回一个自动连接/断开的Observable
func (co *ConnectableObservable[T]) RefCount() Observable[T] {
	return &refCountObservable[T]{parent: co}
}

func (r *refCountObservable[T]) Subscribe(observer Observer[T]) Disposable {
	inner := r.parent.Subscribe(observer)

	r.mu.Lock()
	r.count++
	first := r.count == 1
	r.mu.Unlock()

	if first {
		conn := r.parent.Connect()
		r.mu.Lock()
		if r.count == 0 {
			r.mu.Unlock()
			disposeSafely(conn)
		} else {
			r.conn = conn
			r.mu.Unlock()
		}
	}

	return NewDisposable(func() {
		inner.Dispose()

		r.mu.Lock()
		r.count--
		var conn Disposable
		if r.count == 0 {
			conn, r.conn = r.conn, nil
		}
		r.mu.Unlock()

		disposeSafely(conn)
	})
}

// autoConnectObservable 订阅者数量达到阈值时连接一次，之后不再断开
type autoConnectObservable[T any] struct {
	parent    *ConnectableObservable[T]
	threshold int
	mu        sync.Mutex
	count     int
	onConnect func(Disposable)
}

// AutoConnect 当有指定数量的订阅者时自动连接；n<=0时立即连接
func (co *ConnectableObservable[T]) AutoConnect(n int, onConnect ...func(Disposable)) Observable[T] {
	callback := func(Disposable) {}
	if len(onConnect) > 0 && onConnect[0] != nil {
		callback = onConnect[0]
	}
	if n <= 0 {
		callback(co.Connect())
		return co
	}
	return &autoConnectObservable[T]{parent: co, threshold: n, onConnect: callback}
}

func (a *autoConnectObservable[T]) Subscribe(observer Observer[T]) Disposable {
	d := a.parent.Subscribe(observer)

	a.mu.Lock()
	a.count++
	reached := a.count == a.threshold
	a.mu.Unlock()

	if reached {
		a.onConnect(a.parent.Connect())
	}
	return d
}
