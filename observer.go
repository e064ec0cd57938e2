// Observer helpers for rxcore
// 观察者辅助实现：回调观察者、安全观察者、重放闸门
package rxcore

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
)

// ============================================================================
// 回调观察者
// ============================================================================

// ObserverFuncs 由回调函数组成的观察者，nil回调被忽略
type ObserverFuncs[T any] struct {
	Next      func(value T)
	Error     func(err error)
	Completed func()
}

// OnNext 处理下一个值
func (o ObserverFuncs[T]) OnNext(value T) {
	if o.Next != nil {
		o.Next(value)
	}
}

// OnError 处理错误
func (o ObserverFuncs[T]) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// OnCompleted 处理完成
func (o ObserverFuncs[T]) OnCompleted() {
	if o.Completed != nil {
		o.Completed()
	}
}

// NewObserver 使用回调函数创建观察者
func NewObserver[T any](onNext func(T), onError func(error), onCompleted func()) Observer[T] {
	return &ObserverFuncs[T]{Next: onNext, Error: onError, Completed: onCompleted}
}

// SubscribeFuncs 使用回调函数订阅
func SubscribeFuncs[T any](source Observable[T], onNext func(T), onError func(error), onCompleted func()) Disposable {
	return source.Subscribe(NewObserver(onNext, onError, onCompleted))
}

// mustObserver 校验观察者参数
func mustObserver[T any](observer Observer[T]) {
	if observer == nil {
		panic(errors.NotValidf("nil observer"))
	}
}

// ============================================================================
// 安全观察者
// ============================================================================

// safeObserver 保证终止通知最多一次，终止后丢弃后续调用
type safeObserver[T any] struct {
	inner   Observer[T]
	stopped atomic.Bool
	onStop  func()
}

// AsSafe 包装观察者，保证OnError/OnCompleted最多一次且之后不再有通知
func AsSafe[T any](observer Observer[T]) Observer[T] {
	mustObserver(observer)
	if so, ok := observer.(*safeObserver[T]); ok {
		return so
	}
	return &safeObserver[T]{inner: observer}
}

func (o *safeObserver[T]) OnNext(value T) {
	if o.stopped.Load() {
		return
	}
	o.inner.OnNext(value)
}

func (o *safeObserver[T]) OnError(err error) {
	if !o.stopped.CompareAndSwap(false, true) {
		return
	}
	defer o.stop()
	o.inner.OnError(err)
}

func (o *safeObserver[T]) OnCompleted() {
	if !o.stopped.CompareAndSwap(false, true) {
		return
	}
	defer o.stop()
	o.inner.OnCompleted()
}

func (o *safeObserver[T]) stop() {
	if o.onStop != nil {
		o.onStop()
	}
}

// ============================================================================
// 通知投递
// ============================================================================

type notificationKind int

const (
	kindNext notificationKind = iota
	kindError
	kindCompleted
)

type notification[T any] struct {
	kind  notificationKind
	value T
	err   error
}

// deliver 向单个观察者投递通知，回调panic被上报并隔离
func deliver[T any](source string, observer Observer[T], n notification[T]) {
	guard(ObserverFault, source, func() {
		switch n.kind {
		case kindNext:
			observer.OnNext(n.value)
		case kindError:
			observer.OnError(n.err)
		case kindCompleted:
			observer.OnCompleted()
		}
	})
}

// broadcast 按注册顺序向快照中的观察者投递
func broadcast[T any](source string, observers []Observer[T], n notification[T]) {
	for _, observer := range observers {
		deliver(source, observer, n)
	}
}

// ============================================================================
// 重放闸门
// ============================================================================

// gatedObserver 在初始重放期间缓存实时通知，重放结束后按序补发
type gatedObserver[T any] struct {
	source    string
	inner     Observer[T]
	mu        sync.Mutex
	open      bool
	pending   []notification[T]
	cancelled atomic.Bool
}

func newGatedObserver[T any](source string, inner Observer[T]) *gatedObserver[T] {
	return &gatedObserver[T]{source: source, inner: inner}
}

// cancel 取消订阅后不再投递排队中的通知
func (g *gatedObserver[T]) cancel() {
	g.cancelled.Store(true)
}

func (g *gatedObserver[T]) emit(n notification[T]) {
	if g.cancelled.Load() {
		return
	}
	deliver(g.source, g.inner, n)
}

func (g *gatedObserver[T]) push(n notification[T]) {
	g.mu.Lock()
	if !g.open {
		g.pending = append(g.pending, n)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.emit(n)
}

func (g *gatedObserver[T]) OnNext(value T) {
	g.push(notification[T]{kind: kindNext, value: value})
}

func (g *gatedObserver[T]) OnError(err error) {
	g.push(notification[T]{kind: kindError, err: err})
}

func (g *gatedObserver[T]) OnCompleted() {
	g.push(notification[T]{kind: kindCompleted})
}

// release 投递初始值，然后补发排队的实时通知并打开闸门
func (g *gatedObserver[T]) release(initial []notification[T]) {
	for _, n := range initial {
		g.emit(n)
	}
	for {
		g.mu.Lock()
		if len(g.pending) == 0 {
			g.open = true
			g.mu.Unlock()
			return
		}
		batch := g.pending
		g.pending = nil
		g.mu.Unlock()

		for _, n := range batch {
			g.emit(n)
		}
	}
}
