// Observable implementation for rxcore
// 冷Observable的创建函数：每次订阅都会重新执行订阅逻辑
package rxcore

import (
	"time"
)

// ============================================================================
// Create 核心实现
// ============================================================================

// isolatedObserver 隔离下游回调中的panic，使其不被当作生产者错误
type isolatedObserver[T any] struct {
	inner Observer[T]
}

func (o isolatedObserver[T]) OnNext(value T) {
	deliver("Create.OnNext", o.inner, notification[T]{kind: kindNext, value: value})
}

func (o isolatedObserver[T]) OnError(err error) {
	deliver("Create.OnError", o.inner, notification[T]{kind: kindError, err: err})
}

func (o isolatedObserver[T]) OnCompleted() {
	deliver("Create.OnCompleted", o.inner, notification[T]{kind: kindCompleted})
}

// observableFunc 由订阅函数实现的Observable
type observableFunc[T any] struct {
	subscribe func(observer Observer[T]) Disposable
}

// Create 从订阅函数创建冷Observable
//
// 订阅函数中的panic会转换为OnError，不会从Subscribe中传播出去。
// 终止后，订阅函数返回的Disposable会被自动释放。
func Create[T any](subscribe func(observer Observer[T]) Disposable) Observable[T] {
	return &observableFunc[T]{subscribe: subscribe}
}

// Subscribe 订阅观察者
func (o *observableFunc[T]) Subscribe(observer Observer[T]) Disposable {
	mustObserver(observer)

	resource := NewSerialDisposable()
	safe := &safeObserver[T]{
		inner:  isolatedObserver[T]{inner: observer},
		onStop: resource.Dispose,
	}

	sub := &createSubscription[T]{observer: safe, resource: resource}
	var d Disposable
	if err := SafeExecute(func() { d = o.subscribe(safe) }); err != nil {
		safe.OnError(err)
		return sub
	}
	resource.Set(d)
	return sub
}

// createSubscription 取消订阅时先断开观察者，再释放生产者的资源
type createSubscription[T any] struct {
	observer *safeObserver[T]
	resource *SerialDisposable
}

func (s *createSubscription[T]) Dispose() {
	s.observer.stopped.Store(true)
	s.resource.Dispose()
}

func (s *createSubscription[T]) IsDisposed() bool {
	return s.resource.IsDisposed()
}

// ============================================================================
// 基础工厂函数
// ============================================================================

// Just 同步发射给定的值后完成
func Just[T any](values ...T) Observable[T] {
	return Create(func(observer Observer[T]) Disposable {
		for _, value := range values {
			observer.OnNext(value)
		}
		observer.OnCompleted()
		return nil
	})
}

// Empty 创建一个空的Observable，立即完成
func Empty[T any]() Observable[T] {
	return Create(func(observer Observer[T]) Disposable {
		observer.OnCompleted()
		return nil
	})
}

// Never 创建一个永不发射任何通知的Observable
func Never[T any]() Observable[T] {
	return Create(func(observer Observer[T]) Disposable {
		return nil
	})
}

// Throw 创建一个立即发射错误的Observable
func Throw[T any](err error) Observable[T] {
	return Create(func(observer Observer[T]) Disposable {
		observer.OnError(err)
		return nil
	})
}

// Start 每次订阅时计算一个值；返回的错误或panic都转为OnError
func Start[T any](fn func() (T, error)) Observable[T] {
	return Create(func(observer Observer[T]) Disposable {
		value, err := fn()
		if err != nil {
			observer.OnError(err)
			return nil
		}
		observer.OnNext(value)
		observer.OnCompleted()
		return nil
	})
}

// Defer 每次订阅时通过工厂创建新的Observable
func Defer[T any](factory func() Observable[T]) Observable[T] {
	return Create(func(observer Observer[T]) Disposable {
		return factory().Subscribe(observer)
	})
}

// ============================================================================
// 时间相关
// ============================================================================

// Interval 在指定调度器上每隔period发射递增的序号，从0开始
func Interval(scheduler Scheduler, period time.Duration) Observable[int64] {
	return Create(func(observer Observer[int64]) Disposable {
		return SchedulePeriodicWithState(scheduler, int64(0), period, func(tick int64) int64 {
			observer.OnNext(tick)
			return tick + 1
		})
	})
}

// Timer 在指定调度器上延迟due后发射0然后完成
func Timer(scheduler Scheduler, due time.Duration) Observable[int64] {
	return Create(func(observer Observer[int64]) Disposable {
		return scheduler.ScheduleAfter(due, func() {
			observer.OnNext(0)
			observer.OnCompleted()
		})
	})
}
