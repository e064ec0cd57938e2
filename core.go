// Package rxcore provides the core primitives of a push-based reactive runtime
// 响应式流运行时核心：Observable/Observer、Subject、可释放资源与调度器
package rxcore

import (
	"time"
)

// ============================================================================
// 核心类型定义
// ============================================================================

// Observer 观察者，接收推送的通知
//
// OnError或OnCompleted之后，行为良好的生产者不会再调用该观察者。
type Observer[T any] interface {
	// OnNext 处理下一个值
	OnNext(value T)
	// OnError 处理错误，终止流
	OnError(err error)
	// OnCompleted 处理完成，终止流
	OnCompleted()
}

// Observable 可观察序列
type Observable[T any] interface {
	// Subscribe 订阅观察者，返回用于取消订阅的Disposable
	Subscribe(observer Observer[T]) Disposable
}

// Subject 既是Observer又是Observable，向多个观察者多播
type Subject[T any] interface {
	Observer[T]
	Observable[T]
	Disposable

	// HasObservers 检查是否有观察者
	HasObservers() bool
	// ObserverCount 获取观察者数量
	ObserverCount() int
}

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源，可重复调用
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，控制任务执行时机
type Scheduler interface {
	// Now 调度器的逻辑时钟
	Now() time.Time
	// Schedule 立即调度一个任务
	Schedule(action func()) Disposable
	// ScheduleAfter 在Now()+due之后调度任务，due<=0视为立即
	ScheduleAfter(due time.Duration, action func()) Disposable
	// SchedulePeriodic 周期调度任务，period必须为正
	SchedulePeriodic(period time.Duration, action func()) Disposable
}
