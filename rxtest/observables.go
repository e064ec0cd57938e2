// Test observables for rxcore
// 测试用的冷/热Observable：按虚拟时间发射预设的通知
package rxtest

import (
	"math"
	"sync"
	"time"

	"github.com/xinjiayu/rxcore"
)

// Active 尚未取消的订阅
const Active = time.Duration(math.MaxInt64)

// Subscription is the virtual-time interval during which an observer was
// attached to a test observable.
type Subscription struct {
	Subscribed   time.Duration
	Unsubscribed time.Duration
}

type subscriptionLog struct {
	scheduler *rxcore.VirtualTimeScheduler
	mu        sync.Mutex
	entries   []Subscription
}

func (l *subscriptionLog) open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Subscription{Subscribed: l.scheduler.Clock(), Unsubscribed: Active})
	return len(l.entries) - 1
}

func (l *subscriptionLog) close(i int) {
	at := l.scheduler.Clock()
	l.mu.Lock()
	l.entries[i].Unsubscribed = at
	l.mu.Unlock()
}

// Subscriptions returns a snapshot of the recorded subscription intervals.
func (l *subscriptionLog) Subscriptions() []Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]Subscription, len(l.entries))
	copy(cp, l.entries)
	return cp
}

// ColdObservable 冷Observable，每个订阅者都从订阅时刻开始收到全部通知
type ColdObservable[T any] struct {
	subscriptionLog
	messages []Notification[T]
}

// NewColdObservable constructs an observable whose messages are due
// at subscribe time + message.At, independently for every subscriber.
func NewColdObservable[T any](scheduler *rxcore.VirtualTimeScheduler, messages ...Notification[T]) *ColdObservable[T] {
	return &ColdObservable[T]{
		subscriptionLog: subscriptionLog{scheduler: scheduler},
		messages:        messages,
	}
}

func (o *ColdObservable[T]) Subscribe(observer rxcore.Observer[T]) rxcore.Disposable {
	i := o.open()
	pending := rxcore.NewCompositeDisposable()
	for _, msg := range o.messages {
		pending.Add(o.scheduler.ScheduleAfter(msg.At, func() { msg.Deliver(observer) }))
	}
	return rxcore.NewDisposable(func() {
		o.close(i)
		pending.Dispose()
	})
}

// HotObservable 热Observable，在绝对虚拟时间发射，与是否有订阅者无关
type HotObservable[T any] struct {
	subscriptionLog
	subject *rxcore.PublishSubject[T]
}

// NewHotObservable schedules every message at its absolute virtual time.
func NewHotObservable[T any](scheduler *rxcore.VirtualTimeScheduler, messages ...Notification[T]) *HotObservable[T] {
	o := &HotObservable[T]{
		subscriptionLog: subscriptionLog{scheduler: scheduler},
		subject:         rxcore.NewPublishSubject[T](),
	}
	for _, msg := range messages {
		scheduler.ScheduleAbsolute(msg.At, func() { msg.Deliver(o.subject) })
	}
	return o
}

func (o *HotObservable[T]) Subscribe(observer rxcore.Observer[T]) rxcore.Disposable {
	i := o.open()
	inner := o.subject.Subscribe(observer)
	return rxcore.NewDisposable(func() {
		o.close(i)
		inner.Dispose()
	})
}
