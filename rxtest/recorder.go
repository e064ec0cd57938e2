// Recorder for rxcore tests
// 记录观察者：按虚拟时间记录收到的通知
package rxtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/xinjiayu/rxcore"
)

// Kind 通知类型
type Kind int

const (
	KindNext Kind = iota
	KindError
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindNext:
		return "OnNext"
	case KindError:
		return "OnError"
	case KindCompleted:
		return "OnCompleted"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Notification is a notification stamped with the virtual time it was
// observed (for recorders) or is due (for test observables).
type Notification[T any] struct {
	At    time.Duration
	Kind  Kind
	Value T
	Err   error
}

// OnNext builds a value notification at the given virtual time.
func OnNext[T any](at time.Duration, value T) Notification[T] {
	return Notification[T]{At: at, Kind: KindNext, Value: value}
}

// OnError builds an error notification at the given virtual time.
func OnError[T any](at time.Duration, err error) Notification[T] {
	return Notification[T]{At: at, Kind: KindError, Err: err}
}

// OnCompleted builds a completion notification at the given virtual time.
func OnCompleted[T any](at time.Duration) Notification[T] {
	return Notification[T]{At: at, Kind: KindCompleted}
}

// Deliver pushes the notification into observer.
func (n Notification[T]) Deliver(observer rxcore.Observer[T]) {
	switch n.Kind {
	case KindNext:
		observer.OnNext(n.Value)
	case KindError:
		observer.OnError(n.Err)
	case KindCompleted:
		observer.OnCompleted()
	}
}

// Recorder 记录观察者，每条通知都打上调度器的虚拟时间
//
// Recorder is an observer that records every notification with the
// scheduler's virtual clock.
//
// Recorder is safe under concurrent use.
type Recorder[T any] struct {
	scheduler     *rxcore.VirtualTimeScheduler
	mu            sync.Mutex
	notifications []Notification[T]
}

var _ rxcore.Observer[int] = (*Recorder[int])(nil)

// NewRecorder 创建记录观察者
func NewRecorder[T any](scheduler *rxcore.VirtualTimeScheduler) *Recorder[T] {
	return &Recorder[T]{scheduler: scheduler}
}

func (r *Recorder[T]) record(n Notification[T]) {
	if r.scheduler != nil {
		n.At = r.scheduler.Clock()
	}
	r.mu.Lock()
	r.notifications = append(r.notifications, n)
	r.mu.Unlock()
}

func (r *Recorder[T]) OnNext(value T) {
	r.record(Notification[T]{Kind: KindNext, Value: value})
}

func (r *Recorder[T]) OnError(err error) {
	r.record(Notification[T]{Kind: KindError, Err: err})
}

func (r *Recorder[T]) OnCompleted() {
	r.record(Notification[T]{Kind: KindCompleted})
}

// Notifications returns a snapshot copy of everything recorded.
func (r *Recorder[T]) Notifications() []Notification[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Notification[T], len(r.notifications))
	copy(cp, r.notifications)
	return cp
}

// Values returns the recorded OnNext values in order.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := make([]T, 0, len(r.notifications))
	for _, n := range r.notifications {
		if n.Kind == KindNext {
			values = append(values, n.Value)
		}
	}
	return values
}

// Completed reports whether OnCompleted was recorded.
func (r *Recorder[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.Kind == KindCompleted {
			return true
		}
	}
	return false
}

// Err returns the first recorded error, if any.
func (r *Recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.Kind == KindError {
			return n.Err
		}
	}
	return nil
}
