// BehaviorSubject implementation for rxcore
// 行为主题：保存当前值，新订阅者先同步收到当前值
package rxcore

// BehaviorSubject 行为主题，保存最后一个值，新订阅者会立即收到最后的值
type BehaviorSubject[T any] struct {
	subjectCore[T]
	currentValue T
}

var _ Subject[int] = (*BehaviorSubject[int])(nil)

// NewBehaviorSubject 创建新的行为主题
func NewBehaviorSubject[T any](initialValue T) *BehaviorSubject[T] {
	s := &BehaviorSubject[T]{currentValue: initialValue}
	s.init("BehaviorSubject")
	return s
}

// Subscribe 订阅观察者，先同步发送当前值再接收实时通知
func (s *BehaviorSubject[T]) Subscribe(observer Observer[T]) Disposable {
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

	gate := newGatedObserver(s.name+".Subscribe", observer)
	token := s.addLocked(gate, gate.cancel)
	current := s.currentValue
	s.mu.Unlock()

	gate.release([]notification[T]{{kind: kindNext, value: current}})
	return token
}

// OnNext 更新当前值并发送给所有观察者
func (s *BehaviorSubject[T]) OnNext(value T) {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	s.currentValue = value
	observers := s.snapshotLocked()
	s.mu.Unlock()

	broadcast(s.name+".OnNext", observers, notification[T]{kind: kindNext, value: value})
}

// OnError 发送错误
func (s *BehaviorSubject[T]) OnError(err error) {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.terminateLocked(stateErrored, err)
	s.mu.Unlock()

	broadcast(s.name+".OnError", observers, notification[T]{kind: kindError, err: err})
}

// OnCompleted 发送完成信号
func (s *BehaviorSubject[T]) OnCompleted() {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.terminateLocked(stateCompleted, nil)
	s.mu.Unlock()

	broadcast(s.name+".OnCompleted", observers, notification[T]{kind: kindCompleted})
}

// Value 获取当前值；出错后返回该错误，释放后返回ErrDisposed
func (s *BehaviorSubject[T]) Value() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	switch {
	case s.disposed:
		return zero, ErrDisposed
	case s.state == stateErrored:
		return zero, s.err
	default:
		return s.currentValue, nil
	}
}

// Dispose 释放资源
func (s *BehaviorSubject[T]) Dispose() {
	s.mu.Lock()
	if s.disposeLocked() {
		var zero T
		s.currentValue = zero
	}
	s.mu.Unlock()
}
