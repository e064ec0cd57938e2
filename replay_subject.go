// ReplaySubject implementation for rxcore
// 重放主题：按数量和/或时间窗口缓存历史值，新订阅者先收到缓存
package rxcore

import (
	"time"

	"github.com/fogfish/opts"
	"github.com/juju/errors"
)

const unbounded = -1

// replayConfig 重放主题配置
type replayConfig struct {
	bufferSize int
	window     time.Duration
	scheduler  Scheduler
}

// WithBufferSize 最多缓存n个值，n不能为负
func WithBufferSize(n int) opts.Option[replayConfig] {
	return opts.Type[replayConfig](func(c *replayConfig) error {
		if n < 0 {
			return errors.NotValidf("buffer size %d", n)
		}
		c.bufferSize = n
		return nil
	})
}

// WithWindow 只缓存最近window时间内的值，window不能为负
func WithWindow(window time.Duration) opts.Option[replayConfig] {
	return opts.Type[replayConfig](func(c *replayConfig) error {
		if window < 0 {
			return errors.NotValidf("replay window %s", window)
		}
		c.window = window
		return nil
	})
}

// WithReplayScheduler 计算值年龄使用的时钟
func WithReplayScheduler(scheduler Scheduler) opts.Option[replayConfig] {
	return opts.Type[replayConfig](func(c *replayConfig) error {
		if scheduler == nil {
			return errors.NotValidf("nil scheduler")
		}
		c.scheduler = scheduler
		return nil
	})
}

type replayEntry[T any] struct {
	value T
	at    time.Time
}

// ReplaySubject 重放主题，缓存指定数量或时间窗口内的值
type ReplaySubject[T any] struct {
	subjectCore[T]
	config replayConfig
	buffer []replayEntry[T]
}

var _ Subject[int] = (*ReplaySubject[int])(nil)

// NewReplaySubject 创建新的重放主题，默认不限数量也不限时间
func NewReplaySubject[T any](options ...opts.Option[replayConfig]) (*ReplaySubject[T], error) {
	config := replayConfig{
		bufferSize: unbounded,
		window:     unbounded,
	}
	if err := opts.Apply(&config, options); err != nil {
		return nil, errors.Trace(err)
	}
	if config.scheduler == nil {
		config.scheduler = DefaultScheduler()
	}

	s := &ReplaySubject[T]{config: config}
	s.init("ReplaySubject")
	return s, nil
}

// trimLocked 先按数量再按时间裁剪缓存
func (s *ReplaySubject[T]) trimLocked(now time.Time) {
	drop := 0
	if s.config.bufferSize != unbounded && len(s.buffer) > s.config.bufferSize {
		drop = len(s.buffer) - s.config.bufferSize
	}
	if s.config.window != unbounded {
		for drop < len(s.buffer) && now.Sub(s.buffer[drop].at) > s.config.window {
			drop++
		}
	}
	if drop == 0 {
		return
	}
	s.buffer = append(s.buffer[:0:0], s.buffer[drop:]...)
}

// replayLocked 复制缓存为待投递的通知
func (s *ReplaySubject[T]) replayLocked() []notification[T] {
	s.trimLocked(s.config.scheduler.Now())
	replay := make([]notification[T], 0, len(s.buffer)+1)
	for _, e := range s.buffer {
		replay = append(replay, notification[T]{kind: kindNext, value: e.value})
	}
	return replay
}

// Subscribe 订阅观察者，先同步重放缓存再接收实时通知
func (s *ReplaySubject[T]) Subscribe(observer Observer[T]) Disposable {
	mustObserver(observer)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return Disposed()
	}
	switch s.state {
	case stateErrored:
		err := s.err
		s.mu.Unlock()
		deliver(s.name+".Subscribe", observer, notification[T]{kind: kindError, err: err})
		return Disposed()
	case stateCompleted:
		replay := append(s.replayLocked(), notification[T]{kind: kindCompleted})
		s.mu.Unlock()
		for _, n := range replay {
			deliver(s.name+".Subscribe", observer, n)
		}
		return Disposed()
	}

	gate := newGatedObserver(s.name+".Subscribe", observer)
	token := s.addLocked(gate, gate.cancel)
	replay := s.replayLocked()
	s.mu.Unlock()

	gate.release(replay)
	return token
}

// OnNext 添加到缓存并发送给所有观察者
func (s *ReplaySubject[T]) OnNext(value T) {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	now := s.config.scheduler.Now()
	s.buffer = append(s.buffer, replayEntry[T]{value: value, at: now})
	s.trimLocked(now)
	observers := s.snapshotLocked()
	s.mu.Unlock()

	broadcast(s.name+".OnNext", observers, notification[T]{kind: kindNext, value: value})
}

// OnError 发送错误
func (s *ReplaySubject[T]) OnError(err error) {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.terminateLocked(stateErrored, err)
	s.mu.Unlock()

	broadcast(s.name+".OnError", observers, notification[T]{kind: kindError, err: err})
}

// OnCompleted 发送完成信号，缓存保留给之后的订阅者
func (s *ReplaySubject[T]) OnCompleted() {
	s.mu.Lock()
	if !s.acceptingLocked() {
		s.mu.Unlock()
		return
	}
	observers := s.terminateLocked(stateCompleted, nil)
	s.mu.Unlock()

	broadcast(s.name+".OnCompleted", observers, notification[T]{kind: kindCompleted})
}

// Snapshot 获取当前缓存的值
func (s *ReplaySubject[T]) Snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.disposed {
		s.trimLocked(s.config.scheduler.Now())
	}
	values := make([]T, len(s.buffer))
	for i, e := range s.buffer {
		values[i] = e.value
	}
	return values
}

// Dispose 释放资源并清空缓存
func (s *ReplaySubject[T]) Dispose() {
	s.mu.Lock()
	if s.disposeLocked() {
		s.buffer = nil
	}
	s.mu.Unlock()
}
