// Pool scheduler for rxcore
// 线程池调度器：固定数量的worker goroutine执行任务
package rxcore

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"
)

// poolTask 排队中的任务，开始执行前可取消
type poolTask struct {
	action    func()
	cancelled atomic.Bool
}

// PoolScheduler 使用固定大小的goroutine池执行任务
type PoolScheduler struct {
	clockBase
	workers int
	tasks   chan *poolTask
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	closed  atomic.Bool
}

var _ Scheduler = (*PoolScheduler)(nil)

// NewPoolScheduler 创建线程池调度器，workers<=0时使用CPU数量
func NewPoolScheduler(ctx context.Context, clk clock.Clock, workers int) *PoolScheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	s := &PoolScheduler{
		workers: workers,
		tasks:   make(chan *poolTask, workers*2), // 缓冲区大小为worker数量的2倍
		ctx:     gctx,
		cancel:  cancel,
		group:   group,
	}
	s.clockBase = clockBase{name: "PoolScheduler", clock: clk, dispatch: s.submit}

	for i := 0; i < workers; i++ {
		group.Go(s.worker)
	}
	return s
}

// worker 工作goroutine
func (s *PoolScheduler) worker() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case task := <-s.tasks:
			if !task.cancelled.Load() {
				runAction(s.name, task.action)
			}
		}
	}
}

// submit 提交任务；队列满时由辅助goroutine等待入队，调用者不阻塞
func (s *PoolScheduler) submit(action func()) Disposable {
	if s.closed.Load() {
		return Disposed()
	}

	task := &poolTask{action: action}
	select {
	case s.tasks <- task:
	default:
		go func() {
			select {
			case s.tasks <- task:
			case <-s.ctx.Done():
			}
		}()
	}
	return NewDisposable(func() { task.cancelled.Store(true) })
}

// Workers worker数量
func (s *PoolScheduler) Workers() int {
	return s.workers
}

// Schedule 在线程池中执行任务
func (s *PoolScheduler) Schedule(action func()) Disposable {
	return s.submit(action)
}

// ScheduleAfter 延迟在线程池中执行任务
func (s *PoolScheduler) ScheduleAfter(due time.Duration, action func()) Disposable {
	return s.after(due, action)
}

// SchedulePeriodic 周期在线程池中执行任务
func (s *PoolScheduler) SchedulePeriodic(period time.Duration, action func()) Disposable {
	return s.periodic(period, action)
}

// Close 停止所有worker并等待其退出，排队中的任务被丢弃
func (s *PoolScheduler) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	return errors.Trace(s.group.Wait())
}
