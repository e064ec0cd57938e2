// Scheduler implementations for rxcore
// 实现调度器系统，支持不同的执行策略，时间由注入的clock.Clock提供
package rxcore

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// ============================================================================
// 调度器辅助函数
// ============================================================================

// mustPeriod 校验周期参数
func mustPeriod(period time.Duration) {
	if period <= 0 {
		panic(errors.NotValidf("non-positive period %s", period))
	}
}

// runAction 执行调度任务，panic被上报
func runAction(source string, action func()) {
	guard(ScheduledActionFault, source, action)
}

// ScheduleWithState 立即调度一个带状态的任务
func ScheduleWithState[S any](scheduler Scheduler, state S, action func(S)) Disposable {
	return scheduler.Schedule(func() { action(state) })
}

// ScheduleAfterWithState 延迟调度一个带状态的任务
func ScheduleAfterWithState[S any](scheduler Scheduler, state S, due time.Duration, action func(S)) Disposable {
	return scheduler.ScheduleAfter(due, func() { action(state) })
}

// SchedulePeriodicWithState 周期调度，每次执行的返回值作为下一次的状态
func SchedulePeriodicWithState[S any](scheduler Scheduler, state S, period time.Duration, action func(S) S) Disposable {
	var mu sync.Mutex
	current := state
	return scheduler.SchedulePeriodic(period, func() {
		mu.Lock()
		defer mu.Unlock()
		current = action(current)
	})
}

// ScheduleWithContext 立即调度，ctx结束时取消；ctx已结束时不调度
func ScheduleWithContext(scheduler Scheduler, ctx context.Context, action func()) Disposable {
	return scheduleWithContext(ctx, scheduler.Schedule, action)
}

// ScheduleAfterWithContext 延迟调度，ctx结束时取消
func ScheduleAfterWithContext(scheduler Scheduler, ctx context.Context, due time.Duration, action func()) Disposable {
	return scheduleWithContext(ctx, func(run func()) Disposable {
		return scheduler.ScheduleAfter(due, run)
	}, action)
}

// scheduleWithContext 任务执行后或ctx结束后都会注销对ctx的监听
func scheduleWithContext(ctx context.Context, schedule func(func()) Disposable, action func()) Disposable {
	if ctx.Err() != nil {
		return Disposed()
	}

	task := NewCompositeDisposable()
	task.Add(schedule(func() {
		defer task.Dispose()
		if ctx.Err() != nil {
			return
		}
		action()
	}))
	stop := context.AfterFunc(ctx, task.Dispose)
	task.Add(NewDisposable(func() { stop() }))
	return task
}

// ============================================================================
// clockBase - 基于clock.Clock的延迟与周期调度
// ============================================================================

// clockBase 各实时调度器共享的计时逻辑
type clockBase struct {
	name     string
	clock    clock.Clock
	dispatch func(action func()) Disposable
}

// Now 当前时间
func (b *clockBase) Now() time.Time {
	return b.clock.Now()
}

// after 在due之后把任务交给dispatch
func (b *clockBase) after(due time.Duration, action func()) Disposable {
	if due <= 0 {
		return b.dispatch(action)
	}

	task := NewCompositeDisposable()
	timer := b.clock.AfterFunc(due, func() {
		if task.IsDisposed() {
			return
		}
		task.Add(b.dispatch(action))
	})
	task.Add(NewDisposable(func() { timer.Stop() }))
	return task
}

// periodic 周期调度：下一次到期时间基于上一次到期时间计算，不随执行延迟漂移
func (b *clockBase) periodic(period time.Duration, action func()) Disposable {
	mustPeriod(period)

	p := &periodicTask{base: b, period: period, action: action}
	p.mu.Lock()
	p.next = b.clock.Now().Add(period)
	p.timer = b.clock.AfterFunc(period, p.tick)
	p.mu.Unlock()

	return NewDisposable(p.stop)
}

type periodicTask struct {
	base     *clockBase
	period   time.Duration
	action   func()
	mu       sync.Mutex
	next     time.Time
	timer    clock.Timer
	inflight Disposable
	stopped  bool
}

func (p *periodicTask) tick() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	inflight := p.base.dispatch(p.action)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		inflight.Dispose()
		return
	}
	p.inflight = inflight
	p.next = p.next.Add(p.period)
	delay := p.next.Sub(p.base.clock.Now())
	if delay < 0 {
		delay = 0
	}
	p.timer = p.base.clock.AfterFunc(delay, p.tick)
}

func (p *periodicTask) stop() {
	p.mu.Lock()
	p.stopped = true
	timer, inflight := p.timer, p.inflight
	p.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	disposeSafely(inflight)
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// ImmediateScheduler 立即在当前goroutine中执行任务
type ImmediateScheduler struct {
	clockBase
}

var _ Scheduler = (*ImmediateScheduler)(nil)

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler(clk clock.Clock) *ImmediateScheduler {
	s := &ImmediateScheduler{}
	s.clockBase = clockBase{
		name:  "ImmediateScheduler",
		clock: clk,
		dispatch: func(action func()) Disposable {
			runAction("ImmediateScheduler", action)
			return Disposed()
		},
	}
	return s
}

// Schedule 立即同步执行任务
func (s *ImmediateScheduler) Schedule(action func()) Disposable {
	return s.dispatch(action)
}

// ScheduleAfter 延迟执行任务，在计时器的goroutine中执行
func (s *ImmediateScheduler) ScheduleAfter(due time.Duration, action func()) Disposable {
	return s.after(due, action)
}

// SchedulePeriodic 周期执行任务
func (s *ImmediateScheduler) SchedulePeriodic(period time.Duration, action func()) Disposable {
	return s.periodic(period, action)
}

// ============================================================================
// 蹦床调度器 - Trampoline Scheduler
// ============================================================================

// trampolineTask 排队中的任务
type trampolineTask struct {
	action    func()
	cancelled bool
}

// TrampolineScheduler 在调用者goroutine中按顺序执行任务，嵌套调度排在当前任务之后
type TrampolineScheduler struct {
	clockBase
	mu         sync.Mutex
	queue      []*trampolineTask
	processing bool
}

var _ Scheduler = (*TrampolineScheduler)(nil)

// NewTrampolineScheduler 创建蹦床调度器
func NewTrampolineScheduler(clk clock.Clock) *TrampolineScheduler {
	s := &TrampolineScheduler{}
	s.clockBase = clockBase{name: "TrampolineScheduler", clock: clk, dispatch: s.enqueue}
	return s
}

// enqueue 入队；当前没有goroutine在处理队列时由调用者处理
func (s *TrampolineScheduler) enqueue(action func()) Disposable {
	task := &trampolineTask{action: action}

	s.mu.Lock()
	s.queue = append(s.queue, task)
	if s.processing {
		s.mu.Unlock()
		return s.cancelFor(task)
	}
	s.processing = true
	s.mu.Unlock()

	s.processQueue()
	return s.cancelFor(task)
}

func (s *TrampolineScheduler) cancelFor(task *trampolineTask) Disposable {
	return NewDisposable(func() {
		s.mu.Lock()
		task.cancelled = true
		s.mu.Unlock()
	})
}

// processQueue 处理队列中的任务
func (s *TrampolineScheduler) processQueue() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		cancelled := task.cancelled
		s.mu.Unlock()

		if !cancelled {
			runAction(s.name, task.action)
		}
	}
}

// Schedule 在当前goroutine中调度任务
func (s *TrampolineScheduler) Schedule(action func()) Disposable {
	return s.enqueue(action)
}

// ScheduleAfter 延迟调度任务
func (s *TrampolineScheduler) ScheduleAfter(due time.Duration, action func()) Disposable {
	return s.after(due, action)
}

// SchedulePeriodic 周期调度任务
func (s *TrampolineScheduler) SchedulePeriodic(period time.Duration, action func()) Disposable {
	return s.periodic(period, action)
}

// ============================================================================
// goroutine调度器 - Goroutine Scheduler
// ============================================================================

// GoroutineScheduler 为每个任务创建新的goroutine
type GoroutineScheduler struct {
	clockBase
}

var _ Scheduler = (*GoroutineScheduler)(nil)

// NewGoroutineScheduler 创建goroutine调度器
func NewGoroutineScheduler(clk clock.Clock) *GoroutineScheduler {
	s := &GoroutineScheduler{}
	s.clockBase = clockBase{
		name:  "GoroutineScheduler",
		clock: clk,
		dispatch: func(action func()) Disposable {
			runAction("GoroutineScheduler", action)
			return Disposed()
		},
	}
	return s
}

// Schedule 在新goroutine中执行任务，开始执行前释放可阻止执行
func (s *GoroutineScheduler) Schedule(action func()) Disposable {
	d := NewDisposable(nil)
	go func() {
		if d.IsDisposed() {
			return
		}
		runAction(s.name, action)
	}()
	return d
}

// ScheduleAfter 延迟执行任务，在计时器的goroutine中执行
func (s *GoroutineScheduler) ScheduleAfter(due time.Duration, action func()) Disposable {
	if due <= 0 {
		return s.Schedule(action)
	}
	return s.after(due, action)
}

// SchedulePeriodic 周期执行任务
func (s *GoroutineScheduler) SchedulePeriodic(period time.Duration, action func()) Disposable {
	return s.periodic(period, action)
}

// ============================================================================
// 默认调度器
// ============================================================================

// DefaultScheduler 便捷工厂：基于系统时钟的goroutine调度器，每次调用返回新实例
func DefaultScheduler() Scheduler {
	return NewGoroutineScheduler(clock.WallClock)
}
