// Virtual time scheduler for rxcore
// 虚拟时间调度器：手动推进的逻辑时钟，用于确定性地复现时间相关行为
package rxcore

import (
	"cmp"
	"container/heap"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fogfish/opts"
	"github.com/juju/errors"
)

// virtualConfig 虚拟时间调度器配置
type virtualConfig struct {
	epoch time.Time
}

// WithEpoch 虚拟时间0对应的绝对时间，Now()基于它计算
func WithEpoch(epoch time.Time) opts.Option[virtualConfig] {
	return opts.Type[virtualConfig](func(c *virtualConfig) error {
		c.epoch = epoch
		return nil
	})
}

// ============================================================================
// 待执行队列
// ============================================================================

// virtualItem 调度的动作
type virtualItem struct {
	id        uint64
	seq       uint64
	due       time.Duration
	period    time.Duration
	action    func()
	index     int
	cancelled bool
}

// itemQueue 按到期时间排序的小顶堆，同一时间按入队顺序
type itemQueue []*virtualItem

func (q itemQueue) Len() int { return len(q) }

func (q itemQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q itemQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *itemQueue) Push(x any) {
	item := x.(*virtualItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *itemQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// PendingItem 待执行任务的只读快照
type PendingItem struct {
	ID       uint64
	Due      time.Duration
	Periodic bool
}

// ============================================================================
// VirtualTimeScheduler
// ============================================================================

// VirtualTimeScheduler 虚拟时间调度器
//
// 时钟只能向前推进。任务只在AdvanceBy、AdvanceTo或Start期间执行，
// 执行时时钟等于任务的到期时间。
type VirtualTimeScheduler struct {
	mu      sync.Mutex
	epoch   time.Time
	clock   time.Duration
	queue   itemQueue
	nextSeq uint64
	nextID  uint64
	running bool
	stopped atomic.Bool
}

var _ Scheduler = (*VirtualTimeScheduler)(nil)

// NewVirtualTimeScheduler 创建虚拟时间调度器，默认纪元为Unix零点
func NewVirtualTimeScheduler(options ...opts.Option[virtualConfig]) (*VirtualTimeScheduler, error) {
	config := virtualConfig{epoch: time.Unix(0, 0).UTC()}
	if err := opts.Apply(&config, options); err != nil {
		return nil, errors.Trace(err)
	}
	return &VirtualTimeScheduler{epoch: config.epoch}, nil
}

// Clock 当前虚拟时间（相对纪元的偏移）
func (s *VirtualTimeScheduler) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Now 当前虚拟时间对应的绝对时间
func (s *VirtualTimeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch.Add(s.clock)
}

// scheduleAt 在虚拟时间at入队
func (s *VirtualTimeScheduler) scheduleAt(at, period time.Duration, action func()) Disposable {
	s.mu.Lock()
	if at < s.clock {
		at = s.clock
	}
	s.nextID++
	s.nextSeq++
	item := &virtualItem{
		id:     s.nextID,
		seq:    s.nextSeq,
		due:    at,
		period: period,
		action: action,
	}
	heap.Push(&s.queue, item)
	s.mu.Unlock()

	return NewDisposable(func() { s.cancel(item) })
}

// cancel 从队列中移除尚未执行的任务；已执行的一次性任务无影响
func (s *VirtualTimeScheduler) cancel(item *virtualItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.cancelled = true
	if item.index >= 0 {
		heap.Remove(&s.queue, item.index)
	}
}

// Schedule 在当前虚拟时间入队，下一次推进时执行
func (s *VirtualTimeScheduler) Schedule(action func()) Disposable {
	return s.scheduleAt(s.Clock(), 0, action)
}

// ScheduleAfter 在当前虚拟时间+due入队，due<=0视为立即
func (s *VirtualTimeScheduler) ScheduleAfter(due time.Duration, action func()) Disposable {
	if due < 0 {
		due = 0
	}
	return s.scheduleAt(s.Clock()+due, 0, action)
}

// ScheduleAbsolute 在虚拟时间at入队，已过去的时间视为立即
func (s *VirtualTimeScheduler) ScheduleAbsolute(at time.Duration, action func()) Disposable {
	return s.scheduleAt(at, 0, action)
}

// SchedulePeriodic 周期入队，第一次在当前时间+period，之后每次在上一次到期时间+period
func (s *VirtualTimeScheduler) SchedulePeriodic(period time.Duration, action func()) Disposable {
	mustPeriod(period)
	return s.scheduleAt(s.Clock()+period, period, action)
}

// ============================================================================
// 时间推进
// ============================================================================

// AdvanceBy 推进时间，超出可表示范围时停在最大值
func (s *VirtualTimeScheduler) AdvanceBy(duration time.Duration) error {
	if duration < 0 {
		return errors.NotValidf("negative advance %s", duration)
	}
	return s.advance(func(clock time.Duration) (time.Duration, error) {
		if duration > math.MaxInt64-clock {
			return math.MaxInt64, nil
		}
		return clock + duration, nil
	}, true)
}

// AdvanceTo 推进时间到指定时刻，不能回退
func (s *VirtualTimeScheduler) AdvanceTo(at time.Duration) error {
	return s.advance(func(clock time.Duration) (time.Duration, error) {
		if at < clock {
			return 0, errors.NotValidf("advance to %s before current time %s", at, clock)
		}
		return at, nil
	}, true)
}

// Start 依次执行所有任务直到队列为空；周期任务会让它一直运行，直到Stop
func (s *VirtualTimeScheduler) Start() error {
	return s.advance(func(time.Duration) (time.Duration, error) {
		return math.MaxInt64, nil
	}, false)
}

// Stop 使正在进行的推进在当前任务执行完后返回
func (s *VirtualTimeScheduler) Stop() {
	s.stopped.Store(true)
}

func (s *VirtualTimeScheduler) advance(target func(clock time.Duration) (time.Duration, error), settle bool) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.NotValidf("re-entrant advance")
	}
	to, err := target(s.clock)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.running = true
	s.stopped.Store(false)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for !s.stopped.Load() {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].due > to {
			if settle && to > s.clock {
				s.clock = to
			}
			s.mu.Unlock()
			return nil
		}
		item := heap.Pop(&s.queue).(*virtualItem)
		if item.due > s.clock {
			s.clock = item.due
		}
		s.mu.Unlock()

		runAction("VirtualTimeScheduler", item.action)

		if item.period > 0 {
			s.mu.Lock()
			if !item.cancelled {
				s.nextSeq++
				item.seq = s.nextSeq
				item.due += item.period
				heap.Push(&s.queue, item)
			}
			s.mu.Unlock()
		}
	}
	return nil
}

// ============================================================================
// 检查
// ============================================================================

// Pending 待执行任务的快照，按到期时间排序
func (s *VirtualTimeScheduler) Pending() []PendingItem {
	s.mu.Lock()
	pending := make([]PendingItem, len(s.queue))
	seqs := make(map[uint64]uint64, len(s.queue))
	for i, item := range s.queue {
		pending[i] = PendingItem{ID: item.id, Due: item.due, Periodic: item.period > 0}
		seqs[item.id] = item.seq
	}
	s.mu.Unlock()

	slices.SortFunc(pending, func(a, b PendingItem) int {
		if c := cmp.Compare(a.Due, b.Due); c != 0 {
			return c
		}
		return cmp.Compare(seqs[a.ID], seqs[b.ID])
	})
	return pending
}
