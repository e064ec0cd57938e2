// Virtual time scheduler tests for rxcore
// 虚拟时间调度器测试：推进、周期任务、取消、嵌套调度
package rxcore_test

import (
	"context"
	"math"
	"testing"
	"time"

	jujuerrors "github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinjiayu/rxcore"
	"github.com/xinjiayu/rxcore/rxtest"
)

func newVirtual(t *testing.T) *rxcore.VirtualTimeScheduler {
	t.Helper()
	vts, err := rxcore.NewVirtualTimeScheduler()
	require.NoError(t, err)
	return vts
}

func TestVirtualTimeScheduler(t *testing.T) {
	t.Run("到期后才执行", func(t *testing.T) {
		vts := newVirtual(t)
		ran := false
		vts.ScheduleAfter(5*time.Second, func() { ran = true })

		require.NoError(t, vts.AdvanceBy(3*time.Second))
		assert.False(t, ran)
		assert.Equal(t, 3*time.Second, vts.Clock())

		require.NoError(t, vts.AdvanceBy(3*time.Second))
		assert.True(t, ran)
		assert.Equal(t, 6*time.Second, vts.Clock())
	})

	t.Run("执行时时钟等于到期时间", func(t *testing.T) {
		vts := newVirtual(t)
		var seen []time.Duration
		vts.ScheduleAfter(2*time.Second, func() { seen = append(seen, vts.Clock()) })
		vts.ScheduleAfter(1*time.Second, func() { seen = append(seen, vts.Clock()) })

		require.NoError(t, vts.AdvanceBy(10*time.Second))
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, seen)
	})

	t.Run("同一时间按入队顺序执行", func(t *testing.T) {
		vts := newVirtual(t)
		var order []string
		vts.ScheduleAfter(time.Second, func() { order = append(order, "a") })
		vts.ScheduleAbsolute(time.Second, func() { order = append(order, "b") })
		vts.ScheduleAfter(time.Second, func() { order = append(order, "c") })

		require.NoError(t, vts.AdvanceTo(time.Second))
		assert.Equal(t, []string{"a", "b", "c"}, order)
	})

	t.Run("Schedule在下一次推进时执行", func(t *testing.T) {
		vts := newVirtual(t)
		ran := false
		vts.Schedule(func() { ran = true })
		assert.False(t, ran)

		require.NoError(t, vts.AdvanceBy(0))
		assert.True(t, ran)
		assert.Equal(t, time.Duration(0), vts.Clock())
	})

	t.Run("周期任务3.5秒执行3次", func(t *testing.T) {
		vts := newVirtual(t)
		var ticks []time.Duration
		d := vts.SchedulePeriodic(time.Second, func() { ticks = append(ticks, vts.Clock()) })

		require.NoError(t, vts.AdvanceBy(3500*time.Millisecond))
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, ticks)

		d.Dispose()
		require.NoError(t, vts.AdvanceBy(5*time.Second))
		assert.Len(t, ticks, 3)
	})

	t.Run("周期任务在执行中取消自己", func(t *testing.T) {
		vts := newVirtual(t)
		count := 0
		var d rxcore.Disposable
		d = vts.SchedulePeriodic(time.Second, func() {
			count++
			if count == 2 {
				d.Dispose()
			}
		})

		require.NoError(t, vts.AdvanceBy(10*time.Second))
		assert.Equal(t, 2, count)
		assert.Empty(t, vts.Pending())
	})

	t.Run("非正周期panic", func(t *testing.T) {
		vts := newVirtual(t)
		assert.Panics(t, func() { vts.SchedulePeriodic(0, func() {}) })
	})

	t.Run("时间不能回退", func(t *testing.T) {
		vts := newVirtual(t)
		require.NoError(t, vts.AdvanceTo(5*time.Second))

		err := vts.AdvanceTo(3 * time.Second)
		assert.True(t, jujuerrors.Is(err, jujuerrors.NotValid))
		assert.Equal(t, 5*time.Second, vts.Clock())

		err = vts.AdvanceBy(-time.Second)
		assert.True(t, jujuerrors.Is(err, jujuerrors.NotValid))
	})

	t.Run("取消尚未执行的任务", func(t *testing.T) {
		vts := newVirtual(t)
		ran := false
		d := vts.ScheduleAfter(time.Second, func() { ran = true })
		require.Len(t, vts.Pending(), 1)

		d.Dispose()
		assert.Empty(t, vts.Pending())
		require.NoError(t, vts.AdvanceBy(2*time.Second))
		assert.False(t, ran)
	})

	t.Run("任务中调度的新任务在同一次推进中执行", func(t *testing.T) {
		vts := newVirtual(t)
		var seen []time.Duration
		vts.ScheduleAfter(time.Second, func() {
			seen = append(seen, vts.Clock())
			vts.ScheduleAfter(time.Second, func() { seen = append(seen, vts.Clock()) })
			vts.Schedule(func() { seen = append(seen, vts.Clock()) })
		})

		require.NoError(t, vts.AdvanceBy(5*time.Second))
		assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, seen)
	})

	t.Run("任务中重入推进返回错误", func(t *testing.T) {
		vts := newVirtual(t)
		var inner error
		vts.Schedule(func() { inner = vts.AdvanceBy(time.Second) })

		require.NoError(t, vts.AdvanceBy(0))
		assert.True(t, jujuerrors.Is(inner, jujuerrors.NotValid))
	})

	t.Run("任务panic后继续执行后续任务", func(t *testing.T) {
		sink := rxtest.InstallSink(t)
		vts := newVirtual(t)
		ran := false
		vts.ScheduleAfter(time.Second, func() { panic("bad action") })
		vts.ScheduleAfter(2*time.Second, func() { ran = true })

		require.NoError(t, vts.AdvanceBy(3*time.Second))
		assert.True(t, ran)
		assert.Equal(t, 1, sink.Count(rxcore.ScheduledActionFault))
	})

	t.Run("推进超出范围时停在最大时间", func(t *testing.T) {
		vts := newVirtual(t)
		require.NoError(t, vts.AdvanceBy(time.Second))
		ran := false
		vts.ScheduleAfter(time.Hour, func() { ran = true })

		require.NoError(t, vts.AdvanceBy(math.MaxInt64))
		assert.True(t, ran)
		assert.Equal(t, time.Duration(math.MaxInt64), vts.Clock())
	})

	t.Run("ctx取消后移除待执行任务", func(t *testing.T) {
		vts := newVirtual(t)
		ctx, cancel := context.WithCancel(context.Background())
		ran := false
		rxcore.ScheduleAfterWithContext(vts, ctx, 5*time.Second, func() { ran = true })
		require.Len(t, vts.Pending(), 1)

		cancel()
		assert.Eventually(t, func() bool { return len(vts.Pending()) == 0 }, time.Second, time.Millisecond)
		require.NoError(t, vts.AdvanceBy(10*time.Second))
		assert.False(t, ran)
	})

	t.Run("带ctx的任务在推进时执行", func(t *testing.T) {
		vts := newVirtual(t)
		var seen []time.Duration
		d := rxcore.ScheduleWithContext(vts, context.Background(), func() { seen = append(seen, vts.Clock()) })
		assert.False(t, d.IsDisposed())

		require.NoError(t, vts.AdvanceBy(0))
		assert.Equal(t, []time.Duration{0}, seen)
		assert.True(t, d.IsDisposed())
	})

	t.Run("Start执行到队列为空", func(t *testing.T) {
		vts := newVirtual(t)
		var seen []time.Duration
		vts.ScheduleAfter(10*time.Second, func() { seen = append(seen, vts.Clock()) })
		vts.ScheduleAfter(20*time.Second, func() { seen = append(seen, vts.Clock()) })

		require.NoError(t, vts.Start())
		assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, seen)
		assert.Equal(t, 20*time.Second, vts.Clock())
	})

	t.Run("Stop结束周期任务的Start", func(t *testing.T) {
		vts := newVirtual(t)
		count := 0
		vts.SchedulePeriodic(time.Second, func() {
			count++
			if count == 5 {
				vts.Stop()
			}
		})

		require.NoError(t, vts.Start())
		assert.Equal(t, 5, count)
		assert.Equal(t, 5*time.Second, vts.Clock())
	})

	t.Run("Now基于纪元", func(t *testing.T) {
		epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		vts, err := rxcore.NewVirtualTimeScheduler(rxcore.WithEpoch(epoch))
		require.NoError(t, err)

		require.NoError(t, vts.AdvanceBy(time.Minute))
		assert.Equal(t, epoch.Add(time.Minute), vts.Now())
	})

	t.Run("Pending按到期时间排序", func(t *testing.T) {
		vts := newVirtual(t)
		vts.ScheduleAfter(3*time.Second, func() {})
		vts.SchedulePeriodic(time.Second, func() {})
		vts.ScheduleAfter(2*time.Second, func() {})

		pending := vts.Pending()
		require.Len(t, pending, 3)
		assert.Equal(t, time.Second, pending[0].Due)
		assert.True(t, pending[0].Periodic)
		assert.Equal(t, 2*time.Second, pending[1].Due)
		assert.Equal(t, 3*time.Second, pending[2].Due)
	})

	t.Run("带状态的调度", func(t *testing.T) {
		vts := newVirtual(t)
		var got []int
		rxcore.ScheduleWithState(vts, 7, func(v int) { got = append(got, v) })
		rxcore.ScheduleAfterWithState(vts, 8, time.Second, func(v int) { got = append(got, v) })
		rxcore.SchedulePeriodicWithState(vts, 1, time.Second, func(v int) int {
			got = append(got, v*100)
			return v + 1
		})

		require.NoError(t, vts.AdvanceBy(2*time.Second))
		assert.Equal(t, []int{7, 8, 100, 200}, got)
	})
}
