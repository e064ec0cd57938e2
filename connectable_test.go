// ConnectableObservable tests for rxcore
// 可连接Observable测试：连接前不发射、连接幂等、重连、自动连接
package rxcore_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinjiayu/rxcore"
	"github.com/xinjiayu/rxcore/rxtest"
)

// countingSource 记录上游被订阅和取消订阅的次数
type countingSource struct {
	subject      *rxcore.PublishSubject[int]
	subscribed   atomic.Int32
	unsubscribed atomic.Int32
}

func newCountingSource() *countingSource {
	return &countingSource{subject: rxcore.NewPublishSubject[int]()}
}

func (s *countingSource) Observable() rxcore.Observable[int] {
	return rxcore.Create(func(observer rxcore.Observer[int]) rxcore.Disposable {
		s.subscribed.Add(1)
		inner := s.subject.Subscribe(observer)
		return rxcore.NewDisposable(func() {
			s.unsubscribed.Add(1)
			inner.Dispose()
		})
	})
}

func TestConnectableObservable(t *testing.T) {
	t.Run("连接前不发射", func(t *testing.T) {
		co := rxcore.Publish(rxcore.Just(1, 2, 3))
		c := &collector[int]{}
		co.Subscribe(c)

		assert.Empty(t, c.Values())
		assert.False(t, co.IsConnected())

		co.Connect()
		assert.Equal(t, []int{1, 2, 3}, c.Values())
		assert.Equal(t, 1, c.completed)
	})

	t.Run("多个订阅者共享一次上游订阅", func(t *testing.T) {
		src := newCountingSource()
		co := rxcore.Publish(src.Observable())
		a, b := &collector[int]{}, &collector[int]{}
		co.Subscribe(a)
		co.Subscribe(b)

		co.Connect()
		src.subject.OnNext(7)

		assert.EqualValues(t, 1, src.subscribed.Load())
		assert.Equal(t, []int{7}, a.Values())
		assert.Equal(t, []int{7}, b.Values())
	})

	t.Run("重复Connect返回同一个连接", func(t *testing.T) {
		src := newCountingSource()
		co := rxcore.Publish(src.Observable())

		first := co.Connect()
		second := co.Connect()

		assert.Same(t, first, second)
		assert.EqualValues(t, 1, src.subscribed.Load())
	})

	t.Run("断开后可以重新连接", func(t *testing.T) {
		src := newCountingSource()
		co := rxcore.Publish(src.Observable())
		c := &collector[int]{}
		co.Subscribe(c)

		conn := co.Connect()
		src.subject.OnNext(1)
		conn.Dispose()
		assert.False(t, co.IsConnected())
		assert.EqualValues(t, 1, src.unsubscribed.Load())

		src.subject.OnNext(2)

		co.Connect()
		src.subject.OnNext(3)

		assert.EqualValues(t, 2, src.subscribed.Load())
		assert.Equal(t, []int{1, 3}, c.Values())
	})

	t.Run("Dispose断开并释放Subject", func(t *testing.T) {
		src := newCountingSource()
		co := rxcore.Publish(src.Observable())
		c := &collector[int]{}
		co.Subscribe(c)
		co.Connect()

		co.Dispose()
		src.subject.OnNext(1)

		assert.True(t, co.IsDisposed())
		assert.EqualValues(t, 1, src.unsubscribed.Load())
		assert.Empty(t, c.Values())
		assert.True(t, co.Connect().IsDisposed())
		assert.True(t, co.Subscribe(&collector[int]{}).IsDisposed())
		assert.NotPanics(t, co.Dispose)
	})

	t.Run("断开时的panic被上报", func(t *testing.T) {
		sink := rxtest.InstallSink(t)
		src := rxcore.Create(func(rxcore.Observer[int]) rxcore.Disposable {
			return rxcore.NewDisposable(func() { panic("teardown failure") })
		})
		co := rxcore.Publish(src)
		co.Connect()

		assert.NotPanics(t, co.Dispose)
		assert.True(t, co.IsDisposed())
		assert.NotEmpty(t, sink.Faults())
	})

	t.Run("PublishBehavior先发送初始值", func(t *testing.T) {
		src := newCountingSource()
		co := rxcore.PublishBehavior(src.Observable(), -1)
		c := &collector[int]{}
		co.Subscribe(c)
		co.Connect()
		src.subject.OnNext(1)

		assert.Equal(t, []int{-1, 1}, c.Values())
	})

	t.Run("PublishReplay为迟到的订阅者重放", func(t *testing.T) {
		src := newCountingSource()
		co, err := rxcore.PublishReplay(src.Observable(), rxcore.WithBufferSize(1))
		require.NoError(t, err)
		co.Connect()
		src.subject.OnNext(1)
		src.subject.OnNext(2)

		late := &collector[int]{}
		co.Subscribe(late)
		assert.Equal(t, []int{2}, late.Values())

		_, err = rxcore.PublishReplay(src.Observable(), rxcore.WithBufferSize(-1))
		assert.Error(t, err)
	})
}

func TestConnectContext(t *testing.T) {
	t.Run("ctx取消时断开连接", func(t *testing.T) {
		vts := newVirtual(t)
		co := rxcore.Publish(rxcore.Interval(vts, time.Second))
		rec := rxtest.NewRecorder[int64](vts)
		co.Subscribe(rec)

		ctx, cancel := context.WithCancel(context.Background())
		conn := co.ConnectContext(ctx)
		require.NoError(t, vts.AdvanceBy(2*time.Second))

		cancel()
		assert.Eventually(t, func() bool { return len(vts.Pending()) == 0 }, time.Second, time.Millisecond)
		assert.False(t, co.IsConnected())
		assert.True(t, conn.IsDisposed())

		require.NoError(t, vts.AdvanceBy(2*time.Second))
		assert.Equal(t, []int64{0, 1}, rec.Values())
	})

	t.Run("手动断开后可以重新连接", func(t *testing.T) {
		src := newCountingSource()
		co := rxcore.Publish(src.Observable())

		conn := co.ConnectContext(context.Background())
		conn.Dispose()
		assert.False(t, co.IsConnected())
		assert.EqualValues(t, 1, src.unsubscribed.Load())

		co.Connect()
		assert.EqualValues(t, 2, src.subscribed.Load())
	})

	t.Run("ctx已结束时不连接", func(t *testing.T) {
		src := newCountingSource()
		co := rxcore.Publish(src.Observable())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.True(t, co.ConnectContext(ctx).IsDisposed())
		assert.False(t, co.IsConnected())
		assert.EqualValues(t, 0, src.subscribed.Load())
	})
}

func TestRefCount(t *testing.T) {
	src := newCountingSource()
	shared := rxcore.Publish(src.Observable()).RefCount()

	a := &collector[int]{}
	da := shared.Subscribe(a)
	assert.EqualValues(t, 1, src.subscribed.Load())

	b := &collector[int]{}
	db := shared.Subscribe(b)
	assert.EqualValues(t, 1, src.subscribed.Load())

	src.subject.OnNext(1)
	da.Dispose()
	src.subject.OnNext(2)
	assert.EqualValues(t, 0, src.unsubscribed.Load())

	db.Dispose()
	assert.EqualValues(t, 1, src.unsubscribed.Load())
	assert.False(t, src.subject.HasObservers())

	assert.Equal(t, []int{1}, a.Values())
	assert.Equal(t, []int{1, 2}, b.Values())

	shared.Subscribe(&collector[int]{})
	assert.EqualValues(t, 2, src.subscribed.Load())
}

func TestAutoConnect(t *testing.T) {
	t.Run("达到订阅者数量时连接", func(t *testing.T) {
		var connections int
		auto := rxcore.Publish(rxcore.Just(1, 2)).AutoConnect(2, func(rxcore.Disposable) { connections++ })

		a := &collector[int]{}
		auto.Subscribe(a)
		assert.Empty(t, a.Values())

		b := &collector[int]{}
		auto.Subscribe(b)

		assert.Equal(t, 1, connections)
		assert.Equal(t, []int{1, 2}, a.Values())
		assert.Equal(t, []int{1, 2}, b.Values())
	})

	t.Run("n<=0时立即连接", func(t *testing.T) {
		src := newCountingSource()
		auto := rxcore.Publish(src.Observable()).AutoConnect(0)
		assert.EqualValues(t, 1, src.subscribed.Load())

		c := &collector[int]{}
		auto.Subscribe(c)
		src.subject.OnNext(5)
		assert.Equal(t, []int{5}, c.Values())
	})
}
