// Disposable implementations for rxcore
// 可释放资源：单动作、组合、串行
package rxcore

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// 单动作Disposable
// ============================================================================

var nop = func() {}

// baseDisposable 基础可释放资源实现，动作最多执行一次
type baseDisposable struct {
	action atomic.Pointer[func()]
}

// NewDisposable 创建单动作可释放资源
func NewDisposable(action func()) Disposable {
	if action == nil {
		action = nop
	}
	d := &baseDisposable{}
	d.action.Store(&action)
	return d
}

// Dispose 原子交换出动作并执行
func (d *baseDisposable) Dispose() {
	if action := d.action.Swap(nil); action != nil {
		(*action)()
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return d.action.Load() == nil
}

type disposedDisposable struct{}

func (disposedDisposable) Dispose()         {}
func (disposedDisposable) IsDisposed() bool { return true }

// Disposed 返回一个已释放的惰性Disposable
func Disposed() Disposable {
	return disposedDisposable{}
}

// disposeSafely 释放资源，panic被上报而不传播
func disposeSafely(d Disposable) {
	if d == nil {
		return
	}
	guard(DisposalFault, "dispose", d.Dispose)
}

// ============================================================================
// CompositeDisposable 组合式资源管理器
// ============================================================================

// CompositeDisposable 组合式资源管理器
type CompositeDisposable struct {
	mu        sync.Mutex
	disposed  bool
	resources []Disposable
}

// NewCompositeDisposable 创建组合式资源管理器
func NewCompositeDisposable(resources ...Disposable) *CompositeDisposable {
	cd := &CompositeDisposable{
		resources: make([]Disposable, 0, len(resources)),
	}
	for _, r := range resources {
		if r != nil {
			cd.resources = append(cd.resources, r)
		}
	}
	return cd
}

// Add 添加可释放资源，已释放时立即释放新资源
func (cd *CompositeDisposable) Add(disposable Disposable) {
	if disposable == nil {
		return
	}

	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		disposeSafely(disposable)
		return
	}
	cd.resources = append(cd.resources, disposable)
	cd.mu.Unlock()
}

// Remove 移除并释放资源，返回是否找到
func (cd *CompositeDisposable) Remove(disposable Disposable) bool {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return false
	}
	found := false
	for i, r := range cd.resources {
		if r == disposable {
			cd.resources = append(cd.resources[:i:i], cd.resources[i+1:]...)
			found = true
			break
		}
	}
	cd.mu.Unlock()

	if found {
		disposeSafely(disposable)
	}
	return found
}

// Len 当前持有的资源数量
func (cd *CompositeDisposable) Len() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return len(cd.resources)
}

// Dispose 释放所有资源并进入终止状态
func (cd *CompositeDisposable) Dispose() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	cd.disposed = true
	resources := cd.resources
	cd.resources = nil
	cd.mu.Unlock()

	for _, r := range resources {
		disposeSafely(r)
	}
}

// Clear 释放所有资源，但保持可用
func (cd *CompositeDisposable) Clear() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	resources := cd.resources
	cd.resources = make([]Disposable, 0)
	cd.mu.Unlock()

	for _, r := range resources {
		disposeSafely(r)
	}
}

// IsDisposed 检查是否已释放
func (cd *CompositeDisposable) IsDisposed() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.disposed
}

// ============================================================================
// SerialDisposable 串行资源
// ============================================================================

// SerialDisposable 持有一个可替换的资源，替换时释放旧资源
type SerialDisposable struct {
	mu       sync.Mutex
	disposed bool
	current  Disposable
}

// NewSerialDisposable 创建串行资源
func NewSerialDisposable() *SerialDisposable {
	return &SerialDisposable{}
}

// Set 替换当前资源；已释放时立即释放新资源
func (sd *SerialDisposable) Set(disposable Disposable) {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		disposeSafely(disposable)
		return
	}
	old := sd.current
	sd.current = disposable
	sd.mu.Unlock()

	disposeSafely(old)
}

// Dispose 释放当前资源
func (sd *SerialDisposable) Dispose() {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		return
	}
	sd.disposed = true
	current := sd.current
	sd.current = nil
	sd.mu.Unlock()

	disposeSafely(current)
}

// IsDisposed 检查是否已释放
func (sd *SerialDisposable) IsDisposed() bool {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.disposed
}
