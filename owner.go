// Owner registry for rxcore
// 显式的所有者注册表：订阅挂在一个稳定的ID下，所有者结束时统一释放
package rxcore

import (
	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/juju/errors"
)

// OwnerRegistry 所有者注册表，每个所有者对应一个CompositeDisposable
type OwnerRegistry struct {
	owners *haxmap.Map[string, *CompositeDisposable]
}

// NewOwnerRegistry 创建所有者注册表
func NewOwnerRegistry() *OwnerRegistry {
	return &OwnerRegistry{owners: haxmap.New[string, *CompositeDisposable]()}
}

// NewOwner 注册一个新的所有者并返回其ID
func (r *OwnerRegistry) NewOwner() string {
	id := uuid.NewString()
	r.owners.Set(id, NewCompositeDisposable())
	return id
}

// Register 以调用者提供的稳定ID注册所有者，已存在时直接返回
func (r *OwnerRegistry) Register(owner string) {
	r.owners.GetOrCompute(owner, func() *CompositeDisposable {
		return NewCompositeDisposable()
	})
}

// Track 把资源挂到所有者下
func (r *OwnerRegistry) Track(owner string, d Disposable) error {
	resources, ok := r.owners.Get(owner)
	if !ok {
		return errors.NotFoundf("owner %q", owner)
	}
	resources.Add(d)
	return nil
}

// Subscribe 订阅并把订阅挂到所有者下；所有者不存在时不订阅
func Subscribe[T any](r *OwnerRegistry, owner string, source Observable[T], observer Observer[T]) (Disposable, error) {
	resources, ok := r.owners.Get(owner)
	if !ok {
		return nil, errors.NotFoundf("owner %q", owner)
	}
	d := source.Subscribe(observer)
	resources.Add(d)
	return d, nil
}

// Tracked 所有者当前持有的资源数量
func (r *OwnerRegistry) Tracked(owner string) int {
	resources, ok := r.owners.Get(owner)
	if !ok {
		return 0
	}
	return resources.Len()
}

// Release 释放所有者的全部资源并注销，返回所有者是否存在
func (r *OwnerRegistry) Release(owner string) bool {
	resources, ok := r.owners.GetAndDel(owner)
	if !ok {
		return false
	}
	resources.Dispose()
	return true
}

// ReleaseAll 释放所有所有者
func (r *OwnerRegistry) ReleaseAll() {
	var ids []string
	r.owners.ForEach(func(id string, _ *CompositeDisposable) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		r.Release(id)
	}
}

// Owners 当前注册的所有者数量
func (r *OwnerRegistry) Owners() int {
	return int(r.owners.Len())
}
