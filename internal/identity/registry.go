// 包 identity：为站点（提供方 + 地址）分配运行期内稳定的整数标识
package identity

import "sync"

// Key：站点自然键；地址第二行缺失时为空串
type Key struct {
	ProviderName string
	Address1     string
	Address2     string
	ZipCode      string
}

// 文档注释：站点标识登记表
// 背景：同一物理站点在不同日期的快照中需关联到同一标识；首次出现时按顺序分配下一个整数（从 0 开始）。
// 约束：分配在单一临界区内完成，并发调用不会产生重复标识；仅在本次运行内有效，跨进程稳定性依赖 Preload。
type Registry struct {
	mu    sync.Mutex
	ids   map[Key]int
	order []Key
}

func New() *Registry {
	return &Registry{ids: make(map[Key]int)}
}

// IdentityFor：返回键对应的标识，首次出现时分配
func (r *Registry) IdentityFor(k Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assign(k)
}

func (r *Registry) assign(k Key) int {
	if id, ok := r.ids[k]; ok {
		return id
	}
	id := len(r.order)
	r.ids[k] = id
	r.order = append(r.order, k)
	return id
}

// Lookup：只读查询，不分配
func (r *Registry) Lookup(k Key) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ids[k]
	return id, ok
}

// 文档注释：按给定顺序预先登记
// 背景：持久化的登记顺序在下次运行时回放，使标识跨进程保持一致；已登记的键保持原标识不变。
func (r *Registry) Preload(keys []Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		r.assign(k)
	}
}

// Keys：按首次出现顺序返回全部键，下标即标识
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Key(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
