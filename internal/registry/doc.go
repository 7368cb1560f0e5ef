// Package registry 把模块来源（module.Source）与激活状态（activation.Store）组合成
// 统一的 Repository，并提供 cache-aside 装饰器 CachingRegistry。
//
// Registry 是直接访问后端的基础实现；CachingRegistry 持有任意 Repository，
// 读操作先查缓存，写操作委托后只做失效，从不直接填充缓存。
// 缓存后端是否支持标签失效在构造时判定一次：支持则 ClearCache 按标签清空，
// 否则删除固定键并逐个删除当前已知模块的 find 键。
package registry
