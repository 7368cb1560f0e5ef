// Package module 定义模块注册表共享的数据类型：模块身份（名称 + 路径）、
// 三态激活状态以及模块来源（Source）的契约。
//
// 模块来源只负责回答“有哪些模块”；启用/禁用状态由 activation 包持有，
// 缓存策略由 registry 包负责。本包不依赖任何存储或缓存实现。
package module
