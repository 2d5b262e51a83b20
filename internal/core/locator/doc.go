// Package locator 实现定位器与路由器管理
//
// 间接代理（@adapterId 或仅身份）通过定位器解析为端点：
//
//	Locator.findAdapterById(id)       -> 适配器的直连代理
//	Locator.findObjectById(identity)  -> 对象的代理（可能仍为间接）
//	Locator.getRegistry()             -> LocatorRegistry 代理
//
// 解析结果缓存在 expirable LRU 中，每个代理的 LocatorCacheTimeout
// 决定缓存是否可用：0 不使用缓存，负数永不过期。
//
// 路由器代理通过 Router.getClientProxy / getServerProxy
// 给出客户端与服务端端点。
//
// 所有远程调用经 Invoker 发出，参数与结果为 JSON。
package locator
