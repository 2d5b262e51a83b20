// Package instance 实现通信器实例
//
// Instance 拥有通信器的全部组件，并负责：
//   - 两阶段构造：New 按依赖顺序构建叶子组件，FinishSetup 加载插件、
//     创建线程与管理对象
//   - 生命周期 Active → DestroyInProgress → Destroyed，
//     并发 Destroy 只执行一次完整的销毁序列
//   - 组件访问器：状态检查与句柄复制在同一次加锁内完成
//   - 管理 facet 注册：管理适配器创建之前缓存 facet，创建后迁移到适配器
//
// 销毁顺序：
//
//	适配器工厂 shutdown → 出站连接工厂 destroy → 适配器工厂 destroy →
//	等待出站连接结束 → 重试队列 → 解除观察者 → 线程池 → 解析器 →
//	定时器 → join 全部线程 → 路由器/定位器管理器 → 插件管理器
//
// 进程内所有未销毁的实例登记在全局注册表中，见 UndestroyedCount。
package instance
