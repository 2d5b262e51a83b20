// Package adapter 实现对象适配器与适配器工厂
//
// # 对象适配器
//
// ObjectAdapter 把身份（及 facet）映射到 servant，
// 并在一组端点上接收请求：
//
//	Held ──Activate──▶ Active ──Hold──▶ Held
//	  │                  │
//	  └──Deactivate──────┴──▶ Deactivated ──Destroy──▶ Destroyed
//
// Held 状态下到达的请求等待激活；Deactivate 停止接收新连接
// 并优雅关闭已接收的连接。
//
// 配置了 <name>.AdapterId 且有定位器时，激活会把适配器的
// 直连代理登记到定位器注册表，停用时注销。
//
// # 适配器工厂
//
// Factory 保证名字唯一。Shutdown 后不能再创建适配器
// （ErrObjectAdapterDeactivated），Destroy 后返回 ErrCommunicatorDestroyed。
package adapter
