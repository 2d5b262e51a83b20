// Package admin 实现通信器的管理 facet
//
// 管理对象在一个身份下通过多个 facet 暴露：
//
//   - Process     shutdown、writeMessage
//   - Properties  getPropertyAsString、getPropertiesForPrefix、setProperties
//   - Logger      attachRemoteLogger、detachRemoteLogger、getLog
//
// Metrics facet 由 metrics 包提供。facet 的注册、缓冲与白名单过滤由实例完成，
// 本包只提供 servant 与 Filter。
//
// 参数与结果使用 JSON 编码。
package admin
