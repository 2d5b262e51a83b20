// Package introspect 提供通信器的本地自省 HTTP 服务
//
// 服务由 Ice.Admin.HTTP.Endpoint（如 127.0.0.1:0）启用，
// 在 finishSetup 结束时启动，销毁时最先停止。
//
// 端点：
//   - GET /admin/facets                管理 facet 名称
//   - GET /admin/properties?prefix=P   属性（按前缀过滤）
//   - GET /admin/log?max=N             LoggerAdmin 最近的日志
//   - GET /admin/connections           当前连接
//   - GET /metrics                     Prometheus 指标（启用 Metrics 时）
//   - GET /health                      健康检查
//   - GET /debug/introspect/runtime    Go 运行时信息
//   - /debug/pprof/*                   pprof
package introspect
