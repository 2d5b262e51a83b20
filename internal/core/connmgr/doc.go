// Package connmgr 实现空闲连接管理（ACM）
//
// 每一侧（客户端、服务端）各有一个 Monitor，由 Timer 周期触发检查，
// 关闭空闲超过 Ice.ACM.Client.Timeout / Ice.ACM.Server.Timeout 且
// 没有未完成请求与分派的连接。超时为 0 时不启用。
//
// # 使用示例
//
//	m := connmgr.NewMonitor("client", t, 60*time.Second)
//	m.Add(conn)
//	defer m.Destroy()
package connmgr
