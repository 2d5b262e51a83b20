// Package connection 实现请求/应答连接与出站连接工厂
//
// # 连接
//
// 出站连接在返回前等待服务端的 ValidateConnection 消息；
// 入站连接在启动时发送该消息。之后每条连接有一个读 goroutine：
// 应答按请求 ID 交给等待的调用方，请求通过线程池分派给 Dispatcher。
//
// 关闭时第一次给出的原因生效，所有未完成的调用以该原因失败。
// 优雅关闭等待正在进行的分派结束，再发送 CloseConnection。
//
// # 出站连接工厂
//
// OutgoingFactory 按端点缓存客户端连接。同一端点的并发建连
// 通过 singleflight 合并为一次；多个端点依次尝试，
// 全部失败时返回合并后的错误（multierr）。
package connection
