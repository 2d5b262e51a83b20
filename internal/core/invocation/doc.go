// Package invocation 实现代理调用
//
// 一次调用依次：
//
//  1. 本地有匹配的对象适配器时直接在适配器内分派（并置调用）
//  2. 否则选择端点：路由器客户端端点、直连端点或经定位器解析
//  3. 从出站连接工厂取得连接并发送请求
//  4. 可重试的失败交给重试队列，按 Ice.RetryIntervals 延迟后在客户端线程池中重发
//
// 非幂等请求一旦写入连接，只在对端优雅关闭连接（ErrCloseConnection）时重试，
// 保证最多执行一次。
package invocation
