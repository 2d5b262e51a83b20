// Package endpoint 实现端点的解析、格式化与建连
//
// 端点字符串形如：
//
//	tcp -h 10.0.0.1 -p 4061 -t 60000 -z
//	ssl -h example.com -p 4062
//	ws  -h 127.0.0.1 -p 8080 -r /rt
//	default -p 4061
//
// 多个端点以 ":" 分隔（引号内的 ":" 不分隔，IPv6 主机需加引号）。
// "default" 协议由 Ice.Default.Protocol 决定，缺省 -h 时使用 Ice.Default.Host。
//
// FactoryManager 按协议名注册 Factory，每个 Factory 持有对应的传输，
// 端点通过所属 Factory 的传输拨号与监听。
package endpoint
