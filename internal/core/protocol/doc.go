// Package protocol 实现连接上的消息帧与请求/应答编码
//
// # 帧格式
//
// 每条消息以 12 字节头开始（小端）：
//
//	0..3   magic "CRTP"
//	4      协议主版本（1）
//	5      协议次版本（0）
//	6      消息类型
//	7      压缩标志（0，不压缩）
//	8..11  消息总长度（含头），int32
//
// 请求与应答的消息体使用 protobuf 线格式（protowire 手工编码），
// 操作参数与结果作为不透明字节嵌入。
package protocol
