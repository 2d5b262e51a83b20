// Package ws 实现 ws 与 wss 传输
//
// 基于 gorilla/websocket。每条 WebSocket 连接承载一个字节流：
// Write 以二进制消息发送，Read 依次消费收到的二进制消息，
// 上层协议的消息边界与 WebSocket 帧边界无关。
package ws
