// Package lib 收纳与通信器组件无关的基础工具
//
// 目前只有 log：组件诊断日志的薄封装，各内部包以
// log.Logger("core/<包名>") 取得自己的 logger。
//
// 通信器对用户输出的跟踪、警告与错误不走这里，而是走
// pkg/interfaces.Logger（Ice.LogFile、Ice.Trace.*）。
package lib
