// Package interfaces 定义 commrt 的公共接口
//
// 采用扁平命名，一个接口文件对应一类协作方：
//
//   - logger.go     - 通信器 Logger（print/trace/warning/error）
//   - properties.go - 配置只读契约
//   - servant.go    - Servant、Current 分派契约
//   - observer.go   - 线程/连接/调用/分派观察者与 CommunicatorObserver
//   - plugin.go     - 插件与插件工厂
//
// 本包只依赖 pkg/types，被所有 internal 包依赖。
package interfaces
