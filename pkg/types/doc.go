// Package types 定义 commrt 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 commrt 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - identity.go - Identity 对象身份
//   - enums.go    - ToStringMode, ThreadState, OperationMode, ConnectionState
//   - errors.go   - 公共错误定义与重试分类
package types
