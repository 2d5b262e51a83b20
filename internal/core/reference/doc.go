// Package reference 实现身份与代理的字符串形式及 Reference 工厂
//
// 代理字符串：
//
//	identity [-f facet] [-t|-o] [-s] : endpoint[:endpoint...]
//	identity [-f facet] [-t|-o] @ adapterId
//	identity                                  （间接代理，经定位器按身份查找）
//
// 身份中的 "/" 分隔类别与名称；特殊字符按 Ice.ToStringMode 转义。
package reference
