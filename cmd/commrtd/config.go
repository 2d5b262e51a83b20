package main

import (
	"os"

	"github.com/dep2p/go-commrt"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// adaptersProperty 启动时激活的适配器列表
const adaptersProperty = "Commrtd.Adapters"

// 环境变量覆盖，优先级高于配置文件、低于命令行
const (
	envPrefix        = "COMMRTD_"
	envAdapters      = "ADAPTERS"
	envAdminEndpoint = "ADMIN_ENDPOINTS"
	envLogFile       = "LOG_FILE"
)

var envProperties = map[string]string{
	envAdapters:      adaptersProperty,
	envAdminEndpoint: "Ice.Admin.Endpoints",
	envLogFile:       "Ice.LogFile",
}

// buildOptions 构建通信器选项
//
// 配置优先级（从高到低）：
//  1. 命令行 --Ice.X=Y 选项
//  2. 环境变量（COMMRTD_* 前缀）
//  3. -config 指定的配置文件
func buildOptions(args []string) []commrt.Option {
	var opts []commrt.Option
	if *configFile != "" {
		opts = append(opts, commrt.WithConfigFile(*configFile))
	}
	opts = append(opts, commrt.WithPropertyMap(envOverrides()))
	opts = append(opts, commrt.WithArgs(args, nil))
	return opts
}

func envOverrides() map[string]string {
	m := make(map[string]string)
	for env, key := range envProperties {
		if v := os.Getenv(envPrefix + env); v != "" {
			m[key] = v
		}
	}
	return m
}
