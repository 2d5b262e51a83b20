package config

import "github.com/dep2p/go-commrt/pkg/types"

// Validate 验证整个配置的有效性
//
// 所有错误都是 *types.InitializationError，可用 errors.Is(err, types.ErrInitialization) 判断。
func (c *Config) Validate() error {
	if c == nil {
		return types.NewInitializationError("config is nil")
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.ClientPool.Validate("Ice.ThreadPool.Client"); err != nil {
		return err
	}
	if err := c.ServerPool.Validate("Ice.ThreadPool.Server"); err != nil {
		return err
	}
	if c.Defaults.Protocol == "" {
		return types.NewInitializationError("Ice.Default.Protocol must not be empty")
	}
	if c.ServerIdleTime < 0 {
		return types.NewInitializationError("Ice.ServerIdleTime must not be negative")
	}
	return nil
}

// Validate 验证线程池配置（Normalize 之后调用）
func (c ThreadPoolConfig) Validate(prefix string) error {
	if c.Size < 1 || c.SizeMax < c.Size {
		return types.NewInitializationError("%s: invalid Size %d / SizeMax %d", prefix, c.Size, c.SizeMax)
	}
	return nil
}

