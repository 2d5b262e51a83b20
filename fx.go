package commrt

import (
	"context"

	"go.uber.org/fx"
)

// Module 以 fx 组件的形式提供 *Communicator
//
// 通信器在构造时完成初始化；宿主应用停止时先 Shutdown，再等待适配器停用，
// 最后 Destroy。等待受 OnStop 的 ctx 约束，超时后直接销毁。
//
//	app := fx.New(
//	    commrt.Module(commrt.WithConfigFile("server.cfg")),
//	    fx.Invoke(func(c *commrt.Communicator) { ... }),
//	)
func Module(opts ...Option) fx.Option {
	return fx.Module("commrt",
		fx.Provide(func(lc fx.Lifecycle) (*Communicator, error) {
			return provideCommunicator(lc, opts)
		}),
	)
}

func provideCommunicator(lc fx.Lifecycle, opts []Option) (*Communicator, error) {
	c, err := Initialize(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			c.Shutdown()
			if err := c.WaitForShutdown(ctx); err != nil {
				logger.Warn("等待适配器停用超时", "error", err)
			}
			c.Destroy()
			return nil
		},
	})
	return c, nil
}
