// Package commrt 提供通信器运行时
//
// 通信器（Communicator）是运行时的入口：它持有配置、日志、线程池、
// 定时器、名称解析、连接工厂、对象适配器、定位器与路由器管理、
// 插件和管理对象，并负责按固定顺序销毁这些组件。
//
// # 快速开始
//
//	import "github.com/dep2p/go-commrt"
//
//	// 1. 创建通信器
//	comm, err := commrt.Initialize(ctx,
//	    commrt.WithArgs(os.Args[1:], nil),
//	    commrt.WithProperty("Ice.Trace.Network", "1"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer comm.Destroy()
//
//	// 2. 服务端：创建适配器并注册 servant
//	a, _ := comm.CreateObjectAdapterWithEndpoints("Echo", "tcp -h 127.0.0.1 -p 10000")
//	a.Add(servant, commrt.Identity{Name: "echo"})
//	a.Activate(ctx)
//
//	// 3. 客户端：解析代理并调用
//	prx, _ := comm.StringToProxy("echo:tcp -h 127.0.0.1 -p 10000")
//	out, err := prx.Invoke(ctx, "say", []byte(`"hello"`))
//
// # 配置
//
// 配置来自键值属性（Ice.*），来源依次为 WithConfigFile 指定的文件、
// WithProperties/WithProperty 以及 WithArgs 中的 --Ice.X=Y 选项，后者覆盖前者。
// 配置文件支持 key=value 文本格式、.json 与 .yaml。
//
// # 生命周期
//
//	Initialize → [Shutdown → WaitForShutdown] → Destroy
//
// Destroy 可以并发调用，只有一个调用执行销毁，其余调用等待其完成。
// 销毁完成后所有访问器返回 ErrCommunicatorDestroyed。
//
// # 管理对象
//
// 设置 Ice.Admin.Endpoints 后通信器创建管理适配器 Ice.Admin，
// 其上注册 Process、Properties、Logger、Metrics 等 facet，
// Ice.Admin.Facets 可限制启用的 facet。
// 设置 Ice.Admin.HTTP.Endpoint 时另外启动本地诊断 HTTP 服务。
package commrt
