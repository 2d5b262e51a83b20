// Package metrics 提供基于 Prometheus 的通信器插桩
//
// Observer 实现 interfaces.CommunicatorObserver，把线程、连接、建连、
// 调用与分派的事件记录到私有的 prometheus.Registry：
//
//	obsv := metrics.New(props)
//	pool := threadpool.New("Ice.ThreadPool.Client", cfg, threadpool.WithObserver(obsv))
//
// # 视图
//
// 指标按 IceMX.Metrics.<view>.* 属性分组为视图：
//
//	IceMX.Metrics.Debug.GroupBy=id
//	IceMX.Metrics.Debug.Map.Connection.GroupBy=none
//	IceMX.Metrics.Quiet.Disabled=1
//
// 只要有一个启用的视图包含某个 map（Thread、Connection、ConnectionEstablishment、
// Invocation、Dispatch），对应的观察者才会被创建；没有配置任何视图时不做插桩。
// 视图中出现 Map.<name> 键时只包含列出的 map，否则包含全部 map。
//
// 视图启停后通过 ObserverUpdater 刷新现有线程与连接的观察者。
//
// # Metrics facet
//
// Facet 是管理对象上的 "Metrics" facet，支持
// getMetricsViewNames、enableMetricsView、disableMetricsView、getMetrics。
package metrics
