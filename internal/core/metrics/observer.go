package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/metrics")

const namespace = "commrt"

// Option Observer 选项
type Option func(*Observer)

// WithClock 设置计时使用的时钟
func WithClock(c clock.Clock) Option {
	return func(o *Observer) { o.clock = c }
}

// Observer 基于 Prometheus 的 CommunicatorObserver
type Observer struct {
	props    interfaces.PropertiesReader
	clock    clock.Clock
	registry *prometheus.Registry

	threads *prometheus.GaugeVec

	connections   *prometheus.GaugeVec
	sentBytes     prometheus.Counter
	receivedBytes prometheus.Counter

	establishments        prometheus.Counter
	establishmentFailures prometheus.Counter
	establishmentSeconds  prometheus.Histogram

	invocations        *prometheus.CounterVec
	invocationFailures *prometheus.CounterVec
	invocationRetries  *prometheus.CounterVec
	invocationUserExc  *prometheus.CounterVec
	invocationSeconds  *prometheus.HistogramVec

	dispatches       *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	dispatchUserExc  *prometheus.CounterVec
	dispatchSeconds  *prometheus.HistogramVec

	// families 每个 map 包含的指标族名称
	families map[string][]string

	mu        sync.RWMutex
	views     map[string]*view
	updater   interfaces.ObserverUpdater
	destroyed bool
}

var _ interfaces.CommunicatorObserver = (*Observer)(nil)

// New 创建 Observer，视图从 props 的 IceMX.Metrics.* 读取
func New(props interfaces.PropertiesReader, opts ...Option) *Observer {
	o := &Observer{props: props}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	o.views = parseViews(props)
	o.initMetrics()
	return o
}

func (o *Observer) initMetrics() {
	o.families = make(map[string][]string)
	reg := func(m string, name string, c prometheus.Collector) {
		o.registry.MustRegister(c)
		o.families[m] = append(o.families[m], namespace+"_"+name)
	}

	o.threads = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "threads",
		Help: "Number of runtime threads by parent and state.",
	}, []string{"parent", "state"})
	reg(MapThread, "threads", o.threads)

	o.connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "connections",
		Help: "Number of connections by state.",
	}, []string{"state"})
	o.sentBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "connection_sent_bytes_total",
		Help: "Bytes sent over connections.",
	})
	o.receivedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "connection_received_bytes_total",
		Help: "Bytes received over connections.",
	})
	reg(MapConnection, "connections", o.connections)
	reg(MapConnection, "connection_sent_bytes_total", o.sentBytes)
	reg(MapConnection, "connection_received_bytes_total", o.receivedBytes)

	o.establishments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "connection_establishments_total",
		Help: "Outgoing connection establishment attempts.",
	})
	o.establishmentFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "connection_establishment_failures_total",
		Help: "Failed outgoing connection establishments.",
	})
	o.establishmentSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "connection_establishment_seconds",
		Help:    "Time spent establishing outgoing connections.",
		Buckets: prometheus.DefBuckets,
	})
	reg(MapConnectionEstablishment, "connection_establishments_total", o.establishments)
	reg(MapConnectionEstablishment, "connection_establishment_failures_total", o.establishmentFailures)
	reg(MapConnectionEstablishment, "connection_establishment_seconds", o.establishmentSeconds)

	opLabels := []string{"operation"}
	o.invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "invocations_total",
		Help: "Proxy invocations by operation.",
	}, opLabels)
	o.invocationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "invocation_failures_total",
		Help: "Invocations that failed with a runtime error.",
	}, opLabels)
	o.invocationRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "invocation_retries_total",
		Help: "Invocation retries.",
	}, opLabels)
	o.invocationUserExc = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "invocation_user_exceptions_total",
		Help: "Invocations that raised a user exception.",
	}, opLabels)
	o.invocationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "invocation_seconds",
		Help:    "Invocation latency.",
		Buckets: prometheus.DefBuckets,
	}, opLabels)
	reg(MapInvocation, "invocations_total", o.invocations)
	reg(MapInvocation, "invocation_failures_total", o.invocationFailures)
	reg(MapInvocation, "invocation_retries_total", o.invocationRetries)
	reg(MapInvocation, "invocation_user_exceptions_total", o.invocationUserExc)
	reg(MapInvocation, "invocation_seconds", o.invocationSeconds)

	dispLabels := []string{"adapter", "operation"}
	o.dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatches_total",
		Help: "Dispatched requests by adapter and operation.",
	}, dispLabels)
	o.dispatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatch_failures_total",
		Help: "Dispatches that failed with a runtime error.",
	}, dispLabels)
	o.dispatchUserExc = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatch_user_exceptions_total",
		Help: "Dispatches that raised a user exception.",
	}, dispLabels)
	o.dispatchSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "dispatch_seconds",
		Help:    "Dispatch latency.",
		Buckets: prometheus.DefBuckets,
	}, dispLabels)
	reg(MapDispatch, "dispatches_total", o.dispatches)
	reg(MapDispatch, "dispatch_failures_total", o.dispatchFailures)
	reg(MapDispatch, "dispatch_user_exceptions_total", o.dispatchUserExc)
	reg(MapDispatch, "dispatch_seconds", o.dispatchSeconds)
}

// Registry 返回指标 Registry，供 /metrics 导出
func (o *Observer) Registry() *prometheus.Registry { return o.registry }

// enabled map m 是否被至少一个启用的视图包含
func (o *Observer) enabled(m string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.destroyed {
		return false
	}
	for _, v := range o.views {
		if !v.disabled && v.includes(m) {
			return true
		}
	}
	return false
}

// ============================================================================
//                              CommunicatorObserver 实现
// ============================================================================

// ConnectionEstablishmentObserver 实现 CommunicatorObserver
func (o *Observer) ConnectionEstablishmentObserver(string) interfaces.Observer {
	if !o.enabled(MapConnectionEstablishment) {
		return nil
	}
	return &establishmentObserver{o: o}
}

// ThreadObserver 实现 CommunicatorObserver
func (o *Observer) ThreadObserver(parent, _ string, state types.ThreadState, old interfaces.ThreadObserver) interfaces.ThreadObserver {
	if !o.enabled(MapThread) {
		return nil
	}
	if t, ok := old.(*threadObserver); ok && t.o == o {
		return t
	}
	return &threadObserver{o: o, parent: parent, state: state}
}

// ConnectionObserver 实现 CommunicatorObserver
func (o *Observer) ConnectionObserver(_, _ string, state types.ConnectionState, old interfaces.ConnectionObserver) interfaces.ConnectionObserver {
	if !o.enabled(MapConnection) {
		return nil
	}
	if c, ok := old.(*connectionObserver); ok && c.o == o {
		c.setState(state)
		return c
	}
	return &connectionObserver{o: o, state: state}
}

// InvocationObserver 实现 CommunicatorObserver
func (o *Observer) InvocationObserver(_, operation string) interfaces.InvocationObserver {
	if !o.enabled(MapInvocation) {
		return nil
	}
	return &invocationObserver{o: o, operation: operation}
}

// DispatchObserver 实现 CommunicatorObserver
func (o *Observer) DispatchObserver(adapter, operation string) interfaces.DispatchObserver {
	if !o.enabled(MapDispatch) {
		return nil
	}
	return &dispatchObserver{o: o, adapter: adapter, operation: operation}
}

// SetObserverUpdater 实现 CommunicatorObserver
func (o *Observer) SetObserverUpdater(u interfaces.ObserverUpdater) {
	o.mu.Lock()
	o.updater = u
	o.mu.Unlock()
}

// Destroy 停止插桩，之后所有观察者获取都返回 nil
func (o *Observer) Destroy() {
	o.mu.Lock()
	o.destroyed = true
	o.updater = nil
	o.mu.Unlock()
}

// refresh 通知更新器重新获取线程与连接观察者
func (o *Observer) refresh() {
	o.mu.RLock()
	u := o.updater
	o.mu.RUnlock()
	if u == nil {
		return
	}
	u.UpdateConnectionObservers()
	u.UpdateThreadObservers()
}

// PropertiesUpdated 响应 Properties facet 的属性更新
//
// 任一 IceMX.Metrics.* 键变化时重新解析视图并刷新观察者。
func (o *Observer) PropertiesUpdated(changes map[string]string) {
	touched := false
	for k := range changes {
		if strings.HasPrefix(k, PropertyPrefix) {
			touched = true
			break
		}
	}
	if !touched {
		return
	}
	o.mu.Lock()
	o.views = parseViews(o.props)
	o.mu.Unlock()
	logger.Debug("指标视图已重新加载", "views", len(o.views))
	o.refresh()
}

// ============================================================================
//                              观察者实现
// ============================================================================

type threadObserver struct {
	o      *Observer
	parent string

	mu       sync.Mutex
	state    types.ThreadState
	attached bool
}

func (t *threadObserver) Attach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.attached {
		t.attached = true
		t.o.threads.WithLabelValues(t.parent, t.state.String()).Inc()
	}
}

func (t *threadObserver) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attached {
		t.attached = false
		t.o.threads.WithLabelValues(t.parent, t.state.String()).Dec()
	}
}

func (t *threadObserver) Failed(error) {}

func (t *threadObserver) StateChanged(_, newState types.ThreadState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attached {
		t.o.threads.WithLabelValues(t.parent, t.state.String()).Dec()
		t.o.threads.WithLabelValues(t.parent, newState.String()).Inc()
	}
	t.state = newState
}

type connectionObserver struct {
	o *Observer

	mu       sync.Mutex
	state    types.ConnectionState
	attached bool
}

func (c *connectionObserver) setState(s types.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached && s != c.state {
		c.o.connections.WithLabelValues(c.state.String()).Dec()
		c.o.connections.WithLabelValues(s.String()).Inc()
	}
	c.state = s
}

func (c *connectionObserver) Attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		c.attached = true
		c.o.connections.WithLabelValues(c.state.String()).Inc()
	}
}

func (c *connectionObserver) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		c.attached = false
		c.o.connections.WithLabelValues(c.state.String()).Dec()
	}
}

func (c *connectionObserver) Failed(error)        {}
func (c *connectionObserver) SentBytes(n int)     { c.o.sentBytes.Add(float64(n)) }
func (c *connectionObserver) ReceivedBytes(n int) { c.o.receivedBytes.Add(float64(n)) }

// timed 记录 Attach 到 Detach 的耗时
type timed struct {
	clock clock.Clock
	start time.Time
}

func (t *timed) begin(c clock.Clock) { t.clock, t.start = c, c.Now() }

func (t *timed) elapsed() float64 {
	if t.clock == nil {
		return 0
	}
	return t.clock.Since(t.start).Seconds()
}

type establishmentObserver struct {
	o *Observer
	timed
}

func (e *establishmentObserver) Attach() { e.begin(e.o.clock) }
func (e *establishmentObserver) Detach() {
	e.o.establishments.Inc()
	e.o.establishmentSeconds.Observe(e.elapsed())
}
func (e *establishmentObserver) Failed(error) { e.o.establishmentFailures.Inc() }

type invocationObserver struct {
	o         *Observer
	operation string
	timed
}

func (i *invocationObserver) Attach() { i.begin(i.o.clock) }
func (i *invocationObserver) Detach() {
	i.o.invocations.WithLabelValues(i.operation).Inc()
	i.o.invocationSeconds.WithLabelValues(i.operation).Observe(i.elapsed())
}
func (i *invocationObserver) Failed(error)   { i.o.invocationFailures.WithLabelValues(i.operation).Inc() }
func (i *invocationObserver) Retried()       { i.o.invocationRetries.WithLabelValues(i.operation).Inc() }
func (i *invocationObserver) UserException() { i.o.invocationUserExc.WithLabelValues(i.operation).Inc() }

type dispatchObserver struct {
	o                  *Observer
	adapter, operation string
	timed
}

func (d *dispatchObserver) Attach() { d.begin(d.o.clock) }
func (d *dispatchObserver) Detach() {
	d.o.dispatches.WithLabelValues(d.adapter, d.operation).Inc()
	d.o.dispatchSeconds.WithLabelValues(d.adapter, d.operation).Observe(d.elapsed())
}
func (d *dispatchObserver) Failed(error) {
	d.o.dispatchFailures.WithLabelValues(d.adapter, d.operation).Inc()
}
func (d *dispatchObserver) UserException() {
	d.o.dispatchUserExc.WithLabelValues(d.adapter, d.operation).Inc()
}
