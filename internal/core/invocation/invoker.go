package invocation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dep2p/go-commrt/internal/core/adapter"
	"github.com/dep2p/go-commrt/internal/core/connection"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/implicitctx"
	"github.com/dep2p/go-commrt/internal/core/locator"
	"github.com/dep2p/go-commrt/internal/core/protocol"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/retry"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/invocation")

// Runtime 调用所需的运行时组件
//
// 访问器在通信器销毁后返回 ErrCommunicatorDestroyed。Adapters 为 nil 时不做并置调用。
type Runtime struct {
	References  func() *reference.Factory
	Connections func() (*connection.OutgoingFactory, error)
	Adapters    func() (*adapter.Factory, error)
	Locators    func() (*locator.Manager, error)
	Routers     func() (*locator.RouterManager, error)
	RetryQueue  func() (*retry.Queue, error)

	Policy          retry.Policy
	ImplicitContext implicitctx.ImplicitContext
	Observer        interfaces.CommunicatorObserver
	Logger          interfaces.Logger
	Traces          *tracelevels.TraceLevels
}

// Invoker 发出代理调用
type Invoker struct {
	rt Runtime
}

// New 创建 Invoker
func New(rt Runtime) *Invoker {
	if rt.Traces == nil {
		rt.Traces = &tracelevels.TraceLevels{}
	}
	return &Invoker{rt: rt}
}

type requestContextKey struct{}

// WithRequestContext 为本次调用附加显式上下文，优先于代理与隐式上下文
func WithRequestContext(ctx context.Context, m map[string]string) context.Context {
	return context.WithValue(ctx, requestContextKey{}, m)
}

// Invoke 调用 ref 上的 operation
//
// 单向代理不等待应答，返回 nil 结果。
func (inv *Invoker) Invoke(ctx context.Context, ref *reference.Reference, operation string, mode types.OperationMode, params []byte) ([]byte, error) {
	if d := ref.InvocationTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	o := &outgoing{
		inv:       inv,
		ctx:       ctx,
		ref:       ref,
		operation: operation,
		mode:      mode,
		params:    params,
		done:      make(chan result, 1),
	}
	o.requestCtx = inv.requestContext(ctx, ref)

	if obsv := inv.rt.Observer; obsv != nil {
		if o.observer = obsv.InvocationObserver(inv.proxyString(ref), operation); o.observer != nil {
			o.observer.Attach()
			defer o.observer.Detach()
		}
	}

	o.send()

	select {
	case r := <-o.done:
		return r.out, r.err
	case <-ctx.Done():
		if q, err := inv.rt.RetryQueue(); err == nil {
			q.Remove(o)
		}
		err := contextError(ctx)
		o.finish(nil, err)
		return nil, err
	}
}

func (inv *Invoker) requestContext(ctx context.Context, ref *reference.Reference) map[string]string {
	m := ref.Context()
	if ic := inv.rt.ImplicitContext; ic != nil {
		m = ic.Combine(ctx, m)
	}
	if explicit, ok := ctx.Value(requestContextKey{}).(map[string]string); ok && len(explicit) > 0 {
		merged := make(map[string]string, len(m)+len(explicit))
		for k, v := range m {
			merged[k] = v
		}
		for k, v := range explicit {
			merged[k] = v
		}
		m = merged
	}
	return m
}

func (inv *Invoker) proxyString(ref *reference.Reference) string {
	refs := inv.rt.References()
	if refs == nil {
		return ref.Identity().String()
	}
	return refs.String(ref)
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.ErrInvocationTimeout
	}
	return fmt.Errorf("%w: %v", types.ErrInvocationCanceled, ctx.Err())
}

// ============================================================================
//                              outgoing
// ============================================================================

type result struct {
	out []byte
	err error
}

// outgoing 一次进行中的调用，实现 retry.Request
type outgoing struct {
	inv        *Invoker
	ctx        context.Context
	ref        *reference.Reference
	operation  string
	mode       types.OperationMode
	params     []byte
	requestCtx map[string]string
	observer   interfaces.InvocationObserver

	mu       sync.Mutex
	attempts int
	finished bool
	done     chan result
}

// Retry 实现 retry.Request
func (o *outgoing) Retry() { o.send() }

// Cancel 实现 retry.Request
func (o *outgoing) Cancel(err error) { o.finish(nil, err) }

// String 实现 retry.Request
func (o *outgoing) String() string {
	return fmt.Sprintf("%s on %s", o.operation, o.inv.proxyString(o.ref))
}

func (o *outgoing) isFinished() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished
}

func (o *outgoing) finish(out []byte, err error) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	o.finished = true
	o.mu.Unlock()

	if err != nil && o.observer != nil {
		var ue *types.UserError
		if errors.As(err, &ue) {
			o.observer.UserException()
		} else {
			o.observer.Failed(err)
		}
	}
	o.done <- result{out: out, err: err}
}

// send 执行一次尝试，失败时决定是否交给重试队列
func (o *outgoing) send() {
	if o.isFinished() {
		return
	}
	if err := o.ctx.Err(); err != nil {
		o.finish(nil, contextError(o.ctx))
		return
	}

	out, sent, cachedInfo, err := o.attempt()
	if err == nil {
		o.finish(out, nil)
		return
	}
	o.handleFailure(err, sent, cachedInfo)
}

// attempt 返回使用了缓存端点的 LocatorInfo（未使用缓存时为 nil）
func (o *outgoing) attempt() (out []byte, sent bool, cachedInfo *locator.Info, err error) {
	rt := o.inv.rt

	if rt.Adapters != nil {
		if adapters, aerr := rt.Adapters(); aerr == nil {
			if a := adapters.FindByReference(o.ref); a != nil {
				out, err := o.collocated(a)
				return out, true, nil, err
			}
		}
	}

	eps, cachedInfo, err := o.endpoints()
	if err != nil {
		return nil, false, cachedInfo, err
	}

	conns, err := rt.Connections()
	if err != nil {
		return nil, false, nil, err
	}
	c, err := conns.Create(o.ctx, eps)
	if err != nil {
		return nil, false, cachedInfo, err
	}

	twoway := o.ref.Mode() == reference.ModeTwoway
	req := &protocol.Request{
		Identity:  o.ref.Identity(),
		Facet:     o.ref.Facet(),
		Operation: o.operation,
		Mode:      o.mode,
		Context:   o.requestCtx,
		Params:    o.params,
	}
	rep, sent, err := c.Invoke(o.ctx, req, twoway)
	if err != nil {
		return nil, sent, cachedInfo, err
	}
	if !twoway {
		return nil, true, nil, nil
	}
	if err := rep.Err(); err != nil {
		return nil, true, cachedInfo, err
	}
	return rep.Result, true, nil, nil
}

func (o *outgoing) collocated(a *adapter.ObjectAdapter) ([]byte, error) {
	current := &interfaces.Current{
		Adapter:   a.Name(),
		Identity:  o.ref.Identity(),
		Facet:     o.ref.Facet(),
		Operation: o.operation,
		Mode:      o.mode,
		Context:   o.requestCtx,
	}
	out, err := a.DispatchCurrent(o.ctx, current, o.params)
	if o.ref.Mode() == reference.ModeOneway {
		return nil, nil
	}
	return out, err
}

// endpoints 按路由器、直连、定位器的顺序选择端点
func (o *outgoing) endpoints() ([]endpoint.Endpoint, *locator.Info, error) {
	rt := o.inv.rt
	var (
		eps    []endpoint.Endpoint
		cached *locator.Info
	)

	switch {
	case o.ref.Router() != nil:
		routers, err := rt.Routers()
		if err != nil {
			return nil, nil, err
		}
		info := routers.Get(o.ref.Router())
		if info == nil {
			return nil, nil, types.ErrCommunicatorDestroyed
		}
		if eps, err = info.ClientEndpoints(o.ctx); err != nil {
			return nil, nil, err
		}
	case !o.ref.IsIndirect():
		eps = o.ref.Endpoints()
	default:
		locators, err := rt.Locators()
		if err != nil {
			return nil, nil, err
		}
		info := locators.Get(o.ref.Locator())
		if info == nil {
			return nil, nil, fmt.Errorf("%w: no locator configured for `%s'", types.ErrNoEndpoint, o.inv.proxyString(o.ref))
		}
		var fromCache bool
		eps, fromCache, err = info.Endpoints(o.ctx, o.ref)
		if err != nil {
			if locator.IsNotFound(err) {
				return nil, nil, fmt.Errorf("%w: %v", types.ErrNoEndpoint, err)
			}
			return nil, nil, err
		}
		if fromCache {
			cached = info
		}
	}

	if o.ref.Secure() {
		secure := eps[:0:0]
		for _, ep := range eps {
			if ep.Secure() {
				secure = append(secure, ep)
			}
		}
		eps = secure
	} else if o.ref.PreferSecure() {
		eps = secureFirst(eps)
	}
	if len(eps) == 0 {
		return nil, cached, fmt.Errorf("%w: %s", types.ErrNoEndpoint, o.inv.proxyString(o.ref))
	}
	return eps, cached, nil
}

// handleFailure 按错误类型决定重试或结束
func (o *outgoing) handleFailure(err error, sent bool, cachedInfo *locator.Info) {
	rt := o.inv.rt

	// 缓存的端点失效：清除缓存后立即用新端点重试
	staleCache := cachedInfo != nil && (types.IsRetryable(err) || errors.Is(err, types.ErrObjectNotExist))
	if staleCache {
		cachedInfo.ClearCache(o.ref)
	}

	retryable := types.IsRetryable(err) || staleCache
	if sent && o.mode != types.ModeIdempotent && !errors.Is(err, types.ErrCloseConnection) && !staleCache {
		retryable = false
	}
	if !retryable {
		o.finish(nil, err)
		return
	}

	o.mu.Lock()
	o.attempts++
	attempt := o.attempts
	o.mu.Unlock()

	delay, ok := rt.Policy.Delay(attempt)
	if !ok {
		tracelevels.Trace(rt.Logger, rt.Traces.Retry, 1, tracelevels.RetryCat,
			fmt.Sprintf("cannot retry operation call because retry limit has been exceeded\n%v", err))
		o.finish(nil, err)
		return
	}
	if staleCache && attempt == 1 {
		delay = 0
	}

	q, qerr := rt.RetryQueue()
	if qerr != nil {
		o.finish(nil, qerr)
		return
	}
	if o.observer != nil {
		o.observer.Retried()
	}
	tracelevels.Trace(rt.Logger, rt.Traces.Retry, 1, tracelevels.RetryCat,
		fmt.Sprintf("retrying operation call because of exception\n%v", err))
	if aerr := q.Add(o, attempt, delay); aerr != nil {
		logger.Debug("重试入队失败", "operation", o.operation, "error", aerr)
		o.finish(nil, aerr)
	}
}

// secureFirst 安全端点在前，两组内部保持原有顺序
func secureFirst(eps []endpoint.Endpoint) []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.Secure() {
			out = append(out, ep)
		}
	}
	for _, ep := range eps {
		if !ep.Secure() {
			out = append(out, ep)
		}
	}
	return out
}
