package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/admin")

// RemoteLoggerAlreadyAttachedTypeID 重复挂接远程日志时的用户异常类型
const RemoteLoggerAlreadyAttachedTypeID = "::Ice::RemoteLoggerAlreadyAttachedException"

// 远程日志订阅者的操作
const (
	OpRemoteInit = "init"
	OpRemoteLog  = "log"
)

// sendTimeout 单次转发的超时
const sendTimeout = 30 * time.Second

// Invoker 向远程日志订阅者发送调用
type Invoker interface {
	Invoke(ctx context.Context, ref *reference.Reference, operation string, mode types.OperationMode, params []byte) ([]byte, error)
}

// Parser 把代理字符串解析为引用
type Parser interface {
	Parse(s string) (*reference.Reference, error)
}

// ============================================================================
//                              消息与参数
// ============================================================================

// LogMessageType 日志消息类型
type LogMessageType int

const (
	// PrintMessage 普通消息
	PrintMessage LogMessageType = iota
	// TraceMessage 跟踪消息
	TraceMessage
	// WarningMessage 警告
	WarningMessage
	// ErrorMessage 错误
	ErrorMessage
)

var messageTypeNames = []string{"print", "trace", "warning", "error"}

// String 返回类型名称
func (t LogMessageType) String() string {
	if t >= 0 && int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return "unknown"
}

// MarshalText 实现 encoding.TextMarshaler
func (t LogMessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (t *LogMessageType) UnmarshalText(b []byte) error {
	for i, n := range messageTypeNames {
		if n == string(b) {
			*t = LogMessageType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown log message type %q", b)
}

// LogMessage 一条日志消息
type LogMessage struct {
	Type LogMessageType `json:"type"`
	// Timestamp 自 Unix 纪元起的微秒数
	Timestamp     int64  `json:"timestamp"`
	TraceCategory string `json:"traceCategory,omitempty"`
	Message       string `json:"message"`
}

// LogFilter 消息过滤条件
type LogFilter struct {
	// MessageTypes 为空表示全部类型
	MessageTypes []LogMessageType `json:"messageTypes,omitempty"`
	// TraceCategories 为空表示全部跟踪类别
	TraceCategories []string `json:"traceCategories,omitempty"`
	// MessageMax 返回的最多条数，负数表示不限
	MessageMax int `json:"messageMax"`
}

// AttachParams attachRemoteLogger 参数
type AttachParams struct {
	Proxy string `json:"proxy"`
	LogFilter
}

// DetachParams detachRemoteLogger 参数
type DetachParams struct {
	Proxy string `json:"proxy"`
}

// GetLogResult getLog 结果，也是远程 init 的参数
type GetLogResult struct {
	Prefix   string       `json:"prefix"`
	Messages []LogMessage `json:"messages"`
}

type filter struct {
	types      map[LogMessageType]bool
	categories map[string]bool
}

func newFilter(f LogFilter) filter {
	fl := filter{}
	if len(f.MessageTypes) > 0 {
		fl.types = make(map[LogMessageType]bool)
		for _, t := range f.MessageTypes {
			fl.types[t] = true
		}
	}
	if len(f.TraceCategories) > 0 {
		fl.categories = make(map[string]bool)
		for _, c := range f.TraceCategories {
			fl.categories[c] = true
		}
	}
	return fl
}

func (f filter) matches(m LogMessage) bool {
	if f.types != nil && !f.types[m.Type] {
		return false
	}
	if m.Type == TraceMessage && f.categories != nil && !f.categories[m.TraceCategory] {
		return false
	}
	return true
}

// selectFrom 返回匹配的最近 max 条消息（max < 0 不限）
func (f filter) selectFrom(queue []LogMessage, max int) []LogMessage {
	if max == 0 {
		return nil
	}
	var out []LogMessage
	for i := len(queue) - 1; i >= 0; i-- {
		if f.matches(queue[i]) {
			out = append(out, queue[i])
			if max > 0 && len(out) == max {
				break
			}
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ============================================================================
//                              LoggerAdmin
// ============================================================================

type remoteLogger struct {
	ref    *reference.Reference
	proxy  string
	filter filter
}

type sendJob struct {
	remote *remoteLogger
	op     string
	params []byte
}

// LoggerAdmin Logger facet
//
// 保存最近的日志与跟踪消息，并把新消息异步转发给挂接的远程日志订阅者。
// 转发由一个 goroutine 按顺序完成，失败的订阅者被自动摘除。
type LoggerAdmin struct {
	local   interfaces.Logger
	cfg     config.LoggerAdminConfig
	invoker Invoker
	parser  Parser
	now     func() time.Time

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []LogMessage
	logCount   int
	traceCount int
	remotes    map[types.Identity]*remoteLogger
	pending    []sendJob
	destroyed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ interfaces.Servant = (*LoggerAdmin)(nil)

// NewLoggerAdmin 创建 LoggerAdmin 并启动转发 goroutine
func NewLoggerAdmin(local interfaces.Logger, cfg config.LoggerAdminConfig, invoker Invoker, parser Parser) *LoggerAdmin {
	a := &LoggerAdmin{
		local:   local,
		cfg:     cfg,
		invoker: invoker,
		parser:  parser,
		now:     time.Now,
		remotes: make(map[types.Identity]*remoteLogger),
		done:    make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	a.ctx, a.cancel = context.WithCancel(context.Background())
	go a.run()
	return a
}

// Logger 返回截获消息的 Logger，替换通信器原有 Logger
func (a *LoggerAdmin) Logger() interfaces.Logger {
	return &adminLogger{admin: a, local: a.local}
}

// Dispatch 实现 Servant
func (a *LoggerAdmin) Dispatch(_ context.Context, cur *interfaces.Current, params []byte) ([]byte, error) {
	switch cur.Operation {
	case "attachRemoteLogger":
		var p AttachParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return nil, a.AttachRemoteLogger(p.Proxy, p.LogFilter)
	case "detachRemoteLogger":
		var p DetachParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		ok, err := a.DetachRemoteLogger(p.Proxy)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ok)
	case "getLog":
		var p LogFilter
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return json.Marshal(a.GetLog(p))
	}
	return nil, types.ErrOperationNotExist
}

// AttachRemoteLogger 挂接远程日志订阅者，并异步发送 init
func (a *LoggerAdmin) AttachRemoteLogger(proxy string, f LogFilter) error {
	ref, err := a.parser.Parse(proxy)
	if err != nil {
		return err
	}
	if ref == nil {
		return fmt.Errorf("%w: null remote logger proxy", types.ErrProxyParse)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return types.ErrCommunicatorDestroyed
	}
	if _, ok := a.remotes[ref.Identity()]; ok {
		return &types.UserError{TypeID: RemoteLoggerAlreadyAttachedTypeID, Message: proxy}
	}
	r := &remoteLogger{ref: ref, proxy: proxy, filter: newFilter(f)}
	a.remotes[ref.Identity()] = r

	initParams, err := json.Marshal(GetLogResult{
		Prefix:   a.local.Prefix(),
		Messages: r.filter.selectFrom(a.queue, f.MessageMax),
	})
	if err != nil {
		return err
	}
	a.enqueueLocked(sendJob{remote: r, op: OpRemoteInit, params: initParams})
	a.trace(1, fmt.Sprintf("attached `%s'", proxy))
	return nil
}

// DetachRemoteLogger 摘除远程日志订阅者，返回是否曾挂接
func (a *LoggerAdmin) DetachRemoteLogger(proxy string) (bool, error) {
	ref, err := a.parser.Parse(proxy)
	if err != nil {
		return false, err
	}
	if ref == nil {
		return false, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.remotes[ref.Identity()]
	delete(a.remotes, ref.Identity())
	if ok {
		a.trace(1, fmt.Sprintf("detached `%s'", proxy))
	}
	return ok, nil
}

// GetLog 返回匹配的最近消息
func (a *LoggerAdmin) GetLog(f LogFilter) GetLogResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return GetLogResult{
		Prefix:   a.local.Prefix(),
		Messages: newFilter(f).selectFrom(a.queue, f.MessageMax),
	}
}

// RemoteLoggers 返回已挂接的订阅者数量
func (a *LoggerAdmin) RemoteLoggers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.remotes)
}

// log 记录消息并转发给匹配的订阅者
func (a *LoggerAdmin) log(m LogMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 跟踪消息与其他消息分别受 KeepTraces、KeepLogs 限制
	if m.Type == TraceMessage {
		if a.cfg.KeepTraces > 0 {
			a.queue = append(a.queue, m)
			a.traceCount++
			if a.traceCount > a.cfg.KeepTraces {
				a.dropOldest(true)
			}
		}
	} else if a.cfg.KeepLogs > 0 {
		a.queue = append(a.queue, m)
		a.logCount++
		if a.logCount > a.cfg.KeepLogs {
			a.dropOldest(false)
		}
	}

	if a.destroyed || len(a.remotes) == 0 {
		return
	}
	var params []byte
	for _, r := range a.remotes {
		if !r.filter.matches(m) {
			continue
		}
		if params == nil {
			var err error
			if params, err = json.Marshal(m); err != nil {
				return
			}
		}
		a.enqueueLocked(sendJob{remote: r, op: OpRemoteLog, params: params})
	}
}

func (a *LoggerAdmin) dropOldest(trace bool) {
	for i, m := range a.queue {
		if (m.Type == TraceMessage) == trace {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			if trace {
				a.traceCount--
			} else {
				a.logCount--
			}
			return
		}
	}
}

func (a *LoggerAdmin) enqueueLocked(j sendJob) {
	a.pending = append(a.pending, j)
	a.cond.Signal()
}

func (a *LoggerAdmin) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.pending) == 0 && !a.destroyed {
			a.cond.Wait()
		}
		if a.destroyed {
			a.pending = nil
			a.mu.Unlock()
			return
		}
		j := a.pending[0]
		a.pending = a.pending[1:]
		attached := a.remotes[j.remote.ref.Identity()] == j.remote
		a.mu.Unlock()

		if attached {
			a.send(j)
		}
	}
}

func (a *LoggerAdmin) send(j sendJob) {
	ctx, cancel := context.WithTimeout(a.ctx, sendTimeout)
	defer cancel()
	_, err := a.invoker.Invoke(ctx, j.remote.ref, j.op, types.ModeNormal, j.params)
	if err == nil {
		a.mu.Lock()
		a.trace(2, fmt.Sprintf("%s on `%s' completed successfully", j.op, j.remote.proxy))
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	if a.remotes[j.remote.ref.Identity()] == j.remote {
		delete(a.remotes, j.remote.ref.Identity())
		a.trace(1, fmt.Sprintf("detached `%s' because %s raised:\n%v", j.remote.proxy, j.op, err))
	}
	logger.Debug("转发远程日志失败", "proxy", j.remote.proxy, "op", j.op, "error", err)
}

// trace 直接写本地 Logger，不经过 adminLogger
func (a *LoggerAdmin) trace(level int, msg string) {
	tracelevels.Trace(a.local, a.cfg.TraceLevel, level, tracelevels.AdminLoggerCat, msg)
}

// Destroy 停止转发并摘除所有订阅者
func (a *LoggerAdmin) Destroy() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.destroyed = true
	a.remotes = make(map[types.Identity]*remoteLogger)
	a.cond.Broadcast()
	a.mu.Unlock()

	a.cancel()
	<-a.done
}

// ============================================================================
//                              adminLogger
// ============================================================================

// adminLogger 写本地 Logger 并把消息交给 LoggerAdmin
type adminLogger struct {
	admin *LoggerAdmin
	local interfaces.Logger
}

func (l *adminLogger) record(t LogMessageType, category, msg string) {
	l.admin.log(LogMessage{
		Type:          t,
		Timestamp:     l.admin.now().UnixMicro(),
		TraceCategory: category,
		Message:       msg,
	})
}

func (l *adminLogger) Print(message string) {
	l.local.Print(message)
	l.record(PrintMessage, "", message)
}

func (l *adminLogger) Trace(category, message string) {
	l.local.Trace(category, message)
	l.record(TraceMessage, category, message)
}

func (l *adminLogger) Warning(message string) {
	l.local.Warning(message)
	l.record(WarningMessage, "", message)
}

func (l *adminLogger) Error(message string) {
	l.local.Error(message)
	l.record(ErrorMessage, "", message)
}

func (l *adminLogger) Prefix() string { return l.local.Prefix() }

// CloneWithPrefix 返回本地 Logger 的副本，副本不再被截获
func (l *adminLogger) CloneWithPrefix(prefix string) interfaces.Logger {
	return l.local.CloneWithPrefix(prefix)
}
