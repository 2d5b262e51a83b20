// Package threadpool 实现通信器的 worker 线程池
//
// 客户端线程池在 finishSetup 阶段创建，服务端线程池在首次使用时创建。
// worker 数量从 Size 起按需增长到 SizeMax，超出 Size 的 worker
// 空闲 ThreadIdleTime 后退出。
//
// 销毁约定：
//   - Destroy 之后 Dispatch 返回 ErrCommunicatorDestroyed
//   - 已排队的工作在 worker 退出前执行完毕
//   - JoinWithAllThreads 必须在 Destroy 之后调用
package threadpool

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/threadpool")

// Stats 线程池运行状态
type Stats struct {
	Name    string
	Threads int
	InUse   int
	Queued  int
	Size    int
	SizeMax int
}

// Option 线程池选项
type Option func(*ThreadPool)

// WithObserver 设置通信器观察者，用于获取每个 worker 的线程观察者
func WithObserver(obsv interfaces.CommunicatorObserver) Option {
	return func(p *ThreadPool) { p.obsv = obsv }
}

// WithLogger 设置通信器 Logger
func WithLogger(l interfaces.Logger) Option {
	return func(p *ThreadPool) { p.logger = l }
}

// WithTraceLevel 设置 Ice.Trace.ThreadPool 级别
func WithTraceLevel(level int) Option {
	return func(p *ThreadPool) { p.traceLevel = level }
}

// WithIdleHandler 线程池整体空闲 d 之后调用 fn（Ice.ServerIdleTime）
func WithIdleHandler(d time.Duration, fn func()) Option {
	return func(p *ThreadPool) {
		if d > 0 && fn != nil {
			p.idleTime = d
			p.idleFn = fn
		}
	}
}

// WithPrintStackTraces 工作 panic 时在日志中附带调用栈
func WithPrintStackTraces(enabled bool) Option {
	return func(p *ThreadPool) { p.printStack = enabled }
}

type workItem struct {
	fn    func()
	state types.ThreadState
}

type worker struct {
	name     string
	observer interfaces.ThreadObserver
	state    types.ThreadState
}

// ThreadPool worker 线程池
type ThreadPool struct {
	name       string
	cfg        config.ThreadPoolConfig
	logger     interfaces.Logger
	traceLevel int
	printStack bool

	mu        sync.Mutex
	queue     []workItem
	workers   map[*worker]struct{}
	inUse     int
	nextID    int
	destroyed bool

	signal chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	warn rate.Sometimes

	idleTime  time.Duration
	idleFn    func()
	idleTimer *time.Timer

	obsMu sync.Mutex
	obsv  interfaces.CommunicatorObserver
}

// New 创建线程池并启动 Size 个 worker
func New(name string, cfg config.ThreadPoolConfig, opts ...Option) *ThreadPool {
	cfg.Normalize(name)
	p := &ThreadPool{
		name:    name,
		cfg:     cfg,
		workers: make(map[*worker]struct{}),
		signal:  make(chan struct{}, cfg.SizeMax),
		stop:    make(chan struct{}),
		warn:    rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.trace(fmt.Sprintf("creating %s: Size = %d, SizeMax = %d, SizeWarn = %d",
		name, cfg.Size, cfg.SizeMax, cfg.SizeWarn))

	p.mu.Lock()
	for i := 0; i < cfg.Size; i++ {
		p.spawnLocked()
	}
	if p.idleFn != nil {
		p.idleTimer = time.AfterFunc(p.idleTime, p.onIdle)
	}
	p.mu.Unlock()

	logger.Debug("线程池已创建", "pool", name, "size", cfg.Size, "sizeMax", cfg.SizeMax)
	return p
}

// Serialize 连接是否应逐个提交请求（<prefix>.Serialize）
func (p *ThreadPool) Serialize() bool {
	return p.cfg.Serialize
}

// Name 返回线程池名称
func (p *ThreadPool) Name() string {
	return p.name
}

// Dispatch 以 InUseForUser 状态执行 fn
func (p *ThreadPool) Dispatch(fn func()) error {
	return p.DispatchAs(types.ThreadStateInUseForUser, fn)
}

// DispatchAs 以指定的线程状态执行 fn
func (p *ThreadPool) DispatchAs(state types.ThreadState, fn func()) error {
	if fn == nil {
		return nil
	}
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return types.ErrCommunicatorDestroyed
	}
	p.queue = append(p.queue, workItem{fn: fn, state: state})
	idle := len(p.workers) - p.inUse
	if len(p.queue) > idle && len(p.workers) < p.cfg.SizeMax {
		p.spawnLocked()
		p.trace(fmt.Sprintf("growing %s: Size = %d", p.name, len(p.workers)))
	}
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

// Destroy 停止接收新工作，worker 执行完已排队工作后退出
//
// 重复调用无副作用。
func (p *ThreadPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	close(p.stop)
	logger.Debug("线程池已销毁", "pool", p.name, "queued", len(p.queue))
}

// IsDestroyed 是否已销毁
func (p *ThreadPool) IsDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// JoinWithAllThreads 等待所有 worker 退出
func (p *ThreadPool) JoinWithAllThreads() error {
	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if !destroyed {
		return fmt.Errorf("%s: %w", p.name, types.ErrNotDestroyed)
	}
	p.wg.Wait()
	return nil
}

// UpdateObservers 刷新所有 worker 的线程观察者
func (p *ThreadPool) UpdateObservers() {
	p.mu.Lock()
	workers := make([]*worker, 0, len(p.workers))
	for w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	for _, w := range workers {
		p.updateObserverLocked(w)
	}
}

// SetObserver 更换通信器观察者并刷新 worker 观察者
func (p *ThreadPool) SetObserver(obsv interfaces.CommunicatorObserver) {
	p.obsMu.Lock()
	p.obsv = obsv
	p.obsMu.Unlock()
	p.UpdateObservers()
}

// Stats 返回运行状态
func (p *ThreadPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:    p.name,
		Threads: len(p.workers),
		InUse:   p.inUse,
		Queued:  len(p.queue),
		Size:    p.cfg.Size,
		SizeMax: p.cfg.SizeMax,
	}
}

// ============================================================================
//                              worker
// ============================================================================

// spawnLocked 启动新 worker，调用方持有 p.mu
func (p *ThreadPool) spawnLocked() {
	w := &worker{name: fmt.Sprintf("%s-%d", p.name, p.nextID), state: types.ThreadStateIdle}
	p.nextID++
	p.workers[w] = struct{}{}
	p.wg.Add(1)

	p.obsMu.Lock()
	p.updateObserverLocked(w)
	p.obsMu.Unlock()

	go p.run(w)
}

func (p *ThreadPool) run(w *worker) {
	defer p.wg.Done()
	defer p.detachObserver(w)

	for {
		item, ok, exit := p.next(w)
		if exit {
			return
		}
		if ok {
			p.execute(w, item)
			continue
		}

		var (
			idle  <-chan time.Time
			timer *time.Timer
		)
		if p.cfg.ThreadIdleTime > 0 {
			timer = time.NewTimer(p.cfg.ThreadIdleTime.Duration())
			idle = timer.C
		}
		select {
		case <-p.signal:
		case <-p.stop:
		case <-idle:
			if p.retire(w) {
				return
			}
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// next 取出下一项工作；已销毁且队列为空时返回 exit
func (p *ThreadPool) next(w *worker) (item workItem, ok, exit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		item = p.queue[0]
		p.queue[0] = workItem{}
		p.queue = p.queue[1:]
		p.inUse++
		if p.cfg.SizeWarn > 0 && p.inUse == p.cfg.SizeWarn {
			inUse := p.inUse
			p.warn.Do(func() {
				p.logWarning(fmt.Sprintf("thread pool `%s' is running low on threads\nSize=%d, SizeMax=%d, SizeWarn=%d, InUse=%d",
					p.name, p.cfg.Size, p.cfg.SizeMax, p.cfg.SizeWarn, inUse))
			})
		}
		return item, true, false
	}
	if p.destroyed {
		delete(p.workers, w)
		return workItem{}, false, true
	}
	return workItem{}, false, false
}

// retire 空闲超时后，超出 Size 的 worker 退出
func (p *ThreadPool) retire(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 || len(p.workers) <= p.cfg.Size {
		return false
	}
	delete(p.workers, w)
	p.trace(fmt.Sprintf("shrinking %s: Size = %d", p.name, len(p.workers)))
	return true
}

func (p *ThreadPool) execute(w *worker, item workItem) {
	p.setState(w, item.state)
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("exception in `%s':\n%v", p.name, r)
			if p.printStack {
				msg += "\n" + string(debug.Stack())
			}
			p.logError(msg)
		}
		p.setState(w, types.ThreadStateIdle)

		p.mu.Lock()
		p.inUse--
		if p.idleTimer != nil && p.inUse == 0 && len(p.queue) == 0 && !p.destroyed {
			p.idleTimer.Reset(p.idleTime)
		}
		p.mu.Unlock()
	}()
	item.fn()
}

func (p *ThreadPool) onIdle() {
	p.mu.Lock()
	fire := !p.destroyed && p.inUse == 0 && len(p.queue) == 0
	p.mu.Unlock()
	if fire {
		p.trace(fmt.Sprintf("%s idle for %s, invoking idle handler", p.name, p.idleTime))
		p.idleFn()
	}
}

// ============================================================================
//                              观察者与日志
// ============================================================================

// updateObserverLocked 调用方持有 p.obsMu
func (p *ThreadPool) updateObserverLocked(w *worker) {
	old := w.observer
	if p.obsv == nil {
		w.observer = nil
	} else {
		w.observer = p.obsv.ThreadObserver(p.name, w.name, w.state, old)
	}
	if w.observer == old {
		return
	}
	if old != nil {
		old.Detach()
	}
	if w.observer != nil {
		w.observer.Attach()
	}
}

func (p *ThreadPool) setState(w *worker, state types.ThreadState) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	if w.state == state {
		return
	}
	if w.observer != nil {
		w.observer.StateChanged(w.state, state)
	}
	w.state = state
}

func (p *ThreadPool) detachObserver(w *worker) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	if w.observer != nil {
		w.observer.Detach()
		w.observer = nil
	}
}

func (p *ThreadPool) trace(msg string) {
	tracelevels.Trace(p.logger, p.traceLevel, 1, tracelevels.ThreadPoolCat, msg)
}

func (p *ThreadPool) logWarning(msg string) {
	if p.logger != nil {
		p.logger.Warning(msg)
		return
	}
	logger.Warn(msg)
}

func (p *ThreadPool) logError(msg string) {
	if p.logger != nil {
		p.logger.Error(msg)
		return
	}
	logger.Error(msg)
}
