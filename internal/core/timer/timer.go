// Package timer 实现通信器的单 goroutine 定时器
//
// 所有任务在同一个 goroutine 上按触发时间依次执行（同一时间按调度顺序），
// 用于重试延迟、连接空闲检测与插桩轮询。
package timer

import (
	"bytes"
	"container/heap"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/timer")

// Task 定时任务
//
// 任务以接口值为键，Cancel 依赖其可比较性，实现应使用指针类型。
type Task interface {
	RunTimerTask()
}

// FuncTask 函数任务
type FuncTask struct {
	fn func()
}

// NewTask 把函数包装为可取消的任务
func NewTask(fn func()) *FuncTask {
	return &FuncTask{fn: fn}
}

// RunTimerTask 实现 Task
func (f *FuncTask) RunTimerTask() { f.fn() }

// Option 定时器选项
type Option func(*Timer)

// WithClock 指定时钟（测试中使用 clock.NewMock()）
func WithClock(c clock.Clock) Option {
	return func(t *Timer) { t.clock = c }
}

// WithPanicHandler 指定任务 panic 处理函数
//
// 未设置时任务的 panic 会在恢复观察者状态后继续向上传播。
func WithPanicHandler(fn func(v any)) Option {
	return func(t *Timer) { t.onPanic = fn }
}

// Timer 单 goroutine 定时器
type Timer struct {
	clock   clock.Clock
	onPanic func(v any)

	mu        sync.Mutex
	queue     entryHeap
	tasks     map[Task]*entry
	seq       uint64
	destroyed bool

	obsMu    sync.Mutex
	observer interfaces.ThreadObserver

	// gid 执行任务的 goroutine ID，Destroy 据此识别任务内调用
	gid  atomic.Uint64
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New 创建定时器并启动其 goroutine
func New(opts ...Option) *Timer {
	t := &Timer{
		clock: clock.New(),
		tasks: make(map[Task]*entry),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run()
	return t
}

// Clock 返回定时器使用的时钟
func (t *Timer) Clock() clock.Clock {
	return t.clock
}

// Schedule 在 delay 之后执行一次任务
func (t *Timer) Schedule(task Task, delay time.Duration) error {
	return t.schedule(task, delay, 0)
}

// ScheduleRepeated 每隔 period 执行一次任务
func (t *Timer) ScheduleRepeated(task Task, period time.Duration) error {
	if period <= 0 {
		period = time.Millisecond
	}
	return t.schedule(task, period, period)
}

func (t *Timer) schedule(task Task, delay, period time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return types.ErrCommunicatorDestroyed
	}
	if _, ok := t.tasks[task]; ok {
		t.mu.Unlock()
		return types.AlreadyRegistered("timer task", "")
	}
	t.seq++
	e := &entry{task: task, fireAt: t.clock.Now().Add(delay), period: period, seq: t.seq}
	heap.Push(&t.queue, e)
	t.tasks[task] = e
	t.mu.Unlock()

	t.signal()
	return nil
}

// Cancel 取消尚未触发的任务，返回是否找到该任务
func (t *Timer) Cancel(task Task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.tasks[task]
	if !ok {
		return false
	}
	delete(t.tasks, task)
	if e.index >= 0 {
		heap.Remove(&t.queue, e.index)
	}
	return true
}

// Pending 返回待执行任务数
func (t *Timer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Destroy 停止定时器并丢弃所有未触发的任务
//
// 等待 goroutine 退出；只有从定时器自身 goroutine（任务内部）调用时不等待。
// 重复调用无副作用，但其他 goroutine 的调用同样等待到 goroutine 退出。
func (t *Timer) Destroy() {
	t.mu.Lock()
	first := !t.destroyed
	if first {
		t.destroyed = true
		t.queue = nil
		t.tasks = make(map[Task]*entry)
	}
	t.mu.Unlock()

	if first {
		close(t.stop)
	}
	if goroutineID() == t.gid.Load() {
		logger.Debug("在任务内销毁定时器，不等待线程退出")
		return
	}
	<-t.done
}

// goroutineID 解析当前 goroutine 的 ID（runtime.Stack 首行 "goroutine N [...]"）
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Done 返回 goroutine 退出时关闭的 channel
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// UpdateObserver 从通信器观察者获取（或刷新）定时器线程观察者
func (t *Timer) UpdateObserver(obsv interfaces.CommunicatorObserver) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	old := t.observer
	if obsv == nil {
		t.observer = nil
	} else {
		t.observer = obsv.ThreadObserver("Communicator", "Ice.Timer", types.ThreadStateIdle, old)
	}
	swapObserver(old, t.observer)
}

// swapObserver 观察者更换时结束旧观察者并开始新观察者
func swapObserver(old, cur interfaces.ThreadObserver) {
	if old == cur {
		return
	}
	if old != nil {
		old.Detach()
	}
	if cur != nil {
		cur.Attach()
	}
}

// SetObserver 直接设置线程观察者
func (t *Timer) SetObserver(obs interfaces.ThreadObserver) {
	t.obsMu.Lock()
	t.observer = obs
	t.obsMu.Unlock()
}

func (t *Timer) currentObserver() interfaces.ThreadObserver {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	return t.observer
}

func (t *Timer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// ============================================================================
//                              执行循环
// ============================================================================

func (t *Timer) run() {
	t.gid.Store(goroutineID())
	defer close(t.done)
	defer func() {
		t.obsMu.Lock()
		swapObserver(t.observer, nil)
		t.observer = nil
		t.obsMu.Unlock()
	}()
	for {
		t.mu.Lock()
		if t.destroyed {
			t.mu.Unlock()
			return
		}
		var (
			due  *entry
			wait time.Duration = -1
		)
		if len(t.queue) > 0 {
			e := t.queue[0]
			now := t.clock.Now()
			if !e.fireAt.After(now) {
				heap.Pop(&t.queue)
				if e.period > 0 {
					// 重复任务在执行前重新入队，执行期间可被取消
					t.seq++
					next := &entry{task: e.task, fireAt: now.Add(e.period), period: e.period, seq: t.seq}
					heap.Push(&t.queue, next)
					t.tasks[e.task] = next
				} else {
					delete(t.tasks, e.task)
				}
				due = e
			} else {
				wait = e.fireAt.Sub(now)
			}
		}
		t.mu.Unlock()

		if due != nil {
			t.runTask(due.task)
			continue
		}

		if wait < 0 {
			select {
			case <-t.wake:
			case <-t.stop:
			}
			continue
		}

		tm := t.clock.Timer(wait)
		select {
		case <-tm.C:
		case <-t.wake:
			tm.Stop()
		case <-t.stop:
			tm.Stop()
		}
	}
}

// runTask 执行任务，前后通知观察者
//
// 即使任务 panic，观察者也会恢复为 Idle。
func (t *Timer) runTask(task Task) {
	obs := t.currentObserver()
	if obs != nil {
		obs.StateChanged(types.ThreadStateIdle, types.ThreadStateInUseForOther)
	}

	defer func() {
		if obs != nil {
			obs.StateChanged(types.ThreadStateInUseForOther, types.ThreadStateIdle)
		}
		if r := recover(); r != nil {
			if t.onPanic == nil {
				panic(r)
			}
			t.onPanic(r)
		}
	}()

	task.RunTimerTask()
}

// ============================================================================
//                              任务堆
// ============================================================================

type entry struct {
	task   Task
	fireAt time.Time
	period time.Duration
	seq    uint64
	index  int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
