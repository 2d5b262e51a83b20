package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-commrt/internal/core/timer"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/retry")

// Request 可重试的调用
type Request interface {
	// Retry 在线程池中重新发送
	Retry()

	// Cancel 以 err 结束调用
	Cancel(err error)

	// String 用于跟踪输出
	String() string
}

// Executor 执行到期的重试
//
// 由客户端线程池实现。
type Executor interface {
	Dispatch(fn func()) error
}

// Option 队列选项
type Option func(*Queue)

// WithLogger 设置跟踪输出
func WithLogger(l interfaces.Logger, traceLevel int) Option {
	return func(q *Queue) {
		q.logger = l
		q.traceLevel = traceLevel
	}
}

// entry 一个已调度的重试
//
// entry 是 Timer 任务本身，因此同一时刻最多被一个定时任务持有。
type entry struct {
	q       *Queue
	req     Request
	attempt int
}

func (e *entry) RunTimerTask() { e.q.fire(e) }

// Queue 重试队列
type Queue struct {
	timer      *timer.Timer
	executor   Executor
	logger     interfaces.Logger
	traceLevel int

	mu        sync.Mutex
	cond      *sync.Cond
	entries   map[*entry]struct{}
	firing    int
	destroyed bool
}

// NewQueue 创建重试队列
func NewQueue(t *timer.Timer, executor Executor, opts ...Option) *Queue {
	q := &Queue{
		timer:    t,
		executor: executor,
		entries:  make(map[*entry]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add 在 delay 后重试 req
//
// attempt 仅用于跟踪输出。
func (q *Queue) Add(req Request, attempt int, delay time.Duration) error {
	e := &entry{q: q, req: req, attempt: attempt}

	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return types.ErrCommunicatorDestroyed
	}
	q.entries[e] = struct{}{}
	q.mu.Unlock()

	if err := q.timer.Schedule(e, delay); err != nil {
		q.mu.Lock()
		delete(q.entries, e)
		q.cond.Broadcast()
		q.mu.Unlock()
		return err
	}
	tracelevels.Trace(q.logger, q.traceLevel, 1, tracelevels.RetryCat,
		fmt.Sprintf("retrying operation call %d in %dms: %s", attempt, delay.Milliseconds(), req))
	return nil
}

// Remove 取消尚未到期的重试，返回是否取消成功
func (q *Queue) Remove(req Request) bool {
	q.mu.Lock()
	var found *entry
	for e := range q.entries {
		if e.req == req {
			found = e
			break
		}
	}
	q.mu.Unlock()
	if found == nil || !q.timer.Cancel(found) {
		return false
	}

	q.mu.Lock()
	delete(q.entries, found)
	q.cond.Broadcast()
	q.mu.Unlock()
	return true
}

// Len 待执行的重试数量
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) fire(e *entry) {
	q.mu.Lock()
	if _, ok := q.entries[e]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.entries, e)
	q.firing++
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.firing--
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	if err := q.executor.Dispatch(e.req.Retry); err != nil {
		logger.Debug("重试派发失败", "request", e.req.String(), "error", err)
		e.req.Cancel(err)
	}
}

// Destroy 取消所有未到期的重试，并等待已到期的重试提交完毕
func (q *Queue) Destroy() {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	pending := make([]*entry, 0, len(q.entries))
	for e := range q.entries {
		pending = append(pending, e)
	}
	q.mu.Unlock()

	for _, e := range pending {
		if q.timer.Cancel(e) {
			q.mu.Lock()
			delete(q.entries, e)
			q.mu.Unlock()
			e.req.Cancel(types.ErrCommunicatorDestroyed)
		}
	}

	// 未能取消的条目正在被 Timer 执行
	q.mu.Lock()
	for len(q.entries) > 0 || q.firing > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
	logger.Debug("重试队列已销毁", "cancelled", len(pending))
}
