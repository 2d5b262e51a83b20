package lifecycle

import (
	"sync"
	"time"
)

// Step 一个有名字的销毁步骤
type Step struct {
	Name string
	Run  func()
}

// Sequence 按固定顺序执行的销毁步骤
//
// Run 只生效一次，后续调用直接返回 false。
type Sequence struct {
	name string

	mu       sync.Mutex
	steps    []Step
	ran      bool
	onStep   []func(name string, elapsed time.Duration)
	executed []string
}

// NewSequence 创建步骤序列
func NewSequence(name string) *Sequence {
	return &Sequence{name: name}
}

// Add 追加步骤，fn 为 nil 时忽略
func (s *Sequence) Add(name string, fn func()) *Sequence {
	if fn == nil {
		return s
	}
	s.mu.Lock()
	s.steps = append(s.steps, Step{Name: name, Run: fn})
	s.mu.Unlock()
	return s
}

// OnStep 注册步骤完成回调
func (s *Sequence) OnStep(fn func(name string, elapsed time.Duration)) {
	s.mu.Lock()
	s.onStep = append(s.onStep, fn)
	s.mu.Unlock()
}

// Steps 返回已登记的步骤名称
func (s *Sequence) Steps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.steps))
	for i, st := range s.steps {
		names[i] = st.Name
	}
	return names
}

// Executed 返回已执行的步骤名称
func (s *Sequence) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Run 依次执行所有步骤
//
// 步骤在锁外执行，允许步骤回调通信器。
func (s *Sequence) Run() bool {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return false
	}
	s.ran = true
	steps := append([]Step(nil), s.steps...)
	observers := append(([]func(string, time.Duration))(nil), s.onStep...)
	s.mu.Unlock()

	start := time.Now()
	for _, st := range steps {
		t := time.Now()
		st.Run()
		elapsed := time.Since(t)

		s.mu.Lock()
		s.executed = append(s.executed, st.Name)
		s.mu.Unlock()

		logger.Debug("销毁步骤完成", "sequence", s.name, "step", st.Name, "elapsed", elapsed)
		for _, fn := range observers {
			fn(st.Name, elapsed)
		}
	}
	logger.Debug("销毁序列完成", "sequence", s.name, "steps", len(steps), "elapsed", time.Since(start))
	return true
}
