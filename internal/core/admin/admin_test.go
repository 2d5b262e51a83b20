package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// recordingLogger 记录输出的本地 Logger
type recordingLogger struct {
	mu     sync.Mutex
	prefix string
	lines  []string
}

func (l *recordingLogger) add(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

func (l *recordingLogger) Print(m string)                             { l.add("print: " + m) }
func (l *recordingLogger) Trace(c, m string)                          { l.add(c + ": " + m) }
func (l *recordingLogger) Warning(m string)                           { l.add("warning: " + m) }
func (l *recordingLogger) Error(m string)                             { l.add("error: " + m) }
func (l *recordingLogger) Prefix() string                             { return l.prefix }
func (l *recordingLogger) CloneWithPrefix(p string) interfaces.Logger { return &recordingLogger{prefix: p} }

func (l *recordingLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

type call struct {
	identity string
	op       string
	params   []byte
}

// fakeInvoker 记录发往远程日志订阅者的调用
type fakeInvoker struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]bool
}

func (f *fakeInvoker) Invoke(_ context.Context, ref *reference.Reference, op string, _ types.OperationMode, params []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{identity: ref.Identity().Name, op: op, params: params})
	if f.fail[ref.Identity().Name] {
		return nil, types.ErrConnectFailed
	}
	return nil, nil
}

func (f *fakeInvoker) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newParser(t *testing.T) *reference.Factory {
	eps := endpoint.NewFactoryManager(endpoint.Defaults{Protocol: "tcp", Timeout: time.Second}, nil)
	t.Cleanup(eps.Destroy)
	return reference.NewFactory(eps, types.ToStringUnicode, config.DefaultDefaultsConfig())
}

// TestFilter 测试 facet 白名单
func TestFilter(t *testing.T) {
	all := NewFilter(nil)
	assert.True(t, all.Empty())
	assert.True(t, all.Allows(MetricsFacet))

	f := NewFilter([]string{ProcessFacet, PropertiesFacet})
	assert.False(t, f.Empty())
	assert.True(t, f.Allows(ProcessFacet))
	assert.False(t, f.Allows(LoggerFacet))
}

// TestProcess_WriteMessage 测试 writeMessage 与 shutdown
func TestProcess_WriteMessage(t *testing.T) {
	shut := make(chan struct{}, 1)
	p := NewProcess(func() { shut <- struct{}{} })
	var stdout, stderr bytes.Buffer
	p.SetOutput(&stdout, &stderr)

	ctx := context.Background()
	params, _ := json.Marshal(WriteMessageParams{Message: "out", FD: 1})
	_, err := p.Dispatch(ctx, &interfaces.Current{Operation: "writeMessage"}, params)
	require.NoError(t, err)
	params, _ = json.Marshal(WriteMessageParams{Message: "err", FD: 2})
	_, err = p.Dispatch(ctx, &interfaces.Current{Operation: "writeMessage"}, params)
	require.NoError(t, err)
	require.NoError(t, p.WriteMessage("ignored", 3))

	assert.Equal(t, "out\n", stdout.String())
	assert.Equal(t, "err\n", stderr.String())

	_, err = p.Dispatch(ctx, &interfaces.Current{Operation: "shutdown"}, nil)
	require.NoError(t, err)
	assert.Len(t, shut, 1)

	_, err = p.Dispatch(ctx, &interfaces.Current{Operation: "writeMessage"}, []byte("{"))
	assert.ErrorIs(t, err, types.ErrProtocol)

	t.Log("✅ Process facet 正确")
}

// TestProperties_SetProperties 测试属性更新与回调
func TestProperties_SetProperties(t *testing.T) {
	props := properties.NewFromMap(map[string]string{"A": "1", "B": "2", "C": "3"})
	l := &recordingLogger{}
	p := NewProperties(props, l, 1)

	var got []map[string]string
	remove := p.AddUpdateCallback(func(changes map[string]string) { got = append(got, changes) })
	p.AddUpdateCallback(func(map[string]string) { panic("bad callback") })

	p.SetProperties(map[string]string{"A": "1", "B": "20", "C": "", "D": "4"})

	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"B": "20", "C": "", "D": "4"}, got[0])
	assert.Equal(t, "20", props.Get("B"))
	assert.Equal(t, "", props.Get("C"))

	lines := l.snapshot()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Admin.Properties: Summary:")
	assert.Contains(t, lines[0], "Added properties:\n  D = 4")
	assert.Contains(t, lines[0], "Removed properties:\n  C")
	assert.Contains(t, lines[1], "warning: ")

	remove()
	p.SetProperties(map[string]string{"E": "5"})
	assert.Len(t, got, 1)

	// 无变化时不通知
	p.SetProperties(map[string]string{"E": "5"})

	ctx := context.Background()
	out, err := p.Dispatch(ctx, &interfaces.Current{Operation: "getPropertyAsString"}, []byte(`{"key":"B"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"20"`, string(out))

	out, err = p.Dispatch(ctx, &interfaces.Current{Operation: "getPropertiesForPrefix"}, []byte(`{"prefix":"D"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"D":"4"}`, string(out))

	t.Log("✅ Properties facet 正确")
}

// TestLoggerAdmin_Ring 测试日志与跟踪分别限长
func TestLoggerAdmin_Ring(t *testing.T) {
	local := &recordingLogger{prefix: "srv"}
	a := NewLoggerAdmin(local, config.LoggerAdminConfig{KeepLogs: 2, KeepTraces: 1}, &fakeInvoker{}, newParser(t))
	defer a.Destroy()

	l := a.Logger()
	l.Print("p1")
	l.Trace("Network", "t1")
	l.Warning("w1")
	l.Trace("Retry", "t2")
	l.Error("e1")

	res := a.GetLog(LogFilter{MessageMax: -1})
	assert.Equal(t, "srv", res.Prefix)
	var msgs []string
	for _, m := range res.Messages {
		msgs = append(msgs, m.Message)
	}
	assert.Equal(t, []string{"w1", "t2", "e1"}, msgs)
	assert.Len(t, local.snapshot(), 5)

	res = a.GetLog(LogFilter{MessageTypes: []LogMessageType{TraceMessage}, MessageMax: -1})
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "Retry", res.Messages[0].TraceCategory)

	res = a.GetLog(LogFilter{MessageMax: 1})
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "e1", res.Messages[0].Message)

	assert.Empty(t, a.GetLog(LogFilter{MessageMax: 0}).Messages)

	t.Log("✅ 日志环形缓冲正确")
}

// TestLoggerAdmin_RemoteLogger 测试远程日志订阅者的挂接、转发与摘除
func TestLoggerAdmin_RemoteLogger(t *testing.T) {
	local := &recordingLogger{prefix: "srv"}
	inv := &fakeInvoker{fail: map[string]bool{"broken": true}}
	a := NewLoggerAdmin(local, config.LoggerAdminConfig{KeepLogs: 10, KeepTraces: 10}, inv, newParser(t))
	defer a.Destroy()

	l := a.Logger()
	l.Warning("before attach")

	filter := LogFilter{MessageTypes: []LogMessageType{WarningMessage, ErrorMessage}, MessageMax: -1}
	require.NoError(t, a.AttachRemoteLogger("remote:tcp -h 127.0.0.1 -p 4000", filter))
	err := a.AttachRemoteLogger("remote:tcp -h 127.0.0.1 -p 4000", filter)
	assert.True(t, types.IsUserError(err, RemoteLoggerAlreadyAttachedTypeID))

	l.Print("not forwarded")
	l.Error("forwarded")

	require.Eventually(t, func() bool { return len(inv.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	calls := inv.snapshot()
	assert.Equal(t, OpRemoteInit, calls[0].op)
	var initRes GetLogResult
	require.NoError(t, json.Unmarshal(calls[0].params, &initRes))
	require.Len(t, initRes.Messages, 1)
	assert.Equal(t, "before attach", initRes.Messages[0].Message)
	assert.Equal(t, OpRemoteLog, calls[1].op)
	var m LogMessage
	require.NoError(t, json.Unmarshal(calls[1].params, &m))
	assert.Equal(t, "forwarded", m.Message)
	assert.Equal(t, ErrorMessage, m.Type)

	// 转发失败的订阅者被摘除
	require.NoError(t, a.AttachRemoteLogger("broken:tcp -h 127.0.0.1 -p 4001", LogFilter{MessageMax: 0}))
	require.Eventually(t, func() bool { return a.RemoteLoggers() == 1 }, time.Second, 5*time.Millisecond)

	ok, err := a.DetachRemoteLogger("remote:tcp -h 127.0.0.1 -p 4000")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.DetachRemoteLogger("remote:tcp -h 127.0.0.1 -p 4000")
	require.NoError(t, err)
	assert.False(t, ok)

	t.Log("✅ 远程日志转发正确")
}

// TestLoggerAdmin_Destroy 测试销毁后停止转发
func TestLoggerAdmin_Destroy(t *testing.T) {
	a := NewLoggerAdmin(&recordingLogger{}, config.DefaultLoggerAdminConfig(), &fakeInvoker{}, newParser(t))
	a.Destroy()
	a.Destroy()

	err := a.AttachRemoteLogger("x:tcp -h 127.0.0.1 -p 1", LogFilter{})
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)

	_, err = a.Dispatch(context.Background(), &interfaces.Current{Operation: "nope"}, nil)
	assert.True(t, errors.Is(err, types.ErrOperationNotExist))
}
