package tracelevels

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/pkg/interfaces"
)

type recordingLogger struct {
	traces []string
}

func (r *recordingLogger) Print(string)   {}
func (r *recordingLogger) Warning(string) {}
func (r *recordingLogger) Error(string)   {}
func (r *recordingLogger) Prefix() string { return "" }
func (r *recordingLogger) CloneWithPrefix(string) interfaces.Logger {
	return r
}
func (r *recordingLogger) Trace(category, message string) {
	r.traces = append(r.traces, category+":"+message)
}

// TestFromProperties 测试读取跟踪级别
func TestFromProperties(t *testing.T) {
	props := properties.NewFromMap(map[string]string{
		"Ice.Trace.Network": "2",
		"Ice.Trace.Retry":   "1",
	})
	tl := FromProperties(props)

	assert.Equal(t, 2, tl.Network)
	assert.Equal(t, 1, tl.Retry)
	assert.Equal(t, 0, tl.Protocol)
}

// TestTrace 测试级别门限
func TestTrace(t *testing.T) {
	l := &recordingLogger{}
	Trace(l, 1, 2, NetworkCat, "hidden")
	Trace(l, 2, 2, NetworkCat, "shown")
	Trace(l, 0, 0, RetryCat, "off")
	Trace(nil, 3, 1, RetryCat, "nil logger")

	assert.Equal(t, []string{"Network:shown"}, l.traces)
}
