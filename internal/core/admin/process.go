package admin

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// WriteMessageParams writeMessage 参数
type WriteMessageParams struct {
	Message string `json:"message"`
	// FD 1 写标准输出，2 写标准错误
	FD int `json:"fd"`
}

// Process Process facet
type Process struct {
	shutdown func()

	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

var _ interfaces.Servant = (*Process)(nil)

// NewProcess 创建 Process facet，shutdown 由 shutdown 操作调用
func NewProcess(shutdown func()) *Process {
	return &Process{shutdown: shutdown, stdout: os.Stdout, stderr: os.Stderr}
}

// SetOutput 替换标准输出与标准错误
func (p *Process) SetOutput(stdout, stderr io.Writer) {
	p.mu.Lock()
	p.stdout, p.stderr = stdout, stderr
	p.mu.Unlock()
}

// Dispatch 实现 Servant
func (p *Process) Dispatch(_ context.Context, cur *interfaces.Current, params []byte) ([]byte, error) {
	switch cur.Operation {
	case "shutdown":
		if p.shutdown != nil {
			p.shutdown()
		}
		return nil, nil
	case "writeMessage":
		var wp WriteMessageParams
		if err := decode(params, &wp); err != nil {
			return nil, err
		}
		return nil, p.WriteMessage(wp.Message, wp.FD)
	}
	return nil, types.ErrOperationNotExist
}

// WriteMessage 把消息写到 fd 对应的输出，其他 fd 被忽略
func (p *Process) WriteMessage(message string, fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var w io.Writer
	switch fd {
	case 1:
		w = p.stdout
	case 2:
		w = p.stderr
	default:
		return nil
	}
	_, err := fmt.Fprintln(w, message)
	return err
}
