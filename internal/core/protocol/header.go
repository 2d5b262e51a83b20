package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dep2p/go-commrt/pkg/types"
)

// ============================================================================
//                              协议常量
// ============================================================================

const (
	// HeaderSize 消息头长度
	HeaderSize = 12

	// ProtocolMajor 协议主版本
	ProtocolMajor = 1

	// ProtocolMinor 协议次版本
	ProtocolMinor = 0
)

// Magic 消息头魔数
var Magic = [4]byte{'C', 'R', 'T', 'P'}

// MessageType 消息类型
type MessageType byte

const (
	// MsgRequest 请求
	MsgRequest MessageType = 0
	// MsgReply 应答
	MsgReply MessageType = 2
	// MsgValidateConnection 连接验证，由服务端在连接建立后发送
	MsgValidateConnection MessageType = 3
	// MsgCloseConnection 优雅关闭
	MsgCloseConnection MessageType = 4
)

// String 返回类型名称
func (t MessageType) String() string {
	switch t {
	case MsgRequest:
		return "request"
	case MsgReply:
		return "reply"
	case MsgValidateConnection:
		return "validate connection"
	case MsgCloseConnection:
		return "close connection"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Message 一条完整消息
type Message struct {
	Type MessageType
	Body []byte
}

// Size 消息总长度（含头）
func (m *Message) Size() int {
	return HeaderSize + len(m.Body)
}

// ============================================================================
//                              消息读写
// ============================================================================

// WriteMessage 写出一条消息
//
// 头与消息体合并为一次 Write，调用方需保证同一连接上的写串行。
func WriteMessage(w io.Writer, msg *Message) (int, error) {
	buf := make([]byte, HeaderSize+len(msg.Body))
	copy(buf[0:4], Magic[:])
	buf[4] = ProtocolMajor
	buf[5] = ProtocolMinor
	buf[6] = byte(msg.Type)
	buf[7] = 0
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(buf)))
	copy(buf[HeaderSize:], msg.Body)

	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return n, nil
}

// ReadMessage 读取一条消息
//
// 总长度超过 maxSize 时返回 ErrMemoryLimit，maxSize <= 0 表示不限制。
func ReadMessage(r io.Reader, maxSize int) (*Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[0:4], Magic[:]) {
		return nil, protocolError("bad magic %x", hdr[0:4])
	}
	if hdr[4] != ProtocolMajor {
		return nil, protocolError("unsupported protocol version %d.%d", hdr[4], hdr[5])
	}
	if hdr[7] != 0 {
		return nil, protocolError("compression is not supported")
	}

	size := int(int32(binary.LittleEndian.Uint32(hdr[8:12])))
	if size < HeaderSize {
		return nil, protocolError("illegal message size %d", size)
	}
	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", types.ErrMemoryLimit, size, maxSize)
	}

	msg := &Message{Type: MessageType(hdr[6])}
	if size > HeaderSize {
		msg.Body = make([]byte, size-HeaderSize)
		if _, err := io.ReadFull(r, msg.Body); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
