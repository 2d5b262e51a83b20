package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/pkg/types"
)

// TestMessage_Framing 测试消息帧读写
func TestMessage_Framing(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteMessage(&buf, &Message{Type: MsgRequest, Body: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+3, n)
	assert.Equal(t, []byte("CRTP"), buf.Bytes()[:4])

	_, err = WriteMessage(&buf, &Message{Type: MsgValidateConnection})
	require.NoError(t, err)

	msg, err := ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, MsgRequest, msg.Type)
	assert.Equal(t, []byte("abc"), msg.Body)

	msg, err = ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, MsgValidateConnection, msg.Type)
	assert.Empty(t, msg.Body)

	t.Log("✅ 消息帧读写正确")
}

// TestReadMessage_SizeLimit 测试 MessageSizeMax 限制
func TestReadMessage_SizeLimit(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteMessage(&buf, &Message{Type: MsgReply, Body: make([]byte, 100)})
	require.NoError(t, err)

	_, err = ReadMessage(&buf, 50)
	assert.ErrorIs(t, err, types.ErrMemoryLimit)
}

// TestReadMessage_BadMagic 测试非法魔数
func TestReadMessage_BadMagic(t *testing.T) {
	raw := []byte("XXXX\x01\x00\x00\x00\x0c\x00\x00\x00")
	_, err := ReadMessage(bytes.NewReader(raw), 0)
	assert.ErrorIs(t, err, types.ErrProtocol)
}

// TestRequest_Encoding 测试请求编码
func TestRequest_Encoding(t *testing.T) {
	req := &Request{
		RequestID: 7,
		Identity:  types.Identity{Name: "admin", Category: "c1"},
		Facet:     "Process",
		Operation: "shutdown",
		Mode:      types.ModeIdempotent,
		Context:   map[string]string{"a": "1", "b": ""},
		Params:    []byte(`{"x":1}`),
	}
	got, err := UnmarshalRequest(req.Marshal())
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

// TestReply_Encoding 测试应答编码
func TestReply_Encoding(t *testing.T) {
	rep := &Reply{RequestID: -1, Status: ReplyUserException, TypeID: "::Ice::X", Message: "boom"}
	got, err := UnmarshalReply(rep.Marshal())
	require.NoError(t, err)
	assert.Equal(t, rep, got)

	_, err = UnmarshalReply([]byte{0xff})
	assert.ErrorIs(t, err, types.ErrProtocol)
}

// TestReply_ErrorMapping 测试分派错误与应答状态的互相转换
func TestReply_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status ReplyStatus
	}{
		{nil, ReplyOK},
		{&types.UserError{TypeID: "::Demo::Err", Message: "bad"}, ReplyUserException},
		{types.ErrObjectNotExist, ReplyObjectNotExist},
		{types.ErrFacetNotExist, ReplyFacetNotExist},
		{types.ErrOperationNotExist, ReplyOperationNotExist},
		{io.ErrUnexpectedEOF, ReplyUnknownException},
	}
	for _, tt := range tests {
		rep := NewReply([]byte("r"), tt.err)
		assert.Equal(t, tt.status, rep.Status)
		back := rep.Err()
		switch tt.status {
		case ReplyOK:
			assert.NoError(t, back)
		case ReplyUserException:
			assert.True(t, types.IsUserError(back, "::Demo::Err"))
		case ReplyUnknownException:
			var ue *types.UnknownError
			assert.ErrorAs(t, back, &ue)
		default:
			assert.ErrorIs(t, back, tt.err)
		}
	}
}
