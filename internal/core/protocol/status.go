package protocol

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-commrt/pkg/types"
)

// NewReply 把分派结果转换为应答
func NewReply(result []byte, err error) *Reply {
	if err == nil {
		return &Reply{Status: ReplyOK, Result: result}
	}
	var ue *types.UserError
	switch {
	case errors.As(err, &ue):
		return &Reply{Status: ReplyUserException, TypeID: ue.TypeID, Message: ue.Message}
	case errors.Is(err, types.ErrFacetNotExist):
		return &Reply{Status: ReplyFacetNotExist, Message: err.Error()}
	case errors.Is(err, types.ErrObjectNotExist):
		return &Reply{Status: ReplyObjectNotExist, Message: err.Error()}
	case errors.Is(err, types.ErrOperationNotExist):
		return &Reply{Status: ReplyOperationNotExist, Message: err.Error()}
	default:
		return &Reply{Status: ReplyUnknownException, Message: err.Error()}
	}
}

// Err 把应答状态转换为错误，ReplyOK 返回 nil
func (r *Reply) Err() error {
	switch r.Status {
	case ReplyOK:
		return nil
	case ReplyUserException:
		return &types.UserError{TypeID: r.TypeID, Message: r.Message}
	case ReplyObjectNotExist:
		return remoteError(types.ErrObjectNotExist, r.Message)
	case ReplyFacetNotExist:
		return remoteError(types.ErrFacetNotExist, r.Message)
	case ReplyOperationNotExist:
		return remoteError(types.ErrOperationNotExist, r.Message)
	default:
		return &types.UnknownError{Message: r.Message}
	}
}

func remoteError(kind error, msg string) error {
	if msg == "" || msg == kind.Error() {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, msg)
}
