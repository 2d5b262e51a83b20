package protocol

import (
	"fmt"

	"github.com/dep2p/go-commrt/pkg/types"
)

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrProtocol, fmt.Sprintf(format, args...))
}
