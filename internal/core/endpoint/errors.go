package endpoint

import (
	"fmt"

	"github.com/dep2p/go-commrt/pkg/types"
)

func parseError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrEndpointParse, fmt.Sprintf(format, args...))
}
