package tcp

import "errors"

var (
	// ErrNotTCP 底层连接不是 TCP 连接
	ErrNotTCP = errors.New("not a TCP connection")
)
