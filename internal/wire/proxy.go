// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Proxying (spec §4.8, optional deployment mode): Relay runs the
// bidirectional byte copy between two connections; a half-close on
// either side propagates to the other rather than killing the whole
// connection outright. Nothing in this module opens a master-side
// Unix-domain socket or acts on a `proxy` control message: the worker
// answers any first message other than MsgStart with sys_error.

package wire

import (
	"io"
	"net"
)

// halfCloser is satisfied by both *net.TCPConn and *net.UnixConn.
type halfCloser interface {
	CloseWrite() error
}

// Relay bidirectionally copies bytes between a and b until both
// directions have reached EOF. A read error or EOF on one side closes
// that side's write half on the other connection (propagating the
// half-close) rather than tearing down the whole relay immediately.
func Relay(a, b net.Conn) error {
	done := make(chan error, 2)
	go func() { done <- copyHalf(b, a) }()
	go func() { done <- copyHalf(a, b) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func copyHalf(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if hc, ok := dst.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
	return err
}
