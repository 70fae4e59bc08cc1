//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import (
	"syscall"

	"github.com/sirupsen/logrus"
)

// controlFunc leaves the socket untouched on platforms without the unix
// socket option set; a second listener on the SAP port will fail to bind.
func controlFunc(opts Options) func(network, address string, c syscall.RawConn) error {
	if opts.ReuseAddr || opts.Broadcast {
		logrus.WithFields(logrus.Fields{
			"function":   "controlFunc",
			"reuse_addr": opts.ReuseAddr,
			"broadcast":  opts.Broadcast,
		}).Warn("Socket options not supported on this platform")
	}
	return nil
}
