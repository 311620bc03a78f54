//go:build windows

package localctl

import (
	"net"

	"github.com/Microsoft/go-winio"
)

const pipeName = `\\.\pipe\ringlinkd`

// Listen opens the ringlinkd named pipe.
func Listen() (net.Listener, error) {
	return winio.ListenPipe(pipeName, nil)
}

// Dial connects to the ringlinkd named pipe.
func Dial() (net.Conn, error) {
	return winio.DialPipe(pipeName, nil)
}
