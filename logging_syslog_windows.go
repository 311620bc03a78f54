//go:build windows

package ringlink

import "github.com/op/go-logging"

func getSyslogBackend(string) logging.Backend {
	return nil
}
