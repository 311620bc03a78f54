package ringlink

import (
	"os"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("ringlink")

var stderrFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.5s} ringlink ▶ %{message}%{color:reset}`,
)

var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.5s} ringlink ▶ %{message}`,
)

// SetupLogging wires the package logger to stderr (colorized) by default,
// or to syslog when trySyslog is set and the platform supports it. The
// RINGLINK_LOG_LEVEL environment variable overrides defaultLevel.
func SetupLogging(prefix string, defaultLevel logging.Level, trySyslog bool) *logging.Logger {
	var backend logging.Backend
	if trySyslog {
		backend = getSyslogBackend(prefix)
	}
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, prefix, 0)
		logging.SetFormatter(stderrFormat)
	}

	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("RINGLINK_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, prefix)
	case "ERROR":
		leveled.SetLevel(logging.ERROR, prefix)
	case "WARNING":
		leveled.SetLevel(logging.WARNING, prefix)
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, prefix)
	case "INFO":
		leveled.SetLevel(logging.INFO, prefix)
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, prefix)
	default:
		leveled.SetLevel(defaultLevel, prefix)
	}

	logging.SetBackend(leveled)
	return log
}

// Log exposes the package-level logger so collaborating packages (client,
// server, localctl) can log under the same backend/format.
func Log() *logging.Logger {
	return log
}
