package hdf5

import (
	"io"

	"github.com/robert-malhotra/h5coro/internal/config"
	"github.com/robert-malhotra/h5coro/internal/logging"
)

// InitLogging replaces the process-wide log handlers with one writing to w
// (stderr when nil). level is CRITICAL, ERROR, WARNING, INFO or DEBUG,
// empty meaning WARNING; format is "logfmt" or "json".
func InitLogging(level, format string, w io.Writer) error {
	return logging.Init(logging.Options{Level: level, Format: format, Output: w})
}

// InitLoggingFromConfig is InitLogging with log_level and log_format read
// the way WithConfigFile reads them.
func InitLoggingFromConfig(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return InitLogging(cfg.LogLevel, cfg.LogFormat, w)
}

// ShutdownLogging detaches every log handler.
func ShutdownLogging() {
	logging.Shutdown()
}
