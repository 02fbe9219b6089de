package util

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger builds the root logger from logLevel and logFormat.
// Components derive their own with WithPrefix.
func NewLogger(conf *AppConfig) *log.Logger {
	return newLogger(os.Stderr, conf.Conf.LogLevel, conf.Conf.LogFormat)
}

func newLogger(w io.Writer, level string, format string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}

	formatter := log.TextFormatter
	switch format {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          Name,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
}

// DiscardLogger is used by tests and one-shot commands.
func DiscardLogger() *log.Logger {
	return log.New(io.Discard)
}
