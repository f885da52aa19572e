package common

import (
	"log/slog"
	"os"
)

// Version is overridden at build time with -ldflags "-X .../common.Version=..."
var Version = "dev"

const (
	// PackageName is the default service tag in log lines.
	PackageName = "zk-keyservice"
	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace = "zk_keyservice"
)

type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
}

// SetupLogger builds the process-wide slog logger. Every component receives
// the logger explicitly; the default logger is only set for third-party code.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	}

	service := opts.Service
	if service == "" {
		service = PackageName
	}
	log = log.With("service", service)

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	slog.SetDefault(log)
	return log
}
