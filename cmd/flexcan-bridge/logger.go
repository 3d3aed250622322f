package main

import (
	"log/slog"
	"os"

	"github.com/s32kdev/go-flexcan/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "flexcan-bridge")
	logging.Set(l)
	return l
}
