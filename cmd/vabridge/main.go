// Command vabridge runs the voice assistant mailbox bridge: the detection
// side that turns audio into payloads, the light-control application that
// consumes them, or both in one process.
//
// Usage:
//
//	vabridge run       [--config path]   both sides over an in-memory pipe
//	vabridge producer  [--config path]   detection side, dials mailbox.url
//	vabridge consumer  [--config path]   application side, serves mailbox.listen_addr
//	vabridge validate  [--config path]   check a configuration and exit
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/vabridge/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vabridge:", err)
		os.Exit(1)
	}
}

// slogLevel maps a config level to its slog counterpart.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger returns a text logger on stderr whose level follows lvl.
func newLogger(lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
