// Package observability provides the shared CLI logger.
//
// Commands log operational events through CLILogger; structured run
// output (JSONL events) goes to stdout or the events file, never through
// the logger. Keeping the two streams separate means piping weft output
// stays machine-parseable.
package observability

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for command execution.
//
// It writes human-readable output to stderr at Info level by default.
// Call SetVerbose before heavy work to enable Debug output.
var CLILogger = newCLILogger(zapcore.InfoLevel)

var (
	mu    sync.Mutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// SetVerbose switches the CLI logger between Info and Debug levels.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// SetQuiet raises the level so only warnings and errors are printed.
func SetQuiet() {
	mu.Lock()
	defer mu.Unlock()
	level.SetLevel(zapcore.WarnLevel)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = CLILogger.Sync()
}

func newCLILogger(l zapcore.Level) *zap.Logger {
	level.SetLevel(l)

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}
