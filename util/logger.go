package util

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PanicSafeLogger is a log file that is synced to disk after every write so
// that nothing is lost when the process dies on a panic.
type PanicSafeLogger struct {
	f *os.File
}

func NewPanicSafeLogger(f *os.File) *PanicSafeLogger {
	return &PanicSafeLogger{f: f}
}

func (l *PanicSafeLogger) Write(p []byte) (n int, err error) {
	n, err = l.f.Write(p)
	if err != nil {
		return
	}
	err = l.f.Sync()
	return
}

func (l *PanicSafeLogger) Sync() error {
	return l.f.Sync()
}

// ParseLevel accepts the usual level names; an empty string means info.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if s == "trace" {
		s = "debug"
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// NewLogger builds a console logger writing to stderr and, if path is not
// empty, also appending to the file at path.
func NewLogger(level string, path string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), lvl),
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file '%s' for writing: %w", path, err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(NewPanicSafeLogger(f)), lvl))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// LogPanic logs a recovered panic value with the current stack.
func LogPanic(err any) {
	zap.L().Error("panicked", zap.Any("panic", err), zap.String("stack", string(debug.Stack())))
	_ = zap.L().Sync()
}
