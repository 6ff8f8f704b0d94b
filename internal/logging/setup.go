package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger implementation and its sink.
type Options struct {
	// Format is "json" or "text" (slog) or "zap".
	Format string
	// Level is one of debug, info, warn, error.
	Level string
	// File, when set, is a strftime pattern for a rotating log file, e.g.
	// "/var/log/lsc/server.%Y%m%d.log". Output then goes to both stdout
	// and the file.
	File string
	// MaxAge bounds how long rotated files are kept.
	MaxAge time.Duration
}

// New builds a Logger from opts. The returned close func flushes and
// releases the file sink, if any.
func New(opts Options) (Logger, func() error, error) {
	out, closeOut, err := output(opts)
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(opts.Format) {
	case "zap":
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(out), zapLevel(opts.Level))
		zl := NewZapLogger(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
		return zl, func() error {
			_ = zl.Sync()
			return closeOut()
		}, nil
	case "text":
		h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel(opts.Level)})
		return NewSlogLogger(slog.New(h)), closeOut, nil
	default:
		h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slogLevel(opts.Level)})
		return NewSlogLogger(slog.New(h)), closeOut, nil
	}
}

func output(opts Options) (io.Writer, func() error, error) {
	if opts.File == "" {
		return os.Stdout, func() error { return nil }, nil
	}

	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}

	rl, err := rotatelogs.New(opts.File,
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}

	return io.MultiWriter(os.Stdout, rl), rl.Close, nil
}

func slogLevel(l string) slog.Level {
	switch strings.ToLower(l) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zapLevel(l string) zapcore.Level {
	switch strings.ToLower(l) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
