package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 전역 로거. InitFromEnv 전에는 Nop.
var current atomic.Pointer[zap.Logger]

func init() { current.Store(zap.NewNop()) }

// L returns the process logger.
func L() *zap.Logger { return current.Load() }

// Set replaces the process logger; nil installs a no-op logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

const (
	FormatLegacy  = "legacy"
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Options struct {
	Level   string
	Console bool
	ToFile  bool
	File    string
	Caller  bool
	Format  string
	// App, when set, is attached to every entry as the "app" field.
	App string
}

// OptionsFromEnv reads the LOG_* variables.
func OptionsFromEnv() Options {
	return Options{
		Level:   env("LOG_LEVEL", "info"),
		Console: envBool("LOG_TO_CONSOLE", true),
		ToFile:  envBool("LOG_TO_FILE", true),
		File:    env("LOG_FILE", filepath.Join("logs", "puzzle.log")),
		Caller:  envBool("LOG_CALLER", false),
		Format:  strings.ToLower(env("LOG_FORMAT", FormatLegacy)),
		App:     env("LOG_APP", ""),
	}
}

// InitFromEnv builds the logger from the environment and installs it globally.
func InitFromEnv() error {
	logger, err := New(OptionsFromEnv())
	if err != nil {
		return err
	}
	Set(logger)
	return nil
}

// New tees one core per enabled sink. With no sink enabled it falls back to a
// development console logger on stdout.
func New(opt Options) (*zap.Logger, error) {
	level := parseLevel(opt.Level)
	enc, ok := encoders[opt.Format]
	if !ok {
		opt.Format = FormatLegacy
		enc = encoders[FormatLegacy]
	}

	var cores []zapcore.Core
	if opt.Console {
		cores = append(cores, zapcore.NewCore(enc(), zapcore.Lock(os.Stdout), level))
	}
	if opt.ToFile && opt.File != "" {
		ws, err := openSink(opt.File)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc(), ws, level))
	}
	if len(cores) == 0 {
		dev := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(dev, zapcore.Lock(os.Stdout), level))
	}

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opt.Caller || opt.Format == FormatLegacy {
		zopts = append(zopts, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(cores...), zopts...)
	if opt.App != "" {
		logger = logger.With(zap.String("app", opt.App))
	}
	return logger, nil
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.Lock(f), nil
}

var encoders = map[string]func() zapcore.Encoder{
	// "2025-01-01 09:00:00 | INFO | caller | msg | {fields}"
	FormatLegacy: func() zapcore.Encoder {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	},
	FormatConsole: func() zapcore.Encoder {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	},
	FormatJSON: func() zapcore.Encoder {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	},
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(env(key, ""))
	if err != nil {
		return def
	}
	return b
}
