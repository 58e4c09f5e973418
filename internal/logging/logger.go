package logging

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"jordanella.com/scenario-detector/internal/config"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var root atomic.Pointer[zap.Logger]

// Initialize builds the process logger: a console core on consoleWriter and, when a
// log file is configured, a rotating JSON core.
func Initialize(cfg config.LoggingConfig, consoleWriter zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var consoleEncoder zapcore.Encoder
	if cfg.Format == "json" {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, consoleWriter, level)}

	if cfg.File != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}

	root.Store(logger)
	return logger
}

// InitializeStdout initializes the logger with console output on stdout
func InitializeStdout(cfg config.LoggingConfig) *zap.Logger {
	return Initialize(cfg, zapcore.Lock(os.Stdout))
}

// Root returns the process logger, or a no-op logger before Initialize
func Root() *zap.Logger {
	if logger := root.Load(); logger != nil {
		return logger
	}
	return zap.NewNop()
}

// NewLogger creates a logger for a specific component
func NewLogger(component string) *zap.Logger {
	return Root().Named(component)
}

// Sync flushes buffered log entries
func Sync() {
	_ = Root().Sync()
}
