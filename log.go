package replayshare

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is used by the share connectors to report consumer and upstream
// lifecycle. It is a no-op logger until InitLogs, NewLogger or SetLogger is
// called, so the library stays silent unless the host opts in.
var Log = zap.NewNop()
var Sugar = Log.Sugar()

func InitLogs() {
	config := zap.NewProductionConfig()

	logLevel := viper.GetString("log.level")

	config.Level = zap.NewAtomicLevelAt(zapcore.PanicLevel)
	if logLevel == "debug" {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else if logLevel == "" || logLevel == "info" {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else if logLevel == "warn" {
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	} else if logLevel == "error" {
		config.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	} else if logLevel == "panic" {
		config.Level = zap.NewAtomicLevelAt(zapcore.PanicLevel)
	}

	l, err := config.Build()
	if err != nil {
		panic(err)
	}
	Log = l
	Sugar = Log.Sugar()
}

func NewLogger(level zapcore.Level) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	l, err := config.Build()
	if err != nil {
		panic(err)
	}
	Log = l
	Sugar = Log.Sugar()
}

// SetLogger makes the library log through the given logger.
func SetLogger(l *zap.Logger) {
	Log = l
	Sugar = l.Sugar()
}
