package sseengine

import (
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the engine's structured logger from cfg. When
// LogFileName is set, logs are rotated through lumberjack; otherwise they
// go to stderr via zap's development encoder. A logger is always returned,
// even if construction of the rotating sink fails, so the core never needs
// a nil check.
func newLogger(cfg *Config) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if cfg.LogFileName != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFileName,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		})
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), level)
	}

	logger := zap.New(core)
	if cfg.DebugTag != "" {
		logger = logger.With(zap.String("tag", cfg.DebugTag))
	}
	return logger.Sugar()
}
