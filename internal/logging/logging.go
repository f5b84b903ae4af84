package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pm-updown-bot/internal/config"
)

// New builds the process logger. Unknown or empty levels fall back to
// info rather than failing startup; a bot that cannot log still trades,
// which is the wrong failure mode, so a broken build degrades to nop.
func New(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
