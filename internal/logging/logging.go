package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Mode "prod" emits JSON with ISO8601
// timestamps; anything else gets the human-readable development encoder.
func New(mode string) (*zap.Logger, error) {
	if mode == "prod" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	}
	return zap.NewDevelopment()
}
