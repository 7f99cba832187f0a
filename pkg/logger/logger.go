package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level       string   `mapstructure:"level"`
	Development bool     `mapstructure:"development"`
	Encoding    string   `mapstructure:"encoding"` // "json" or "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// New creates a zap logger. Logs go to stderr unless OutputPaths says
// otherwise, keeping stdout free for command output.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	if cfg.Encoding != "" {
		zapConfig.Encoding = cfg.Encoding
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	if len(cfg.OutputPaths) > 0 {
		zapConfig.OutputPaths = cfg.OutputPaths
	}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	return zapConfig.Build()
}

// Default creates a logger from ORDR_LOG_LEVEL and ORDR_ENV.
func Default() *zap.Logger {
	logger, err := New(Config{
		Level:       os.Getenv("ORDR_LOG_LEVEL"),
		Development: os.Getenv("ORDR_ENV") != "production",
		Encoding:    "console",
	})
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Field helpers shared by every package so log keys stay consistent.

func RenderID(id int) zap.Field { return zap.Int("render_id", id) }

func Channel(name string) zap.Field { return zap.String("channel", name) }

func Method(m string) zap.Field { return zap.String("method", m) }

func Path(p string) zap.Field { return zap.String("path", p) }

func Status(code int) zap.Field { return zap.Int("status", code) }

func RequestID(id string) zap.Field { return zap.String("request_id", id) }
