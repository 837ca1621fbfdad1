package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envDocker = "docker"

// Config содержит конфигурацию для создания logger
type Config struct {
	// ServiceName добавляется полем service ко всем записям
	ServiceName string
	// Env окружение (local/docker), влияет на формат и caller по умолчанию
	Env string
	// Level: debug/info/warn/error, по умолчанию info
	Level string
	// Format: json|console, по умолчанию json в docker и console локально
	Format string
	// Output куда писать, по умолчанию stderr
	Output zapcore.WriteSyncer
}

// New создаёт zap.Logger. Поля service и env добавляются ко всем логам.
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "console"
		if cfg.Env == envDocker {
			format = "json"
		}
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be json/console)", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = zapcore.AddSync(os.Stderr)
	}

	var opts []zap.Option
	// В docker caller только шумит в json, локально помогает найти место лога
	if cfg.Env != envDocker {
		opts = append(opts, zap.AddCaller())
	}

	logger := zap.New(zapcore.NewCore(encoder, out, level), opts...)
	return logger.With(
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Env),
	), nil
}

func parseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(raw) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", raw)
	}
}

// Sync сбрасывает буфер, игнорируя ошибки вроде "sync /dev/stderr: invalid argument"
func Sync(log *zap.Logger) {
	_ = log.Sync()
}
