package logger

import (
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ariefcatur/diecast-orders/internal/config"
)

// Logger wraps zap with key/value helpers so call sites stay short:
//
//	log.Info("order approved", "order_id", id, "deadline", d)
type Logger struct {
	*zap.Logger
	file *lumberjack.Logger
}

func New(cfg config.LogConfig) *Logger {
	level := zapcore.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}
	enabled := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= level })

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stdout), enabled),
	}

	var file *lumberjack.Logger
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			panic(err)
		}
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), enabled))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{Logger: z, file: file}
}

// Nop discards everything; used by tests.
func Nop() *Logger { return &Logger{Logger: zap.NewNop()} }

func (l *Logger) With(kv ...any) *Logger {
	return &Logger{Logger: l.Logger.With(fields(kv...)...), file: l.file}
}

func (l *Logger) Debug(msg string, kv ...any) { l.Logger.Debug(msg, fields(kv...)...) }
func (l *Logger) Info(msg string, kv ...any)  { l.Logger.Info(msg, fields(kv...)...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.Logger.Warn(msg, fields(kv...)...) }
func (l *Logger) Error(msg string, kv ...any) { l.Logger.Error(msg, fields(kv...)...) }
func (l *Logger) Fatal(msg string, kv ...any) { l.Logger.Fatal(msg, fields(kv...)...) }

// Close flushes buffered entries and closes the rotated file, if any.
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func fields(kv ...any) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2+1)
	for i := 0; i < len(kv); i++ {
		switch f := kv[i].(type) {
		case error:
			out = append(out, zap.Error(f))
		case string:
			if i+1 < len(kv) {
				out = append(out, zap.Any(f, kv[i+1]))
				i++
			}
		default:
			out = append(out, zap.Any("field", f))
		}
	}
	return out
}
