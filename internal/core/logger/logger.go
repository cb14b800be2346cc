package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"fleet-api/internal/core/config"
)

// FromConfig 构建进程级 logger。
// JSON 模式（生产）按秒采样；配了 log.file 时额外写一份到 lumberjack 切割文件。
func FromConfig(c config.Log) (*zap.Logger, func()) {
	var lvl zapcore.Level
	if err := lvl.Set(c.Level); err != nil {
		lvl = zapcore.InfoLevel
	}

	enc := encoder(c.JSON)
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), lvl)}

	if c.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    max(1, c.MaxSizeMB),  // MB
			MaxBackups: max(0, c.MaxBackups), // 个数
			MaxAge:     max(0, c.MaxAgeDays), // 天
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(enc, rotWriter{rotator}, lvl))
	}

	core := zapcore.NewTee(cores...)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if c.JSON {
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)
	} else {
		opts = append(opts, zap.Development())
	}

	l := zap.New(core, opts...)
	return l, func() { _ = l.Sync() }
}

func encoder(json bool) zapcore.Encoder {
	if json {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.TimeKey = "ts"
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// lumberjack 自己管 flush，Sync 空实现
type rotWriter struct{ *lumberjack.Logger }

func (w rotWriter) Sync() error { return nil }

type zapIOWriter struct {
	l     *zap.Logger
	level zapcore.Level
}

func (w *zapIOWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	if ce := w.l.Check(w.level, msg); ce != nil {
		ce.Write()
	}
	return len(p), nil
}

// ToWriter gin 的 DefaultWriter / DefaultErrorWriter 接到 zap
func ToWriter(l *zap.Logger, level zapcore.Level) io.Writer {
	return &zapIOWriter{l: l, level: level}
}

// RedirectStdLog 标准库 log（net/http 内部错误等）改走 zap
func RedirectStdLog(l *zap.Logger, level zapcore.Level) func() {
	undo, err := zap.RedirectStdLogAt(l, level)
	if err != nil {
		return func() {}
	}
	return undo
}
