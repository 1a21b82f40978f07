package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	closers      []io.Closer
	once         sync.Once
)

type Config struct {
	Level      string   `json:"level" yaml:"level"`     // debug/info/warn/error
	Format     string   `json:"format" yaml:"format"`   // text/json
	Outputs    []string `json:"outputs" yaml:"outputs"` // stdout/stderr/file path
	MaxSizeMB  int      `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int      `json:"max_backups" yaml:"max_backups"`
}

// Init 只生效一次；Init 之前的日志输出到 stderr
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var h slog.Handler
		h, err = NewHandler(cfg)
		if err != nil {
			return
		}
		globalLogger = slog.New(h)
		slog.SetDefault(globalLogger)
	})
	return err
}

// NewHandler 按配置创建 handler，文件输出交给 lumberjack 轮转
func NewHandler(cfg Config) (slog.Handler, error) {
	// 设置日志级别
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	// 创建多个输出writer
	var writers []io.Writer
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			// 确保目录存在
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
			lj := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				Compress:   true,
			}
			closers = append(closers, lj)
			writers = append(writers, lj)
		}
	}

	// 如果没有指定输出，默认使用stdout
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	out := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(out, opts), nil
	}
	return slog.NewTextHandler(out, opts), nil
}

// Close 关闭文件输出
func Close() error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close log outputs: %v", errs)
	}
	return nil
}

func Debug(msg string, args ...interface{}) {
	globalLogger.Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	globalLogger.Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	globalLogger.Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	globalLogger.Error(msg, args...)
}

func Logger() *slog.Logger {
	return globalLogger
}
