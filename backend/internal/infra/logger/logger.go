/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-09 17:53:57
 * @FilePath: \newsroom-cms\backend\internal\infra\logger\logger.go
 * @LastEditTime: 2025-10-20 16:55:31
 */
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// globalLogger 缓存全局 zap.Logger，避免在业务代码里重复创建实例。
	globalLogger *zap.Logger
	mu           sync.Mutex
)

// Options 描述日志初始化时可配置的参数。
type Options struct {
	Level      string
	Encoding   string
	FilePath   string // 为空时不写文件
	Console    bool
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	// ConsoleWriter 控制台输出目标，默认 os.Stdout，测试时可替换。
	ConsoleWriter io.Writer
}

// Init 按环境变量初始化全局日志记录器，重复调用直接返回已有实例。
func Init() (*zap.Logger, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		return globalLogger, nil
	}
	logger, err := buildLogger(LoadOptionsFromEnv())
	if err != nil {
		return nil, err
	}
	globalLogger = logger
	return globalLogger, nil
}

// InitWith 使用显式配置重建全局日志记录器，旧实例会先刷新缓冲。
func InitWith(opts Options) (*zap.Logger, error) {
	logger, err := buildLogger(opts)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
	globalLogger = logger
	return globalLogger, nil
}

// L 返回全局 zap.Logger，如果尚未初始化则尝试自动初始化。
func L() *zap.Logger {
	mu.Lock()
	current := globalLogger
	mu.Unlock()
	if current != nil {
		return current
	}

	logger, err := Init()
	if err != nil {
		panic(fmt.Sprintf("logger init failed: %v", err))
	}
	return logger
}

// S 返回 SugaredLogger，handler/service 中常用 `Infow/Warnw` 输出键值日志。
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Component 返回带 component 字段的 SugaredLogger，便于按模块过滤日志。
func Component(name string) *zap.SugaredLogger {
	return S().With("component", name)
}

// Sync 刷新缓冲区，通常在进程退出前调用。
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// LoadOptionsFromEnv 从 LOG_* 环境变量解析日志配置，缺失项回退到默认值。
// LOG_FILE=off 可关闭文件输出。
func LoadOptionsFromEnv() Options {
	opts := Options{
		Level:      strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		Encoding:   strings.ToLower(strings.TrimSpace(os.Getenv("LOG_ENCODING"))),
		FilePath:   strings.TrimSpace(os.Getenv("LOG_FILE")),
		Console:    true,
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     15,
		Compress:   true,
	}

	if opts.Level == "" {
		opts.Level = "info"
	}
	if opts.Encoding == "" {
		opts.Encoding = "json"
	}
	switch strings.ToLower(opts.FilePath) {
	case "":
		opts.FilePath = filepath.Join("logs", "newsroom.log")
	case "off", "none", "-":
		opts.FilePath = ""
	}

	if parsed, ok := positiveIntEnv("LOG_MAX_SIZE"); ok {
		opts.MaxSize = parsed
	}
	if parsed, ok := positiveIntEnv("LOG_MAX_BACKUPS"); ok {
		opts.MaxBackups = parsed
	}
	if parsed, ok := positiveIntEnv("LOG_MAX_AGE"); ok {
		opts.MaxAge = parsed
	}
	if val := strings.TrimSpace(os.Getenv("LOG_COMPRESS")); val != "" {
		opts.Compress = val == "1" || strings.EqualFold(val, "true")
	}
	if val := strings.TrimSpace(os.Getenv("LOG_CONSOLE")); val != "" {
		opts.Console = val == "1" || strings.EqualFold(val, "true")
	}

	return opts
}

// buildLogger 根据 Options 拼接文件与控制台两个 Core。两者都关闭时返回 Nop 实例。
func buildLogger(opts Options) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if opts.Level != "" {
		if err := lvl.Set(opts.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeDuration = zapcore.StringDurationEncoder

	var cores []zapcore.Core

	// 文件输出，带滚动策略。
	if opts.FilePath != "" {
		if err := ensureDir(filepath.Dir(opts.FilePath)); err != nil {
			return nil, fmt.Errorf("logger create dir: %w", err)
		}
		lumber := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		var fileEncoder zapcore.Encoder
		if opts.Encoding == "console" {
			fileEncoder = zapcore.NewConsoleEncoder(encoderCfg)
		} else {
			fileEncoder = zapcore.NewJSONEncoder(encoderCfg)
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(lumber), lvl))
	}

	if opts.Console {
		writer := opts.ConsoleWriter
		if writer == nil {
			writer = os.Stdout
		}
		consoleEncoderCfg := encoderCfg
		if opts.ConsoleWriter == nil {
			consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderCfg),
			zapcore.AddSync(writer),
			lvl,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// ensureDir 若目录不存在则创建。
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func positiveIntEnv(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}
