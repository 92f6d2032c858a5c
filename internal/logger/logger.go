package logger

import (
	"io"
	"log"
	"strings"
	"sync/atomic"

	"dcaengine/internal/pkg/text"
)

// 中文说明：
// 轻量日志封装：支持设置全局级别与输出目标（serve 模式写入日志文件）。

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// 大模型请求/响应体在日志中的最大长度
const llmPayloadMax = 2000

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// ParseLevel 将字符串转为级别，未知值回落到 info。
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(s string) {
	current.Store(int32(ParseLevel(s)))
}

func CurrentLevel() Level {
	return Level(current.Load())
}

// SetOutput 切换底层输出，例如同时写入终端与日志文件。
func SetOutput(w io.Writer) {
	if w == nil {
		return
	}
	log.SetOutput(w)
}

func enabled(l Level) bool { return CurrentLevel() <= l }

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}
func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}
func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}
func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		log.Printf("[ERROR] "+format, v...)
	}
}

// LogLLMPayload 以 debug 级别记录顾问模型的请求/响应（截断）。
func LogLLMPayload(tag, payload string) {
	if !enabled(LevelDebug) {
		return
	}
	log.Printf("[DEBUG] [%s] %s", tag, text.Truncate(strings.TrimSpace(payload), llmPayloadMax))
}
