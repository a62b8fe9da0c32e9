package logger

import (
	"log"
	"strings"
)

// 中文说明：
// 轻量日志封装：全局级别控制，减少监控循环刷屏。
// 监控循环内的错误一律记录后继续，不中断进程。

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var current = LevelInfo

// SetLevel 根据配置字符串设置全局级别，未识别时回落到 info。
func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		current = LevelDebug
	case "info":
		current = LevelInfo
	case "warn", "warning":
		current = LevelWarn
	case "error":
		current = LevelError
	default:
		current = LevelInfo
	}
}

func Debugf(format string, v ...any) {
	if current <= LevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Infof(format string, v ...any) {
	if current <= LevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warnf(format string, v ...any) {
	if current <= LevelWarn {
		log.Printf("[WARN] "+format, v...)
	}
}

func Errorf(format string, v ...any) {
	if current <= LevelError {
		log.Printf("[ERROR] "+format, v...)
	}
}
