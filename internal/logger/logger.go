// Package logger 配置标准 log 输出到控制台与轮转文件
package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/BenedictKing/laudo/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup 将标准 log 同时输出到 stdout 与 lumberjack 轮转文件
// 返回的 io.Closer 在进程退出前关闭日志文件；LogFile 为空时只输出到 stdout
func Setup(env *config.EnvConfig) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if env.LogFile == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	if err := os.MkdirAll(filepath.Dir(env.LogFile), 0o755); err != nil {
		log.Printf("[Logger-Init] 警告: 无法创建日志目录，仅输出到控制台: %v", err)
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	rotator := NewRotator(env)
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.Printf("[Logger-Init] 日志文件: %s (maxSize=%dMB, backups=%d, maxAge=%dd)",
		env.LogFile, env.LogMaxSizeMB, env.LogMaxBackups, env.LogMaxAgeDays)
	return rotator
}

// NewRotator 按环境配置创建轮转写入器
func NewRotator(env *config.EnvConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   env.LogFile,
		MaxSize:    env.LogMaxSizeMB,
		MaxBackups: env.LogMaxBackups,
		MaxAge:     env.LogMaxAgeDays,
		Compress:   env.LogCompress,
		LocalTime:  true,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
