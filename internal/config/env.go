package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfig 环境变量配置
type EnvConfig struct {
	Port                  int
	Env                   string
	LogLevel              string
	ResponseHeaderTimeout int // 秒
	ProviderTimeout       int // 秒，单次提供商调用
	PipelineTimeout       int // 秒，整条流水线
	MaxDocumentSize       int64
	JWTSecret             string
	PolicyFile            string

	// SQLite 数据库（缓存、用量计数、成本遥测共用）
	DatabasePath        string
	MetricsRetentionDay int

	// 提供商
	GCPProject      string
	GCPRegion       string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string

	// 记录存储: memory | firestore
	StoreBackend string
	// 文档归档: none | gcs | minio
	ArchiveBackend string
	ArchiveBucket  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// 后台任务
	WorkerQueueSize int
	WorkerCount     int
	WorkerTaskTTL   int // 秒

	// 日志文件轮转
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// NewEnvConfig 读取 .env（不存在时忽略）并解析环境变量
func NewEnvConfig() *EnvConfig {
	_ = godotenv.Load()

	return &EnvConfig{
		Port:                  getEnvInt("PORT", 3000),
		Env:                   getEnv("ENV", "production"),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		ResponseHeaderTimeout: getEnvInt("RESPONSE_HEADER_TIMEOUT", 60),
		ProviderTimeout:       getEnvInt("PROVIDER_TIMEOUT", 120),
		PipelineTimeout:       getEnvInt("PIPELINE_TIMEOUT", 300),
		MaxDocumentSize:       int64(getEnvInt("MAX_DOCUMENT_SIZE_MB", 20)) << 20,
		JWTSecret:             getEnv("JWT_SECRET", ""),
		PolicyFile:            getEnv("POLICY_FILE", ".config/policy.yaml"),

		DatabasePath:        getEnv("DATABASE_PATH", ".config/laudo.db"),
		MetricsRetentionDay: getEnvInt("METRICS_RETENTION_DAYS", 30),

		GCPProject:      getEnv("GCP_PROJECT", ""),
		GCPRegion:       getEnv("GCP_REGION", "us-central1"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		ArchiveBackend: strings.ToLower(getEnv("ARCHIVE_BACKEND", "none")),
		ArchiveBucket:  getEnv("ARCHIVE_BUCKET", "laudo-documents"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 256),
		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		WorkerTaskTTL:   getEnvInt("WORKER_TASK_TIMEOUT", 10),

		LogFile:       getEnv("LOG_FILE", "logs/laudo.log"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// IsDevelopment 是否为开发环境
func (c *EnvConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// ShouldLog 判断给定级别是否应输出
func (c *EnvConfig) ShouldLog(level string) bool {
	levels := map[string]int{"error": 0, "warn": 1, "info": 2, "debug": 3}
	current, ok := levels[c.LogLevel]
	if !ok {
		current = levels["info"]
	}
	target, ok := levels[strings.ToLower(level)]
	if !ok {
		return false
	}
	return target <= current
}

// ProviderCallTimeout 单次提供商调用超时
func (c *EnvConfig) ProviderCallTimeout() time.Duration {
	return time.Duration(c.ProviderTimeout) * time.Second
}

// PipelineDeadline 整条流水线的超时
func (c *EnvConfig) PipelineDeadline() time.Duration {
	return time.Duration(c.PipelineTimeout) * time.Second
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
