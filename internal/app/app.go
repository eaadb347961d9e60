// Package app 按环境配置组装服务组件，HTTP 服务与 CLI 共用
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/BenedictKing/laudo/internal/archive"
	"github.com/BenedictKing/laudo/internal/cache"
	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/database"
	"github.com/BenedictKing/laudo/internal/fairuse"
	"github.com/BenedictKing/laudo/internal/gateway"
	"github.com/BenedictKing/laudo/internal/httpclient"
	"github.com/BenedictKing/laudo/internal/metrics"
	"github.com/BenedictKing/laudo/internal/notify"
	"github.com/BenedictKing/laudo/internal/pipeline"
	"github.com/BenedictKing/laudo/internal/providers"
	"github.com/BenedictKing/laudo/internal/router"
	"github.com/BenedictKing/laudo/internal/store"
	"github.com/BenedictKing/laudo/internal/utils"
	"github.com/BenedictKing/laudo/internal/worker"
)

// Options 组装选项
type Options struct {
	// Ephemeral 全部使用内存存储，不读写策略文件、SQLite、Firestore 与归档（CLI 使用）
	Ephemeral bool
	// Notifier 追加的通知接收方
	Notifier notify.Notifier
}

// App 组装完成的服务
type App struct {
	Env       *config.EnvConfig
	Config    *config.ConfigManager
	Registry  *providers.Registry
	Router    *router.ModelRouter
	Guard     *fairuse.Guard
	Hub       *notify.Hub
	Pipeline  *pipeline.Pipeline
	CallLogs  *metrics.CallLogStore
	CostStore *metrics.SQLiteStore // Ephemeral 时为 nil
	Worker    *worker.Pool

	closers []func() error
}

// New 按环境配置创建全部组件；失败时已创建的资源会被释放
func New(ctx context.Context, env *config.EnvConfig, opts Options) (*App, error) {
	a := &App{Env: env, CallLogs: metrics.NewCallLogStore(), Hub: notify.NewHub()}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	var err error

	if opts.Ephemeral {
		a.Config, err = config.NewStaticConfigManager(config.DefaultPolicy())
	} else {
		a.Config, err = config.NewConfigManager(env.PolicyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("加载策略失败: %w", err)
	}
	a.onClose(a.Config.Close)

	// 后台队列最先创建、最后停止，保证关闭前排空
	a.Worker = worker.New(env.WorkerQueueSize, env.WorkerCount, time.Duration(env.WorkerTaskTTL)*time.Second)

	var (
		cacheStore cache.Store
		usageStore fairuse.UsageStore
		costStore  metrics.UsageStore
	)
	if opts.Ephemeral {
		cacheStore = cache.NewMemoryStore()
		usageStore = fairuse.NewMemoryUsageStore()
	} else {
		db, err := database.Open(env.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.onClose(db.Close)
		cacheStore = cache.NewSQLiteStore(db)
		usageStore = fairuse.NewSQLiteUsageStore(db)
		a.CostStore = newCostStore(db, env)
		a.onClose(a.CostStore.Close)
		costStore = a.CostStore
	}

	exams, accounts, err := a.openRecordStore(ctx, opts.Ephemeral)
	if err != nil {
		return nil, err
	}
	docs, err := a.openArchive(ctx, opts.Ephemeral)
	if err != nil {
		return nil, err
	}

	a.Registry = a.buildProviders(ctx)
	a.Router = router.New(a.Config, costStore)
	a.Guard = fairuse.NewGuard(a.Config, accounts, usageStore)

	notifiers := notify.Multi{notify.LogNotifier{}, a.Hub}
	if opts.Notifier != nil {
		notifiers = append(notifiers, opts.Notifier)
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Config:          a.Config,
		Registry:        a.Registry,
		Gateway:         gateway.New(a.CallLogs),
		Router:          a.Router,
		Cache:           cache.New(cacheStore, a.Worker),
		Exams:           exams,
		Archive:         docs,
		Notifier:        notifiers,
		Usage:           a.Guard,
		Background:      a.Worker,
		ProviderTimeout: env.ProviderCallTimeout(),
		MaxDocumentSize: env.MaxDocumentSize,
	})
	ready = true
	return a, nil
}

func newCostStore(db *sql.DB, env *config.EnvConfig) *metrics.SQLiteStore {
	return metrics.NewSQLiteStore(db, &metrics.SQLiteStoreConfig{RetentionDays: env.MetricsRetentionDay})
}

func (a *App) openRecordStore(ctx context.Context, ephemeral bool) (store.ExamStore, store.AccountDirectory, error) {
	if ephemeral || a.Env.StoreBackend != "firestore" {
		mem := store.NewMemoryStore()
		return mem, mem, nil
	}
	fs, err := store.NewFirestoreStore(ctx, a.Env.GCPProject)
	if err != nil {
		return nil, nil, err
	}
	a.onClose(fs.Close)
	log.Printf("[App-Store] 使用 Firestore 记录存储 (project=%s)", a.Env.GCPProject)
	return fs, fs, nil
}

func (a *App) openArchive(ctx context.Context, ephemeral bool) (archive.DocumentArchive, error) {
	if ephemeral {
		return archive.Nop{}, nil
	}
	switch a.Env.ArchiveBackend {
	case "gcs":
		g, err := archive.NewGCSArchive(ctx, a.Env.ArchiveBucket)
		if err != nil {
			return nil, err
		}
		a.onClose(g.Close)
		log.Printf("[App-Archive] 原始文档归档到 GCS bucket %s", a.Env.ArchiveBucket)
		return g, nil
	case "minio":
		m, err := archive.NewMinioArchive(archive.MinioConfig{
			Endpoint:  a.Env.MinioEndpoint,
			AccessKey: a.Env.MinioAccessKey,
			SecretKey: a.Env.MinioSecretKey,
			Bucket:    a.Env.ArchiveBucket,
			UseSSL:    a.Env.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		log.Printf("[App-Archive] 原始文档归档到 MinIO %s/%s", a.Env.MinioEndpoint, a.Env.ArchiveBucket)
		return m, nil
	case "", "none":
		return archive.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", a.Env.ArchiveBackend)
	}
}

// buildProviders 缺少凭据的提供商只记警告，不阻止启动
func (a *App) buildProviders(ctx context.Context) *providers.Registry {
	reg := providers.NewRegistry()

	if gemini, err := providers.NewGeminiProvider(ctx, a.Env.GCPProject, a.Env.GCPRegion); err != nil {
		log.Printf("[App-Providers] 警告: Gemini 不可用: %v", err)
	} else {
		reg.Register(gemini)
		a.onClose(gemini.Close)
	}

	if claude, err := providers.NewClaudeProvider(a.Env.AnthropicAPIKey); err != nil {
		log.Printf("[App-Providers] 警告: Claude 不可用: %v", err)
	} else {
		reg.Register(claude)
		log.Printf("[App-Providers] Claude 已启用 (key=%s)", utils.MaskAPIKey(a.Env.AnthropicAPIKey))
	}

	clients := httpclient.NewManager(time.Duration(a.Env.ResponseHeaderTimeout) * time.Second)
	if openai, err := providers.NewOpenAIProvider(a.Env.OpenAIBaseURL, a.Env.OpenAIAPIKey, a.Env.ProviderCallTimeout(), clients); err != nil {
		log.Printf("[App-Providers] 警告: OpenAI 回退不可用: %v", err)
	} else {
		reg.Register(openai)
		log.Printf("[App-Providers] OpenAI 回退已启用 (baseURL=%s, key=%s)",
			utils.RedactURLCredentials(a.Env.OpenAIBaseURL), utils.MaskAPIKey(a.Env.OpenAIAPIKey))
	}

	log.Printf("[App-Providers] 已注册提供商: %v", reg.Names())
	return reg
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close 先排空后台队列，再按创建的逆序释放资源
func (a *App) Close() error {
	if a.Worker != nil {
		a.Worker.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
