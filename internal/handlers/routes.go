package handlers

import (
	"time"

	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/fairuse"
	"github.com/BenedictKing/laudo/internal/metrics"
	"github.com/BenedictKing/laudo/internal/middleware"
	"github.com/BenedictKing/laudo/internal/notify"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/gin-gonic/gin"
)

// Server 路由依赖；Stats / CallLogs / Hub / Background 可为空
type Server struct {
	Version         string
	JWTSecret       string
	Config          *config.ConfigManager
	Analyzer        ExamAnalyzer
	Guard           *fairuse.Guard
	Hub             *notify.Hub
	Stats           ModelSummarizer
	CallLogs        *metrics.CallLogStore
	Background      StatsSource
	Providers       []string
	MaxDocumentSize int64
	PipelineTimeout time.Duration
}

// Register 挂载全部路由
func Register(r *gin.Engine, s Server) {
	r.GET("/health", Health(s.Version, s.Providers, s.Background))

	api := r.Group("/api/v1", middleware.Auth(s.JWTSecret))
	api.POST("/exams/analyze",
		middleware.FairUse(s.Guard, types.ResourceRequests),
		AnalyzeExam(s.Analyzer, s.MaxDocumentSize, s.PipelineTimeout))
	api.GET("/usage", GetUsage(s.Guard))
	if s.Hub != nil {
		api.GET("/events", StreamEvents(s.Hub))
	}

	admin := api.Group("/admin", middleware.AdminOnly())
	admin.GET("/models/stats", GetModelStats(s.Stats))
	if s.CallLogs != nil {
		admin.GET("/providers", ListProviderLogs(s.CallLogs))
		admin.GET("/providers/:name/logs", GetProviderLogs(s.CallLogs))
	}
	admin.GET("/fairuse", GetFairUse(s.Config))
	admin.PUT("/fairuse", SetFairUse(s.Config))
}
