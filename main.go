package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BenedictKing/laudo/internal/app"
	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/handlers"
	"github.com/BenedictKing/laudo/internal/logger"
	"github.com/BenedictKing/laudo/internal/middleware"

	"github.com/gin-gonic/gin"
)

// version 构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

func main() {
	envCfg := config.NewEnvConfig()
	logCloser := logger.Setup(envCfg)
	defer logCloser.Close()

	if envCfg.JWTSecret == "" {
		log.Fatal("[Main-Init] JWT_SECRET 未设置，拒绝启动")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, envCfg, app.Options{})
	if err != nil {
		log.Fatalf("[Main-Init] 初始化失败: %v", err)
	}

	if !envCfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(envCfg.ShouldLog("debug")))

	var stats handlers.ModelSummarizer
	if application.CostStore != nil {
		stats = application.CostStore
	}
	handlers.Register(r, handlers.Server{
		Version:         version,
		JWTSecret:       envCfg.JWTSecret,
		Config:          application.Config,
		Analyzer:        application.Pipeline,
		Guard:           application.Guard,
		Hub:             application.Hub,
		Stats:           stats,
		CallLogs:        application.CallLogs,
		Background:      application.Worker,
		Providers:       application.Registry.Names(),
		MaxDocumentSize: envCfg.MaxDocumentSize,
		PipelineTimeout: envCfg.PipelineDeadline(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", envCfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[Main-Server] laudo %s 监听 %s (env=%s)", version, srv.Addr, envCfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Main-Server] 服务启动失败: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Main-Shutdown] 收到退出信号，开始优雅关闭")

	// 等待进行中的流水线结束，上限为流水线超时
	shutdownCtx, cancel := context.WithTimeout(context.Background(), envCfg.PipelineDeadline()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main-Shutdown] HTTP 服务关闭超时: %v", err)
	}
	if err := application.Close(); err != nil {
		log.Printf("[Main-Shutdown] 释放资源失败: %v", err)
	}
	log.Printf("[Main-Shutdown] 已退出")
}
