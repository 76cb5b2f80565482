package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/auth"
	"github.com/TheOnlyBaddy/Blocklance/internal/chain"
	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/escrow"
	"github.com/TheOnlyBaddy/Blocklance/internal/ledger"
	"github.com/TheOnlyBaddy/Blocklance/internal/listener"
	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/TheOnlyBaddy/Blocklance/internal/notify"
	"github.com/TheOnlyBaddy/Blocklance/internal/repository"
	"github.com/TheOnlyBaddy/Blocklance/internal/router"
	"github.com/TheOnlyBaddy/Blocklance/internal/task"
	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	logger.Setup(cfg.Log)

	// 初始化数据库
	db, err := repository.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化链客户端
	chainClient, err := chain.NewClient(cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to initialize chain client: %v", err)
	}

	// 组装托管对账核心
	store := ledger.NewStore(db)
	sink := notify.NewDBSink(db)
	orchestrator := escrow.NewOrchestrator(db, store, chainClient, sink, cfg.Retry)

	// 启动事件监听器
	lst, err := listener.NewListener(chainClient, orchestrator, db, listener.Options{
		PollInterval: time.Duration(cfg.Chain.PollInterval) * time.Second,
		BatchSize:    cfg.Chain.BatchSize,
		ContractAddr: chainClient.GetEscrowAddress().Hex(),
	})
	if err != nil {
		logger.Fatal("Failed to create event listener: %v", err)
	}
	if err := lst.Start(); err != nil {
		logger.Fatal("Failed to start event listener: %v", err)
	}

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	authManager := auth.NewManager(cfg.Auth)
	r := router.Setup(db, orchestrator, authManager, cfg)

	// 启动定时任务
	taskManager := task.Start(db, store, orchestrator, lst, chainClient, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// 优雅停机：先停后台任务和监听器，游标已持久化，重启后续拉
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	taskManager.Stop()
	lst.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}

	chainClient.Close()
	logger.Info("Server exited")
}
