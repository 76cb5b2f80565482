package router

import (
	"github.com/TheOnlyBaddy/Blocklance/internal/auth"
	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/escrow"
	"github.com/TheOnlyBaddy/Blocklance/internal/handler"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(db *gorm.DB, orchestrator *escrow.Orchestrator, authManager *auth.Manager, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "blocklance-service",
		})
	})

	// API版本组
	v1 := r.Group("/api/v1")
	{
		// 鉴权相关路由（无需token）
		authHandler := handler.NewAuthHandler(db, authManager, cfg.Auth.NonceTTL)
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/nonce", authHandler.IssueNonce)
			authGroup.POST("/login", authHandler.Login)
		}

		// 项目相关路由
		projectHandler := handler.NewProjectHandler(db)
		projects := v1.Group("/projects")
		{
			projects.GET("", projectHandler.GetProjects)
			projects.GET("/:id", projectHandler.GetProject)
			projects.POST("", authManager.Middleware(), projectHandler.CreateProject)
			projects.POST("/:id/assign", authManager.Middleware(), projectHandler.AssignFreelancer)
		}

		// 托管交易相关路由
		transactionHandler := handler.NewTransactionHandler(db, orchestrator)
		transactions := v1.Group("/transactions")
		{
			transactions.GET("/project/:projectId", transactionHandler.GetProjectTransactions)
			transactions.POST("/fund", authManager.Middleware(), transactionHandler.FundEscrow)
			transactions.POST("/:id/release", authManager.Middleware(), transactionHandler.ReleaseEscrow)
		}

		// 通知相关路由
		notificationHandler := handler.NewNotificationHandler(db)
		notifications := v1.Group("/notifications", authManager.Middleware())
		{
			notifications.GET("", notificationHandler.GetNotifications)
			notifications.PUT("/:id/read", notificationHandler.MarkRead)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
