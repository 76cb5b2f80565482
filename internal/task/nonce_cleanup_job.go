package task

import (
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/TheOnlyBaddy/Blocklance/internal/logic"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// NonceCleanupJob 登录挑战清理任务
type NonceCleanupJob struct {
	nonceLogic *logic.NonceLogic
	config     *config.Config
}

// NewNonceCleanupJob 创建nonce清理任务
func NewNonceCleanupJob(db *gorm.DB, cfg *config.Config) *NonceCleanupJob {
	return &NonceCleanupJob{
		nonceLogic: logic.NewNonceLogic(db, cfg.Auth.NonceTTL),
		config:     cfg,
	}
}

// GetName 获取任务名称
func (j *NonceCleanupJob) GetName() string {
	return "nonce_cleaner"
}

// GetSchedule 获取调度配置
func (j *NonceCleanupJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(10 * time.Minute)
}

// Execute 执行任务
func (j *NonceCleanupJob) Execute() {
	deleted, err := j.nonceLogic.CleanupExpired()
	if err != nil {
		logger.Error("Failed to cleanup expired nonces: %v", err)
		return
	}
	if deleted > 0 {
		logger.Info("Cleaned up %d expired nonces", deleted)
	}
}
