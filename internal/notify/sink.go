package notify

import (
	"context"

	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"gorm.io/gorm"
)

// Sink 通知出口
// 尽力而为：只在台账落库之后调用，失败只记日志，绝不回滚台账
type Sink interface {
	Notify(ctx context.Context, n *model.NotificationModel)
}

// DBSink 落库通知实现，站内信由前端轮询或socket网关消费
type DBSink struct {
	db *gorm.DB
}

// NewDBSink 创建落库通知出口
func NewDBSink(db *gorm.DB) *DBSink {
	return &DBSink{db: db}
}

// Notify 写入通知记录
func (s *DBSink) Notify(ctx context.Context, n *model.NotificationModel) {
	if n == nil || n.ReceiverId == 0 {
		return
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		logger.Error("Failed to persist notification for user %d: %v", n.ReceiverId, err)
	}
}
