package logic

import (
	"fmt"

	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"gorm.io/gorm"
)

// NotificationLogic 通知业务逻辑
type NotificationLogic struct {
	db *gorm.DB
}

// NewNotificationLogic 创建通知业务逻辑
func NewNotificationLogic(db *gorm.DB) *NotificationLogic {
	return &NotificationLogic{db: db}
}

// GetUserNotifications 获取用户通知列表
func (n *NotificationLogic) GetUserNotifications(receiverId int64, page, pageSize int) ([]model.NotificationModel, int64, error) {
	var notifications []model.NotificationModel
	var total int64

	query := n.db.Model(&model.NotificationModel{}).Where("receiver_id = ?", receiverId)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("获取通知总数失败: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&notifications).Error; err != nil {
		return nil, 0, fmt.Errorf("获取通知列表失败: %w", err)
	}

	return notifications, total, nil
}

// MarkRead 标记通知已读，只能标自己的
func (n *NotificationLogic) MarkRead(id, receiverId int64) error {
	result := n.db.Model(&model.NotificationModel{}).
		Where("id = ? AND receiver_id = ?", id, receiverId).
		Update("is_read", true)
	if result.Error != nil {
		return fmt.Errorf("标记通知已读失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NotFound("通知不存在")
	}

	return nil
}
